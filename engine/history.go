package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bookworld/bookworld/internal/slogging"
	"github.com/redis/go-redis/v9"
)

// HistoryStore persists the chat record stream for a save directory so a
// reconnecting client can replay it
type HistoryStore interface {
	// Append adds one record to the end of the stream
	Append(ctx context.Context, saveDir string, rec Record) error
	// List returns the full stream in insertion order
	List(ctx context.Context, saveDir string) ([]Record, error)
	// Edit rewrites the text of the record with the given id. It reports
	// whether a record was found; an unknown id is not an error.
	Edit(ctx context.Context, saveDir, recordID, newText string) (bool, error)
}

// historyKey namespaces stream keys per save directory
func historyKey(saveDir string) string {
	return "bookworld:history:" + saveDir
}

// RedisHistory stores the record stream in a Redis list
type RedisHistory struct {
	client *redis.Client
}

// NewRedisHistory creates a Redis-backed history store and verifies the
// connection
func NewRedisHistory(ctx context.Context, opts *redis.Options) (*RedisHistory, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisHistory{client: client}, nil
}

// NewRedisHistoryFromClient wraps an existing client, used by tests
func NewRedisHistoryFromClient(client *redis.Client) *RedisHistory {
	return &RedisHistory{client: client}
}

// Close releases the underlying connection pool
func (h *RedisHistory) Close() error {
	return h.client.Close()
}

// Append adds one record to the end of the stream
func (h *RedisHistory) Append(ctx context.Context, saveDir string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling history record: %w", err)
	}
	if err := h.client.RPush(ctx, historyKey(saveDir), data).Err(); err != nil {
		return fmt.Errorf("appending history record: %w", err)
	}
	return nil
}

// List returns the full stream in insertion order
func (h *RedisHistory) List(ctx context.Context, saveDir string) ([]Record, error) {
	entries, err := h.client.LRange(ctx, historyKey(saveDir), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	records := make([]Record, 0, len(entries))
	for _, entry := range entries {
		var rec Record
		if err := json.Unmarshal([]byte(entry), &rec); err != nil {
			slogging.Get().Warn("Skipping unreadable history entry: %v", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Edit rewrites the text of the record with the given id
func (h *RedisHistory) Edit(ctx context.Context, saveDir, recordID, newText string) (bool, error) {
	key := historyKey(saveDir)
	entries, err := h.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return false, fmt.Errorf("listing history for edit: %w", err)
	}
	for i, entry := range entries {
		var rec Record
		if err := json.Unmarshal([]byte(entry), &rec); err != nil {
			continue
		}
		if rec.ID != recordID {
			continue
		}
		rec.Text = newText
		data, err := json.Marshal(rec)
		if err != nil {
			return false, fmt.Errorf("marshaling edited record: %w", err)
		}
		if err := h.client.LSet(ctx, key, int64(i), data).Err(); err != nil {
			return false, fmt.Errorf("writing edited record: %w", err)
		}
		return true, nil
	}
	return false, nil
}

// FileHistory stores the record stream as a JSON file under the save
// directory. It is the fallback when Redis is not configured.
type FileHistory struct {
	mu sync.Mutex
}

// NewFileHistory creates a file-backed history store
func NewFileHistory() *FileHistory {
	return &FileHistory{}
}

func historyFile(saveDir string) string {
	return filepath.Join(saveDir, "history_messages.json")
}

func (h *FileHistory) load(saveDir string) ([]Record, error) {
	data, err := os.ReadFile(historyFile(saveDir)) // #nosec G304
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading history file: %w", err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing history file: %w", err)
	}
	return records, nil
}

func (h *FileHistory) save(saveDir string, records []Record) error {
	if err := os.MkdirAll(saveDir, 0750); err != nil {
		return fmt.Errorf("creating save directory: %w", err)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling history: %w", err)
	}
	if err := os.WriteFile(historyFile(saveDir), data, 0640); err != nil { // #nosec G306
		return fmt.Errorf("writing history file: %w", err)
	}
	return nil
}

// Append adds one record to the end of the stream
func (h *FileHistory) Append(ctx context.Context, saveDir string, rec Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	records, err := h.load(saveDir)
	if err != nil {
		return err
	}
	return h.save(saveDir, append(records, rec))
}

// List returns the full stream in insertion order
func (h *FileHistory) List(ctx context.Context, saveDir string) ([]Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.load(saveDir)
}

// Edit rewrites the text of the record with the given id
func (h *FileHistory) Edit(ctx context.Context, saveDir, recordID, newText string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	records, err := h.load(saveDir)
	if err != nil {
		return false, err
	}
	for i := range records {
		if records[i].ID == recordID {
			records[i].Text = newText
			return true, h.save(saveDir, records)
		}
	}
	return false, nil
}
