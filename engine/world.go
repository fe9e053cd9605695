package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bookworld/bookworld/internal/slogging"
	"github.com/bookworld/bookworld/retrieval"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
)

// Options configures a World
type Options struct {
	// PresetPath is the world definition file to load
	PresetPath string
	// Provider selects the initial LLM provider (openai, anthropic, ollama)
	Provider string
	// WorldModel is the model used for story synthesis
	WorldModel string
	// RoleModel is the model used for per-character messages
	RoleModel string
	// OllamaHost is the server URL for the ollama provider
	OllamaHost string
	// SaveDir keys the history stream
	SaveDir string
	// Mode and SceneMode are carried into the status snapshot
	Mode      string
	SceneMode string
	// Rounds caps the round counter reported in status
	Rounds int
	// TopK bounds retrieval lookups per generated message
	TopK int
	// Credentials supplies API keys to the provider factory
	Credentials *CredentialStore
	// Store is the retrieval store used for lore lookups
	Store retrieval.Store
	// History persists the generated record stream
	History HistoryStore

	// WorldLLM and RoleLLM bypass the provider factory when set. Used by
	// tests and custom model integrations.
	WorldLLM llms.Model
	RoleLLM  llms.Model
}

// World is the simulation engine. Mutating calls are serialized through an
// internal mutex; read accessors may run concurrently with each other.
type World struct {
	mu sync.RWMutex

	preset Preset
	opts   Options

	provider   string
	worldModel string
	roleModel  string
	worldLLM   llms.Model
	roleLLM    llms.Model

	currentScene string
	round        int
	nextSpeaker  int
	lastText     string

	logger *slogging.Logger
}

// loreCollection names the retrieval collection holding world lore
func loreCollection(worldName string) string {
	return "lore:" + worldName
}

// NewWorld loads the preset, builds the initial LLM clients and ingests the
// world lore into the retrieval store
func NewWorld(ctx context.Context, opts Options) (*World, error) {
	data, err := os.ReadFile(opts.PresetPath) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("reading preset %s: %w", opts.PresetPath, err)
	}
	var preset Preset
	if err := json.Unmarshal(data, &preset); err != nil {
		return nil, fmt.Errorf("parsing preset %s: %w", opts.PresetPath, err)
	}
	if len(preset.Characters) == 0 {
		return nil, fmt.Errorf("preset %s defines no characters", opts.PresetPath)
	}

	if opts.Credentials == nil {
		opts.Credentials = NewCredentialStore()
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}

	w := &World{
		preset:     preset,
		opts:       opts,
		provider:   opts.Provider,
		worldModel: opts.WorldModel,
		roleModel:  opts.RoleModel,
		logger:     slogging.Get(),
	}

	w.worldLLM, w.roleLLM = opts.WorldLLM, opts.RoleLLM
	if w.worldLLM == nil {
		w.worldLLM, err = newModel(w.provider, w.worldModel, opts.Credentials, opts.OllamaHost)
		if err != nil {
			return nil, err
		}
	}
	if w.roleLLM == nil {
		w.roleLLM, err = newModel(w.provider, w.roleModel, opts.Credentials, opts.OllamaHost)
		if err != nil {
			return nil, err
		}
	}

	if opts.Store != nil && len(preset.Lore) > 0 {
		if err := opts.Store.InitFromData(ctx, preset.Lore, loreCollection(preset.WorldName)); err != nil {
			return nil, fmt.Errorf("ingesting world lore: %w", err)
		}
	}

	return w, nil
}

// CharactersInfo returns the roster for the current scene, or the full roster
// when no scene is selected
func (w *World) CharactersInfo() []Character {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.sceneRoster()
}

// sceneRoster must be called with at least a read lock held
func (w *World) sceneRoster() []Character {
	if w.currentScene == "" {
		return append([]Character(nil), w.preset.Characters...)
	}
	for _, scene := range w.preset.Scenes {
		if scene.ID != w.currentScene {
			continue
		}
		var roster []Character
		for _, c := range w.preset.Characters {
			for _, id := range scene.CharacterIDs {
				if c.ID == id {
					roster = append(roster, c)
					break
				}
			}
		}
		return roster
	}
	return append([]Character(nil), w.preset.Characters...)
}

// MapInfo returns the preset map data
func (w *World) MapInfo() json.RawMessage {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.preset.Map
}

// SettingsInfo returns the preset settings data
func (w *World) SettingsInfo() json.RawMessage {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.preset.Settings
}

// CurrentStatus returns a snapshot of the simulation state
func (w *World) CurrentStatus() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	status := Status{
		Scene: w.currentScene,
		Round: w.round,
		Mode:  w.opts.Mode,
	}
	roster := w.sceneRoster()
	if len(roster) > 0 {
		status.Speaker = roster[w.nextSpeaker%len(roster)].Name
	}
	return status
}

// HistoryMessages replays the persisted record stream for the save directory
func (w *World) HistoryMessages(ctx context.Context, saveDir string) ([]Record, error) {
	if w.opts.History == nil {
		return nil, nil
	}
	return w.opts.History.List(ctx, saveDir)
}

// GenerateNextMessage produces the next narrative event: the next character
// in the scene roster speaks, grounded in retrieved lore and the previous
// event. The record is appended to history before returning.
func (w *World) GenerateNextMessage(ctx context.Context) (Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	roster := w.sceneRoster()
	if len(roster) == 0 {
		return Record{}, fmt.Errorf("no characters available in scene %q", w.currentScene)
	}
	speaker := roster[w.nextSpeaker%len(roster)]

	prompt, err := w.buildRolePrompt(ctx, speaker)
	if err != nil {
		return Record{}, err
	}

	text, err := llms.GenerateFromSinglePrompt(ctx, w.roleLLM, prompt)
	if err != nil {
		return Record{}, fmt.Errorf("generating message for %s: %w", speaker.Name, err)
	}
	text = strings.TrimSpace(text)

	rec := Record{
		ID:        uuid.New().String(),
		Username:  speaker.Name,
		Timestamp: time.Now().Format(TimestampFormat),
		Text:      text,
		Icon:      speaker.Icon,
	}

	w.nextSpeaker++
	if w.nextSpeaker%len(roster) == 0 {
		w.round++
	}
	w.lastText = text

	if w.opts.History != nil {
		if err := w.opts.History.Append(ctx, w.opts.SaveDir, rec); err != nil {
			w.logger.Warn("Failed to persist history record %s: %v", rec.ID, err)
		}
	}

	return rec, nil
}

// buildRolePrompt must be called with the write lock held
func (w *World) buildRolePrompt(ctx context.Context, speaker Character) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s in the world %q.\n", speaker.Name, w.preset.WorldName)
	if speaker.Persona != "" {
		fmt.Fprintf(&b, "Persona: %s\n", speaker.Persona)
	}
	if w.preset.Description != "" {
		fmt.Fprintf(&b, "World: %s\n", w.preset.Description)
	}

	if w.opts.Store != nil {
		query := w.lastText
		if query == "" {
			query = speaker.Persona
		}
		if query != "" {
			lore, err := w.opts.Store.Search(ctx, query, w.opts.TopK, loreCollection(w.preset.WorldName))
			if err != nil {
				return "", fmt.Errorf("retrieving lore: %w", err)
			}
			if len(lore) > 0 {
				fmt.Fprintf(&b, "Relevant lore:\n- %s\n", strings.Join(lore, "\n- "))
			}
		}
	}

	if w.lastText != "" {
		fmt.Fprintf(&b, "The previous event was: %s\n", w.lastText)
	}
	b.WriteString("Continue the story with one short in-character message.")
	return b.String(), nil
}

// GenerateStory synthesizes a narrative excerpt from the history so far
func (w *World) GenerateStory(ctx context.Context) (string, error) {
	w.mu.RLock()
	llm := w.worldLLM
	worldName := w.preset.WorldName
	description := w.preset.Description
	w.mu.RUnlock()

	var records []Record
	if w.opts.History != nil {
		var err error
		records, err = w.opts.History.List(ctx, w.opts.SaveDir)
		if err != nil {
			return "", fmt.Errorf("loading history for story synthesis: %w", err)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Write a short story excerpt set in the world %q.\n", worldName)
	if description != "" {
		fmt.Fprintf(&b, "World: %s\n", description)
	}
	if len(records) > 0 {
		b.WriteString("Events so far:\n")
		// Only the most recent events fit the prompt budget
		start := 0
		if len(records) > 20 {
			start = len(records) - 20
		}
		for _, rec := range records[start:] {
			fmt.Fprintf(&b, "%s: %s\n", rec.Username, rec.Text)
		}
	}

	text, err := llms.GenerateFromSinglePrompt(ctx, llm, b.String())
	if err != nil {
		return "", fmt.Errorf("generating story: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// SelectScene switches the active scene; an unknown scene id is rejected
func (w *World) SelectScene(sceneID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if sceneID == "" {
		w.currentScene = ""
		w.nextSpeaker = 0
		return nil
	}
	for _, scene := range w.preset.Scenes {
		if scene.ID == sceneID {
			w.currentScene = sceneID
			w.nextSpeaker = 0
			return nil
		}
	}
	return fmt.Errorf("unknown scene %q", sceneID)
}

// HandleMessageEdit rewrites the text of a previously emitted record. An
// unknown record id is a silent no-op.
func (w *World) HandleMessageEdit(ctx context.Context, recordID, newText string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.opts.History == nil {
		return nil
	}
	found, err := w.opts.History.Edit(ctx, w.opts.SaveDir, recordID, newText)
	if err != nil {
		return fmt.Errorf("editing record %s: %w", recordID, err)
	}
	if !found {
		w.logger.Debug("Edit requested for unknown record %s", recordID)
		return nil
	}
	if w.lastText != "" && recordID != "" {
		// Keep the generation context in sync when the latest event was edited
		records, err := w.opts.History.List(ctx, w.opts.SaveDir)
		if err == nil && len(records) > 0 && records[len(records)-1].ID == recordID {
			w.lastText = newText
		}
	}
	return nil
}

// UpdateAPISettings switches the active provider and model for subsequent
// generation calls. Credentials are read from the credential store.
func (w *World) UpdateAPISettings(provider, model string) error {
	if _, ok := Providers()[provider]; !ok {
		return fmt.Errorf("unknown llm provider %q", provider)
	}

	worldLLM, err := newModel(provider, model, w.opts.Credentials, w.opts.OllamaHost)
	if err != nil {
		return err
	}
	roleLLM, err := newModel(provider, model, w.opts.Credentials, w.opts.OllamaHost)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.provider = provider
	w.worldModel = model
	w.roleModel = model
	w.worldLLM = worldLLM
	w.roleLLM = roleLLM
	w.logger.Info("LLM settings updated - provider: %s, model: %s", provider, model)
	return nil
}
