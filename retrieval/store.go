// Package retrieval provides the vector-similarity document store the
// simulation engine uses for semantic lookup over narrative text.
package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/tmc/langchaingo/embeddings"
)

// Store is a keyed collection of text documents searchable by semantic
// similarity
type Store interface {
	// InitFromData bulk-loads docs into the named collection, skipping
	// indices that were already ingested so interrupted loads can resume
	InitFromData(ctx context.Context, docs []string, collection string) error
	// Search returns at most min(topK, collection size) documents ranked by
	// similarity to query. Unknown or empty collections yield no results.
	Search(ctx context.Context, query string, topK int, collection string) ([]string, error)
	// Add upserts a document: the collection is created lazily, an existing
	// id is updated in place, otherwise the document is inserted
	Add(ctx context.Context, text, id, collection string) error
	// Delete removes a document by id
	Delete(ctx context.Context, id, collection string) error
}

type document struct {
	id     string
	text   string
	vector []float32
}

type collection struct {
	docs []document
}

func (c *collection) index(id string) int {
	for i, d := range c.docs {
		if d.id == id {
			return i
		}
	}
	return -1
}

// MemoryStore is an in-process Store backed by an embeddings.Embedder and a
// cosine-similarity index. All methods are safe for concurrent use.
type MemoryStore struct {
	mu          sync.RWMutex
	embedder    embeddings.Embedder
	collections map[string]*collection
}

// NewMemoryStore creates a MemoryStore using embedder to vectorize documents
func NewMemoryStore(embedder embeddings.Embedder) *MemoryStore {
	return &MemoryStore{
		embedder:    embedder,
		collections: make(map[string]*collection),
	}
}

func (s *MemoryStore) getOrCreate(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = &collection{}
		s.collections[name] = c
	}
	return c
}

// InitFromData bulk-loads docs into the named collection. Documents are keyed
// by their index, and indices below the current collection count are skipped
// so a partially-completed load can be resumed.
func (s *MemoryStore) InitFromData(ctx context.Context, docs []string, collection string) error {
	s.mu.Lock()
	c := s.getOrCreate(collection)
	start := len(c.docs)
	s.mu.Unlock()

	if start >= len(docs) {
		return nil
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, docs[start:])
	if err != nil {
		return fmt.Errorf("embedding documents for %s: %w", collection, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, vec := range vectors {
		idx := start + i
		c.docs = append(c.docs, document{
			id:     strconv.Itoa(idx),
			text:   docs[idx],
			vector: vec,
		})
	}
	return nil
}

// Search returns the topK most similar documents in the collection
func (s *MemoryStore) Search(ctx context.Context, query string, topK int, collection string) ([]string, error) {
	s.mu.RLock()
	c, ok := s.collections[collection]
	if !ok || len(c.docs) == 0 || topK < 1 {
		s.mu.RUnlock()
		return nil, nil
	}
	docs := make([]document, len(c.docs))
	copy(docs, c.docs)
	s.mu.RUnlock()

	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	type scored struct {
		text  string
		score float64
	}
	results := make([]scored, 0, len(docs))
	for _, d := range docs {
		results = append(results, scored{text: d.text, score: cosineSimilarity(vec, d.vector)})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})

	if topK > len(results) {
		topK = len(results)
	}
	texts := make([]string, 0, topK)
	for _, r := range results[:topK] {
		texts = append(texts, r.text)
	}
	return texts, nil
}

// Add upserts a document into the collection, creating the collection if needed
func (s *MemoryStore) Add(ctx context.Context, text, id, collection string) error {
	vec, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return fmt.Errorf("embedding document %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.getOrCreate(collection)
	if i := c.index(id); i >= 0 {
		c.docs[i].text = text
		c.docs[i].vector = vec
		return nil
	}
	c.docs = append(c.docs, document{id: id, text: text, vector: vec})
	return nil
}

// Delete removes a document by id. Unknown ids and collections are no-ops.
func (s *MemoryStore) Delete(ctx context.Context, id, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[collection]
	if !ok {
		return nil
	}
	if i := c.index(id); i >= 0 {
		c.docs = append(c.docs[:i], c.docs[i+1:]...)
	}
	return nil
}

// Count returns the number of documents in the collection
func (s *MemoryStore) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.collections[collection]; ok {
		return len(c.docs)
	}
	return 0
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
