package retrieval

import (
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// Model aliases accepted in configuration. Unrecognized names fall through to
// the OpenAI embedding API.
var embeddingAliases = map[string]string{
	"bge-m3": "BAAI/bge-m3",
	"bge":    "BAAI/bge-large-en",
	"luotuo": "silk-road/luotuo-bert-medium",
	"bert":   "google-bert/bert-base-multilingual-cased",
}

const defaultOpenAIEmbeddingModel = "text-embedding-ada-002"

// ResolveEmbeddingModel maps a configured embedding alias to its full model
// name. Unknown aliases resolve to the default OpenAI embedding model.
func ResolveEmbeddingModel(name string) string {
	if full, ok := embeddingAliases[name]; ok {
		return full
	}
	return defaultOpenAIEmbeddingModel
}

// NewEmbedder builds the embedding function for the given model name. Aliased
// local models are served through an OpenAI-compatible endpoint when baseURL
// is set; otherwise the OpenAI embedding API is used directly.
func NewEmbedder(name, apiKey, baseURL string) (embeddings.Embedder, error) {
	model := ResolveEmbeddingModel(name)

	opts := []openai.Option{
		openai.WithEmbeddingModel(model),
	}
	if apiKey != "" {
		opts = append(opts, openai.WithToken(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating embedding client for %s: %w", model, err)
	}

	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("creating embedder for %s: %w", model, err)
	}
	return embedder, nil
}
