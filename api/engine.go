package api

import (
	"context"
	"encoding/json"

	"github.com/bookworld/bookworld/engine"
)

// Engine is the simulation engine contract consumed by the hub. The engine
// serializes its own mutating calls; the hub only guarantees it stops issuing
// calls once a generation task is cancelled.
type Engine interface {
	// Pure reads
	CharactersInfo() []engine.Character
	MapInfo() json.RawMessage
	SettingsInfo() json.RawMessage
	CurrentStatus() engine.Status
	HistoryMessages(ctx context.Context, saveDir string) ([]engine.Record, error)

	// GenerateNextMessage may block on model inference; it is called once per
	// generation-loop iteration
	GenerateNextMessage(ctx context.Context) (engine.Record, error)
	// GenerateStory synthesizes a story excerpt synchronously
	GenerateStory(ctx context.Context) (string, error)

	// Mutating commands
	SelectScene(sceneID string) error
	HandleMessageEdit(ctx context.Context, recordID, newText string) error
	UpdateAPISettings(provider, model string) error
}
