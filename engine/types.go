// Package engine implements the simulation engine that owns world, character
// and scene state and produces narrative events on demand.
package engine

import "encoding/json"

// Record is one narrative or chat entry as it appears on the wire and in the
// history store
type Record struct {
	ID        string `json:"uuid,omitempty"`
	Username  string `json:"username"`
	Timestamp string `json:"timestamp"`
	Text      string `json:"text"`
	Icon      string `json:"icon"`
	// Kind distinguishes special entries (story, system); empty for regular
	// character messages
	Kind string `json:"type,omitempty"`
}

// Status is the engine's current simulation state snapshot
type Status struct {
	Scene   string `json:"scene"`
	Round   int    `json:"round"`
	Mode    string `json:"mode"`
	Speaker string `json:"speaker,omitempty"`
}

// Character is one role in the simulated world
type Character struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Icon    string `json:"icon"`
	Persona string `json:"persona,omitempty"`
}

// Scene groups a subset of characters
type Scene struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	CharacterIDs []string `json:"character_ids"`
}

// Preset is the on-disk world definition loaded at startup
type Preset struct {
	WorldName   string          `json:"world_name"`
	Description string          `json:"description"`
	Characters  []Character     `json:"characters"`
	Scenes      []Scene         `json:"scenes"`
	Map         json.RawMessage `json:"map"`
	Settings    json.RawMessage `json:"settings"`
	Lore        []string        `json:"lore"`
}

// TimestampFormat matches the timestamp layout used by the frontend
const TimestampFormat = "2006-01-02 15:04:05"
