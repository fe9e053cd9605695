package api

import (
	"encoding/json"

	"github.com/bookworld/bookworld/engine"
)

// Inbound message types
const (
	MessageTypeUserMessage            = "user_message"
	MessageTypeControl                = "control"
	MessageTypeEditMessage            = "edit_message"
	MessageTypeRequestSceneCharacters = "request_scene_characters"
	MessageTypeGenerateStory          = "generate_story"
	MessageTypeRequestAPIConfigs      = "request_api_configs"
	MessageTypeAPISettings            = "api_settings"
)

// Control actions
const (
	ControlActionStart = "start"
	ControlActionPause = "pause"
	ControlActionStop  = "stop"
)

// Outbound frame types
const (
	FrameTypeInitialData     = "initial_data"
	FrameTypeMessage         = "message"
	FrameTypeStatusUpdate    = "status_update"
	FrameTypeSceneCharacters = "scene_characters"
	FrameTypeAPIConfigs      = "api_configs"
	FrameTypeError           = "error"
)

// InboundMessage is one decoded client frame, discriminated by Type
type InboundMessage struct {
	Type      string          `json:"type"`
	Action    string          `json:"action,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Text      string          `json:"text,omitempty"`
	Scene     string          `json:"scene,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// EditMessageData carries an edit_message payload
type EditMessageData struct {
	UUID string `json:"uuid"`
	Text string `json:"text"`
}

// APISettingsData carries an api_settings payload
type APISettingsData struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	EnvKey   string `json:"envKey"`
	APIKey   string `json:"apiKey"`
}

// ParseInbound decodes one inbound frame. A frame that is not valid JSON or
// has no type tag yields a MalformedMessageError.
func ParseInbound(raw []byte) (InboundMessage, error) {
	var msg InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return InboundMessage{}, &MalformedMessageError{Reason: "invalid JSON frame"}
	}
	if msg.Type == "" {
		return InboundMessage{}, &MalformedMessageError{Reason: "missing type field"}
	}
	return msg, nil
}

// Frame is one outbound message with a top-level type tag
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// InitialData is the snapshot sent once per connection, immediately after the
// handshake
type InitialData struct {
	Characters      []engine.Character `json:"characters"`
	Map             json.RawMessage    `json:"map"`
	Settings        json.RawMessage    `json:"settings"`
	Status          engine.Status      `json:"status"`
	HistoryMessages []engine.Record    `json:"history_messages"`
}

// NewMessageFrame wraps a record as a message frame
func NewMessageFrame(rec engine.Record) Frame {
	return Frame{Type: FrameTypeMessage, Data: rec}
}

// NewStatusFrame wraps an engine status snapshot as a status_update frame
func NewStatusFrame(status engine.Status) Frame {
	return Frame{Type: FrameTypeStatusUpdate, Data: status}
}

// NewInitialDataFrame wraps the connection snapshot as an initial_data frame
func NewInitialDataFrame(data InitialData) Frame {
	return Frame{Type: FrameTypeInitialData, Data: data}
}

// NewSceneCharactersFrame wraps the scene roster as a scene_characters frame
func NewSceneCharactersFrame(characters []engine.Character) Frame {
	return Frame{Type: FrameTypeSceneCharacters, Data: characters}
}

// NewAPIConfigsFrame wraps the provider catalog as an api_configs frame
func NewAPIConfigsFrame(providers map[string]engine.ProviderConfig) Frame {
	return Frame{Type: FrameTypeAPIConfigs, Data: providers}
}

// NewErrorFrame builds a best-effort error frame surfaced to the client on
// dispatch failures. It never closes the connection.
func NewErrorFrame(message string) Frame {
	return Frame{Type: FrameTypeError, Data: map[string]string{"message": message}}
}
