package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/bookworld/bookworld/engine"
	"github.com/bookworld/bookworld/internal/media"
	"github.com/bookworld/bookworld/internal/slogging"
)

// HubOptions configures a Hub
type HubOptions struct {
	// DefaultIcon replaces icon references that do not resolve to a valid image
	DefaultIcon string
	// SaveDir keys the history stream replayed in initial_data
	SaveDir string
	// EventDelay is the pause between generation-loop iterations
	EventDelay time.Duration
	// GenerateTimeout bounds one engine next-event call; a timeout is a
	// recoverable per-iteration failure
	GenerateTimeout time.Duration
}

// Hub is the session manager: the single authority for connection
// bookkeeping, message routing and generation task lifecycles. All sessions
// share one engine.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	engine   Engine
	creds    *engine.CredentialStore
	resolver media.Resolver

	saveDir         string
	eventDelay      time.Duration
	generateTimeout time.Duration

	logger *slogging.Logger
}

// NewHub creates a session manager around the shared engine
func NewHub(eng Engine, creds *engine.CredentialStore, opts HubOptions) *Hub {
	if opts.EventDelay <= 0 {
		opts.EventDelay = time.Second
	}
	if opts.GenerateTimeout <= 0 {
		opts.GenerateTimeout = 30 * time.Second
	}
	return &Hub{
		sessions:        make(map[string]*Session),
		engine:          eng,
		creds:           creds,
		resolver:        media.Resolver{DefaultIcon: opts.DefaultIcon},
		saveDir:         opts.SaveDir,
		eventDelay:      opts.EventDelay,
		generateTimeout: opts.GenerateTimeout,
		logger:          slogging.Get(),
	}
}

// Connect registers a new session for clientID. A duplicate id is rejected so
// the existing session's task is never orphaned.
func (h *Hub) Connect(clientID string) (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[clientID]; ok {
		return nil, &DuplicateClientError{ClientID: clientID}
	}

	session := newSession(clientID)
	h.sessions[clientID] = session
	metricActiveSessions.Inc()
	h.logger.Info("Client connected - client_id: %s", clientID)
	return session, nil
}

// Disconnect cancels any running generation task, removes the session and
// releases the connection. Safe to call any number of times for the same id.
func (h *Hub) Disconnect(clientID string) {
	h.mu.Lock()
	session, ok := h.sessions[clientID]
	if ok {
		delete(h.sessions, clientID)
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	session.close()
	metricActiveSessions.Dec()
	h.logger.Info("Client disconnected - client_id: %s", clientID)
}

// Session returns the registered session for clientID
func (h *Hub) Session(clientID string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	session, ok := h.sessions[clientID]
	return session, ok
}

// SessionCount returns the number of registered sessions
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Broadcast sends one frame to the owning connection. Sends racing a
// disconnect are expected and are dropped silently; a client whose queue is
// full is torn down as a transport failure.
func (h *Hub) Broadcast(clientID string, frame Frame) {
	h.mu.RLock()
	session, ok := h.sessions[clientID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("Failed to marshal %s frame for client %s: %v", frame.Type, clientID, err)
		return
	}

	sent, full := session.enqueue(data)
	if sent {
		metricFramesSent.Inc()
		return
	}
	if full {
		h.logger.Warn("Send queue full, disconnecting client %s", clientID)
		h.Disconnect(clientID)
	}
}

// SendInitialData sends the initial_data snapshot for a freshly connected
// client: roster, map, settings, status and the replayed history stream.
func (h *Hub) SendInitialData(ctx context.Context, clientID string) error {
	history, err := h.engine.HistoryMessages(ctx, h.saveDir)
	if err != nil {
		return fmt.Errorf("loading history for initial data: %w", err)
	}
	for i := range history {
		history[i].Icon = h.resolver.Resolve(history[i].Icon)
	}
	if history == nil {
		history = []engine.Record{}
	}

	h.Broadcast(clientID, NewInitialDataFrame(InitialData{
		Characters:      h.engine.CharactersInfo(),
		Map:             h.engine.MapInfo(),
		Settings:        h.engine.SettingsInfo(),
		Status:          h.engine.CurrentStatus(),
		HistoryMessages: history,
	}))
	return nil
}

// Dispatch routes one inbound frame for clientID. Unknown sessions and
// malformed frames return typed errors; neither mutates manager state.
func (h *Hub) Dispatch(ctx context.Context, clientID string, raw []byte) error {
	h.mu.RLock()
	session, ok := h.sessions[clientID]
	h.mu.RUnlock()
	if !ok {
		return &UnknownSessionError{ClientID: clientID}
	}

	msg, err := ParseInbound(raw)
	if err != nil {
		return err
	}

	switch msg.Type {
	case MessageTypeUserMessage:
		return h.handleUserMessage(clientID, msg)
	case MessageTypeControl:
		return h.handleControl(session, msg)
	case MessageTypeEditMessage:
		return h.handleEditMessage(ctx, msg)
	case MessageTypeRequestSceneCharacters:
		return h.handleSceneCharacters(clientID, msg)
	case MessageTypeGenerateStory:
		return h.handleGenerateStory(ctx, clientID)
	case MessageTypeRequestAPIConfigs:
		h.Broadcast(clientID, NewAPIConfigsFrame(engine.Providers()))
		return nil
	case MessageTypeAPISettings:
		return h.handleAPISettings(clientID, msg)
	default:
		return &MalformedMessageError{Reason: fmt.Sprintf("unrecognized type %q", msg.Type)}
	}
}

// handleUserMessage echoes the user's text back as a chat entry attributed to
// the user, with no engine mutation
func (h *Hub) handleUserMessage(clientID string, msg InboundMessage) error {
	if msg.Text == "" {
		return &MalformedMessageError{Reason: "user_message requires text"}
	}
	h.Broadcast(clientID, NewMessageFrame(engine.Record{
		Username:  "User",
		Timestamp: msg.Timestamp,
		Text:      msg.Text,
		Icon:      h.resolver.Resolve(""),
	}))
	return nil
}

// handleControl drives the generation task state machine
func (h *Hub) handleControl(session *Session, msg InboundMessage) error {
	switch msg.Action {
	case ControlActionStart:
		session.startTask(func(ctx context.Context) {
			h.runGeneration(ctx, session.ClientID)
		})
		return nil
	case ControlActionPause, ControlActionStop:
		session.stopTask(false)
		return nil
	default:
		return &MalformedMessageError{Reason: fmt.Sprintf("unrecognized control action %q", msg.Action)}
	}
}

// handleEditMessage forwards the edit to the engine; the engine is
// authoritative for validating the record id
func (h *Hub) handleEditMessage(ctx context.Context, msg InboundMessage) error {
	var data EditMessageData
	if err := json.Unmarshal(msg.Data, &data); err != nil || data.UUID == "" {
		return &MalformedMessageError{Reason: "edit_message requires data.uuid"}
	}
	if err := h.engine.HandleMessageEdit(ctx, data.UUID, data.Text); err != nil {
		h.logger.Warn("Message edit failed for record %s: %v", data.UUID, err)
	}
	return nil
}

// handleSceneCharacters selects the scene on the engine and responds with the
// resulting roster
func (h *Hub) handleSceneCharacters(clientID string, msg InboundMessage) error {
	if msg.Scene == "" {
		return &MalformedMessageError{Reason: "request_scene_characters requires scene"}
	}
	if err := h.engine.SelectScene(msg.Scene); err != nil {
		h.logger.Warn("Scene selection failed for %q: %v", msg.Scene, err)
	}
	h.Broadcast(clientID, NewSceneCharactersFrame(h.engine.CharactersInfo()))
	return nil
}

// handleGenerateStory asks the engine for a synchronous story excerpt
func (h *Hub) handleGenerateStory(ctx context.Context, clientID string) error {
	text, err := h.engine.GenerateStory(ctx)
	if err != nil {
		h.logger.Error("Story generation failed for client %s: %v", clientID, err)
		h.Broadcast(clientID, NewErrorFrame("story generation failed"))
		return nil
	}
	h.Broadcast(clientID, NewMessageFrame(engine.Record{
		Username:  "System",
		Timestamp: time.Now().Format(engine.TimestampFormat),
		Text:      text,
		Icon:      h.resolver.Resolve(""),
		Kind:      "story",
	}))
	return nil
}

// handleAPISettings stores the credential and switches the engine's active
// provider and model, then confirms to the client
func (h *Hub) handleAPISettings(clientID string, msg InboundMessage) error {
	var data APISettingsData
	if err := json.Unmarshal(msg.Data, &data); err != nil || data.Provider == "" || data.Model == "" {
		return &MalformedMessageError{Reason: "api_settings requires data.provider and data.model"}
	}

	h.creds.Set(data.EnvKey, data.APIKey)

	if err := h.engine.UpdateAPISettings(data.Provider, data.Model); err != nil {
		h.logger.Error("API settings update failed for client %s: %v", clientID, err)
		h.Broadcast(clientID, NewErrorFrame("failed to update API settings"))
		return nil
	}

	h.Broadcast(clientID, NewMessageFrame(engine.Record{
		Username:  "System",
		Timestamp: time.Now().Format(engine.TimestampFormat),
		Text:      fmt.Sprintf("Updated %s API settings", data.Provider),
		Icon:      h.resolver.Resolve(""),
		Kind:      "system",
	}))
	return nil
}

// runGeneration is the generation loop: fetch the next narrative event, send
// it with a status update, wait the inter-event delay, observe cancellation.
// Engine failures are contained to the iteration; cancellation is normal
// shutdown and never logged as an error.
func (h *Hub) runGeneration(ctx context.Context, clientID string) {
	h.logger.Debug("Generation loop started for client %s", clientID)
	metricGenerationLoops.Inc()
	defer metricGenerationLoops.Dec()

	for {
		genCtx, cancel := context.WithTimeout(ctx, h.generateTimeout)
		rec, err := h.engine.GenerateNextMessage(genCtx)
		cancel()

		switch {
		case ctx.Err() != nil:
			h.logger.Debug("Generation loop cancelled for client %s", clientID)
			return
		case err != nil:
			metricEngineFailures.Inc()
			h.logger.Error("Engine failure in generation loop for client %s: %v", clientID, err)
		default:
			rec.Icon = h.resolver.Resolve(rec.Icon)
			h.Broadcast(clientID, NewMessageFrame(rec))
			h.Broadcast(clientID, NewStatusFrame(h.engine.CurrentStatus()))
		}

		select {
		case <-ctx.Done():
			h.logger.Debug("Generation loop cancelled for client %s", clientID)
			return
		case <-time.After(h.eventDelay):
		}
	}
}
