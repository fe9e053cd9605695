package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bookworld/bookworld/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine implements Engine for hub and session tests
type fakeEngine struct {
	mu         sync.Mutex
	sceneCalls []string
	editCalls  []string
	apiCalls   []string

	generated     atomic.Int32
	concurrent    atomic.Int32
	maxConcurrent atomic.Int32
	failGenerate  atomic.Bool

	storyText string
}

func (f *fakeEngine) CharactersInfo() []engine.Character {
	return []engine.Character{{ID: "c1", Name: "Alice", Icon: "missing.png"}}
}

func (f *fakeEngine) MapInfo() json.RawMessage {
	return json.RawMessage(`{"regions":[]}`)
}

func (f *fakeEngine) SettingsInfo() json.RawMessage {
	return json.RawMessage(`{"language":"en"}`)
}

func (f *fakeEngine) CurrentStatus() engine.Status {
	return engine.Status{Scene: "tavern", Round: int(f.generated.Load()), Mode: "free"}
}

func (f *fakeEngine) HistoryMessages(ctx context.Context, saveDir string) ([]engine.Record, error) {
	return []engine.Record{{ID: "h1", Username: "Alice", Text: "once upon a time", Icon: "missing.png"}}, nil
}

func (f *fakeEngine) GenerateNextMessage(ctx context.Context) (engine.Record, error) {
	cur := f.concurrent.Add(1)
	defer f.concurrent.Add(-1)
	for {
		max := f.maxConcurrent.Load()
		if cur <= max || f.maxConcurrent.CompareAndSwap(max, cur) {
			break
		}
	}

	if f.failGenerate.Load() {
		return engine.Record{}, fmt.Errorf("model unavailable")
	}
	if err := ctx.Err(); err != nil {
		return engine.Record{}, err
	}
	n := f.generated.Add(1)
	return engine.Record{
		ID:       fmt.Sprintf("rec-%d", n),
		Username: "Alice",
		Text:     fmt.Sprintf("event %d", n),
		Icon:     "missing.png",
	}, nil
}

func (f *fakeEngine) GenerateStory(ctx context.Context) (string, error) {
	if f.storyText == "" {
		return "", fmt.Errorf("no story available")
	}
	return f.storyText, nil
}

func (f *fakeEngine) SelectScene(sceneID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sceneCalls = append(f.sceneCalls, sceneID)
	if sceneID == "void" {
		return fmt.Errorf("unknown scene %q", sceneID)
	}
	return nil
}

func (f *fakeEngine) HandleMessageEdit(ctx context.Context, recordID, newText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.editCalls = append(f.editCalls, recordID)
	return nil
}

func (f *fakeEngine) UpdateAPISettings(provider, model string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiCalls = append(f.apiCalls, provider+"/"+model)
	if provider == "unknown" {
		return fmt.Errorf("unknown llm provider %q", provider)
	}
	return nil
}

func newTestHub(eng Engine) *Hub {
	return NewHub(eng, engine.NewCredentialStore(), HubOptions{
		DefaultIcon:     "testdata/default-icon.jpg",
		SaveDir:         "saves/test",
		EventDelay:      10 * time.Millisecond,
		GenerateTimeout: time.Second,
	})
}

// collectFrame decodes the next queued frame, failing the test after timeout
func collectFrame(t *testing.T, s *Session, timeout time.Duration) Frame {
	t.Helper()
	select {
	case data, ok := <-s.Frames():
		require.True(t, ok, "send channel closed")
		var frame Frame
		require.NoError(t, json.Unmarshal(data, &frame))
		return frame
	case <-time.After(timeout):
		t.Fatal("timed out waiting for frame")
		return Frame{}
	}
}

func TestConnectRejectsDuplicateClient(t *testing.T) {
	hub := newTestHub(&fakeEngine{})

	_, err := hub.Connect("c1")
	require.NoError(t, err)

	_, err = hub.Connect("c1")
	var dup *DuplicateClientError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "c1", dup.ClientID)
	assert.Equal(t, 1, hub.SessionCount())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	hub := newTestHub(&fakeEngine{})

	session, err := hub.Connect("c1")
	require.NoError(t, err)

	hub.Disconnect("c1")
	assert.Equal(t, 0, hub.SessionCount())
	assert.Equal(t, StateStopped, session.State())

	// Second call must be a no-op
	hub.Disconnect("c1")
	assert.Equal(t, 0, hub.SessionCount())

	// And unknown ids never crash
	hub.Disconnect("never-connected")
}

func TestDispatchUnknownSession(t *testing.T) {
	hub := newTestHub(&fakeEngine{})

	err := hub.Dispatch(context.Background(), "ghost", []byte(`{"type":"user_message","text":"hi"}`))
	var unknown *UnknownSessionError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, 0, hub.SessionCount())
}

func TestDispatchMalformedFrames(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "invalid json", raw: `{not json`},
		{name: "missing type", raw: `{"text":"hi"}`},
		{name: "unrecognized type", raw: `{"type":"teleport"}`},
		{name: "user_message without text", raw: `{"type":"user_message"}`},
		{name: "control without action", raw: `{"type":"control"}`},
		{name: "edit_message without uuid", raw: `{"type":"edit_message","data":{}}`},
		{name: "scene request without scene", raw: `{"type":"request_scene_characters"}`},
		{name: "api_settings without provider", raw: `{"type":"api_settings","data":{"model":"m"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := newTestHub(&fakeEngine{})
			session, err := hub.Connect("c1")
			require.NoError(t, err)

			err = hub.Dispatch(context.Background(), "c1", []byte(tt.raw))
			var malformed *MalformedMessageError
			require.ErrorAs(t, err, &malformed)

			// No state change and no frames
			assert.Equal(t, 1, hub.SessionCount())
			assert.Equal(t, StateIdle, session.State())
			assert.Empty(t, session.Frames())
		})
	}
}

func TestUserMessageEcho(t *testing.T) {
	hub := newTestHub(&fakeEngine{})
	session, err := hub.Connect("c1")
	require.NoError(t, err)

	err = hub.Dispatch(context.Background(), "c1", []byte(`{"type":"user_message","timestamp":"T","text":"hi"}`))
	require.NoError(t, err)

	frame := collectFrame(t, session, time.Second)
	assert.Equal(t, FrameTypeMessage, frame.Type)

	data, err := json.Marshal(frame.Data)
	require.NoError(t, err)
	var rec engine.Record
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "User", rec.Username)
	assert.Equal(t, "hi", rec.Text)
	assert.Equal(t, "T", rec.Timestamp)
	assert.Equal(t, "testdata/default-icon.jpg", rec.Icon)

	// Exactly one frame
	assert.Empty(t, session.Frames())
}

func TestRequestSceneCharacters(t *testing.T) {
	eng := &fakeEngine{}
	hub := newTestHub(eng)
	session, err := hub.Connect("c1")
	require.NoError(t, err)

	err = hub.Dispatch(context.Background(), "c1", []byte(`{"type":"request_scene_characters","scene":"tavern"}`))
	require.NoError(t, err)

	frame := collectFrame(t, session, time.Second)
	assert.Equal(t, FrameTypeSceneCharacters, frame.Type)
	assert.Equal(t, []string{"tavern"}, eng.sceneCalls)
}

func TestSceneSelectionFailureStillResponds(t *testing.T) {
	eng := &fakeEngine{}
	hub := newTestHub(eng)
	session, err := hub.Connect("c1")
	require.NoError(t, err)

	// Engine rejects the scene; the roster response is still sent
	err = hub.Dispatch(context.Background(), "c1", []byte(`{"type":"request_scene_characters","scene":"void"}`))
	require.NoError(t, err)

	frame := collectFrame(t, session, time.Second)
	assert.Equal(t, FrameTypeSceneCharacters, frame.Type)
}

func TestEditMessageForwardedToEngine(t *testing.T) {
	eng := &fakeEngine{}
	hub := newTestHub(eng)
	_, err := hub.Connect("c1")
	require.NoError(t, err)

	err = hub.Dispatch(context.Background(), "c1", []byte(`{"type":"edit_message","data":{"uuid":"rec-7","text":"revised"}}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"rec-7"}, eng.editCalls)
}

func TestGenerateStoryFrame(t *testing.T) {
	eng := &fakeEngine{storyText: "It was a dark and stormy night."}
	hub := newTestHub(eng)
	session, err := hub.Connect("c1")
	require.NoError(t, err)

	err = hub.Dispatch(context.Background(), "c1", []byte(`{"type":"generate_story"}`))
	require.NoError(t, err)

	frame := collectFrame(t, session, time.Second)
	assert.Equal(t, FrameTypeMessage, frame.Type)

	data, err := json.Marshal(frame.Data)
	require.NoError(t, err)
	var rec engine.Record
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "System", rec.Username)
	assert.Equal(t, "story", rec.Kind)
	assert.Equal(t, eng.storyText, rec.Text)
}

func TestGenerateStoryFailureSendsErrorFrame(t *testing.T) {
	hub := newTestHub(&fakeEngine{})
	session, err := hub.Connect("c1")
	require.NoError(t, err)

	err = hub.Dispatch(context.Background(), "c1", []byte(`{"type":"generate_story"}`))
	require.NoError(t, err)

	frame := collectFrame(t, session, time.Second)
	assert.Equal(t, FrameTypeError, frame.Type)
}

func TestRequestAPIConfigs(t *testing.T) {
	hub := newTestHub(&fakeEngine{})
	session, err := hub.Connect("c1")
	require.NoError(t, err)

	err = hub.Dispatch(context.Background(), "c1", []byte(`{"type":"request_api_configs"}`))
	require.NoError(t, err)

	frame := collectFrame(t, session, time.Second)
	assert.Equal(t, FrameTypeAPIConfigs, frame.Type)

	data, err := json.Marshal(frame.Data)
	require.NoError(t, err)
	var providers map[string]engine.ProviderConfig
	require.NoError(t, json.Unmarshal(data, &providers))
	assert.Contains(t, providers, "openai")
	assert.Equal(t, "OPENAI_API_KEY", providers["openai"].EnvKey)
}

func TestAPISettingsUpdatesCredentialStoreAndEngine(t *testing.T) {
	eng := &fakeEngine{}
	creds := engine.NewCredentialStore()
	hub := NewHub(eng, creds, HubOptions{DefaultIcon: "testdata/default-icon.jpg"})
	session, err := hub.Connect("c1")
	require.NoError(t, err)

	raw := `{"type":"api_settings","data":{"provider":"openai","model":"gpt-4o","envKey":"OPENAI_API_KEY","apiKey":"sk-test"}}`
	require.NoError(t, hub.Dispatch(context.Background(), "c1", []byte(raw)))

	assert.Equal(t, "sk-test", creds.Get("OPENAI_API_KEY"))
	assert.Equal(t, []string{"openai/gpt-4o"}, eng.apiCalls)

	frame := collectFrame(t, session, time.Second)
	assert.Equal(t, FrameTypeMessage, frame.Type)
}

func TestBroadcastAfterDisconnectIsNoOp(t *testing.T) {
	hub := newTestHub(&fakeEngine{})
	_, err := hub.Connect("c1")
	require.NoError(t, err)
	hub.Disconnect("c1")

	// Must not panic or error
	hub.Broadcast("c1", NewErrorFrame("too late"))
}

func TestSendInitialDataResolvesHistoryIcons(t *testing.T) {
	hub := newTestHub(&fakeEngine{})
	session, err := hub.Connect("c1")
	require.NoError(t, err)

	require.NoError(t, hub.SendInitialData(context.Background(), "c1"))

	frame := collectFrame(t, session, time.Second)
	require.Equal(t, FrameTypeInitialData, frame.Type)

	data, err := json.Marshal(frame.Data)
	require.NoError(t, err)
	var initial InitialData
	require.NoError(t, json.Unmarshal(data, &initial))
	require.Len(t, initial.HistoryMessages, 1)
	assert.Equal(t, "testdata/default-icon.jpg", initial.HistoryMessages[0].Icon)
	require.Len(t, initial.Characters, 1)
	assert.Equal(t, "tavern", initial.Status.Scene)
}

func TestErrorTypesUnwrap(t *testing.T) {
	var err error = &MalformedMessageError{Reason: "missing type field"}
	var malformed *MalformedMessageError
	assert.True(t, errors.As(err, &malformed))
	assert.Contains(t, err.Error(), "missing type field")
}
