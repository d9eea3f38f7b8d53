package mockserver_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChenSRFurina/Paintopia/internal/chat"
	"github.com/ChenSRFurina/Paintopia/internal/doodle"
	"github.com/ChenSRFurina/Paintopia/internal/mockserver"
	"github.com/ChenSRFurina/Paintopia/internal/recognition"
	"github.com/ChenSRFurina/Paintopia/internal/storybook"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := mockserver.NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	e := echo.New()
	e.HideBanner = true
	mockserver.New(store).RegisterRoutes(e)

	server := httptest.NewServer(e)
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, url string, body interface{}) map[string]interface{} {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "ok", out["status"])
}

func TestSessionChatHistoryFlow(t *testing.T) {
	server := newTestServer(t)

	created := postJSON(t, server.URL+"/api/session/new", map[string]string{})
	require.Equal(t, true, created["success"])
	sessionID := created["session_id"].(string)
	assert.True(t, strings.HasPrefix(sessionID, "sess_"))

	reply := postJSON(t, server.URL+"/api/chat", map[string]string{
		"text": "今天我画了一只猫", "session_id": sessionID,
	})
	assert.Equal(t, true, reply["success"])
	assert.NotEmpty(t, reply["response"])
	assert.Nil(t, reply["command"])

	history := postJSON(t, server.URL+"/api/session/history", map[string]string{
		"session_id": sessionID,
	})
	require.Equal(t, true, history["success"])
	entries := history["history"].([]interface{})
	require.Len(t, entries, 2)
	first := entries[0].(map[string]interface{})
	assert.Equal(t, "user", first["role"])
	assert.Equal(t, "今天我画了一只猫", first["content"])
}

func TestChatObserveCommand(t *testing.T) {
	server := newTestServer(t)

	created := postJSON(t, server.URL+"/api/session/new", map[string]string{})
	sessionID := created["session_id"].(string)

	reply := postJSON(t, server.URL+"/api/chat", map[string]string{
		"text": "快来看看我的画", "session_id": sessionID,
	})
	assert.Equal(t, "observe_canvas", reply["command"])
}

func TestChatMissingSession(t *testing.T) {
	server := newTestServer(t)

	reply := postJSON(t, server.URL+"/api/chat", map[string]string{"text": "hi"})
	assert.Equal(t, false, reply["success"])
	assert.NotEmpty(t, reply["error"])
}

func TestTTS(t *testing.T) {
	server := newTestServer(t)

	out := postJSON(t, server.URL+"/api/tts", map[string]string{"text": "你好"})
	audio, err := base64.StdEncoding.DecodeString(out["audio_data"].(string))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(audio), 100)

	// Empty text answers with the error envelope, not audio.
	out = postJSON(t, server.URL+"/api/tts", map[string]string{"text": ""})
	assert.NotEmpty(t, out["error"])
}

func TestGenerateStorybookShape(t *testing.T) {
	server := newTestServer(t)

	out := postJSON(t, server.URL+"/api/generate-storybook", map[string]string{
		"image_data": base64.StdEncoding.EncodeToString([]byte("doodle")),
	})
	require.Equal(t, true, out["success"])
	assert.Contains(t, out["full_story"], "《")

	pages := out["pages"].([]interface{})
	require.Len(t, pages, 3)

	// The second page ships its page_number as a numeric string.
	second := pages[1].(map[string]interface{})
	assert.Equal(t, "2", second["page_number"])
}

func TestSpeechToText(t *testing.T) {
	server := newTestServer(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "voice.wav")
	require.NoError(t, err)
	part.Write([]byte("fake-audio"))
	require.NoError(t, w.Close())

	resp, err := http.Post(server.URL+"/api/speech-to-text", w.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, true, out["success"])
	assert.NotEmpty(t, out["text"])
}

func TestDoodleTaskFlow(t *testing.T) {
	server := newTestServer(t)

	submitted := postJSON(t, server.URL+"/api/doodle", map[string]string{
		"image_data": base64.StdEncoding.EncodeToString([]byte("doodle")),
	})
	require.Equal(t, true, submitted["success"])
	taskID := submitted["task_id"].(string)

	resp, err := http.Get(server.URL + "/api/doodle/status/" + taskID)
	require.NoError(t, err)
	defer resp.Body.Close()
	var status map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "done", status["status"])

	resp, err = http.Get(server.URL + "/api/doodle/result/" + taskID)
	require.NoError(t, err)
	defer resp.Body.Close()
	var result map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, true, result["success"])
	assert.NotEmpty(t, result["recognition"])
}

func TestDoodleTaskNotFound(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/doodle/status/task_nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocketRecognition(t *testing.T) {
	server := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{
		"action":     "qwenvl_image_recognition",
		"request_id": "req_1",
		"image":      base64.StdEncoding.EncodeToString([]byte("doodle")),
	}))

	var frame map[string]string
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "qwenvl_image_recognition", frame["action"])
	assert.Equal(t, "req_1", frame["request_id"])
	assert.NotEmpty(t, frame["result"])
}

func TestWebSocketUnknownAction(t *testing.T) {
	server := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{
		"action": "make_coffee", "request_id": "req_2",
	}))

	var frame map[string]string
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "error", frame["action"])
	assert.Contains(t, frame["message"], "make_coffee")
}

// TestClientsEndToEnd drives the real API clients against the mock backend.
func TestClientsEndToEnd(t *testing.T) {
	server := newTestServer(t)
	ctx := context.Background()

	chatClient := chat.NewClient(server.URL)
	require.NoError(t, chatClient.Ping(ctx))

	session, err := chatClient.CreateSession(ctx)
	require.NoError(t, err)

	var observed string
	chatClient.OnObserveCanvas(func(sessionID string) { observed = sessionID })

	resp, err := chatClient.SendText(ctx, session.ID, "来看看这幅画")
	require.NoError(t, err)
	assert.Equal(t, chat.CommandObserveCanvas, resp.Command)
	assert.Equal(t, session.ID, observed)

	observeResp, err := chatClient.ObserveAndReply(ctx, session.ID, []byte("canvas"))
	require.NoError(t, err)
	assert.NotEmpty(t, observeResp.VisionDesc)

	audio, err := chatClient.SynthesizeSpeech(ctx, session.ID, "你好")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(audio), 100)

	history, err := chatClient.FetchHistory(ctx, session.ID)
	require.NoError(t, err)
	assert.Len(t, history, 4)

	book, err := storybook.NewClient(server.URL).Generate(ctx, []byte("doodle"))
	require.NoError(t, err)
	assert.Equal(t, "小小画家的一天", book.Title)
	assert.Equal(t, 3, book.TotalPages())

	doodleClient := doodle.NewClient(server.URL)
	require.NoError(t, doodleClient.Health(ctx))
	result, err := doodleClient.Analyze(ctx, []byte("doodle"), "")
	require.NoError(t, err)
	assert.True(t, result.Success)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	wsClient := recognition.NewClient(wsURL, recognition.DefaultOptions())
	defer wsClient.Disconnect()
	text, err := wsClient.RecognizeImage(ctx, []byte("doodle"))
	require.NoError(t, err)
	assert.NotEmpty(t, text)
}
