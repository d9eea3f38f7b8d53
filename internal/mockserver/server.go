// Package mockserver implements a stand-in paintopia backend for local
// development and integration tests. It speaks the full wire contract of the
// real AI backend with deterministic canned content; none of the actual
// inference, image generation or speech synthesis happens here.
package mockserver

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// Canned reply content.
const (
	chatReply        = "哇，听起来真有趣！要不要画给我看看呀？"
	chatObserveReply = "好呀，让我看看你的画！"
	visionDesc       = "画面上有一只戴着红色围巾的小兔子，旁边是一棵大树。"
	llmReply         = "你的小兔子画得真可爱！围巾的颜色选得很棒。"
	analysisText     = "线条很流畅，可以给背景加一点颜色。"
	recognitionText  = "一只勇敢的小狮子"
	transcribedText  = "你好，小画家"

	fullStory = "《小小画家的一天》\n第一页：小画家拿起画笔。\n第二页：画里的世界活了过来。\n第三页：大家一起开心地笑了。"
)

type task struct {
	Status string
	Result *analyzeResult
}

type analyzeResult struct {
	Success     bool   `json:"success"`
	Recognition string `json:"recognition"`
	Suggestion  string `json:"suggestion"`
	Story       string `json:"story"`
}

// Server holds the mock backend handlers.
type Server struct {
	store    *Store
	upgrader websocket.Upgrader

	mu    sync.Mutex
	tasks map[string]*task
}

// New creates a mock server backed by the given store.
func New(store *Store) *Server {
	return &Server{
		store: store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		tasks: make(map[string]*task),
	}
}

// RegisterRoutes registers all backend routes on the echo server.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.POST("/api/session/new", s.CreateSession)
	e.POST("/api/chat", s.Chat)
	e.POST("/api/observe-and-reply", s.ObserveAndReply)
	e.POST("/api/analyze", s.Analyze)
	e.POST("/api/session/history", s.SessionHistory)
	e.POST("/api/tts", s.TTS)
	e.POST("/api/generate-storybook", s.GenerateStorybook)
	e.POST("/api/image/analyze", s.ImageAnalyze)
	e.POST("/api/speech-to-text", s.SpeechToText)
	e.GET("/api/health", s.Health)
	e.POST("/api/doodle", s.SubmitDoodleTask)
	e.GET("/api/doodle/status/:task_id", s.DoodleTaskStatus)
	e.GET("/api/doodle/result/:task_id", s.DoodleTaskResult)
	e.GET("/ws", s.HandleWebSocket)
}

// Health answers the health probe.
// GET /api/health
func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// CreateSession issues a fresh session id.
// POST /api/session/new
func (s *Server) CreateSession(c echo.Context) error {
	sessionID := "sess_" + uuid.New().String()[:8]
	if err := s.store.CreateSession(c.Request().Context(), sessionID); err != nil {
		log.Printf("ERROR: failed to create session: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false, "error": "failed to create session",
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":    true,
		"session_id": sessionID,
		"message":    "session created",
	})
}

// Chat answers a text message with a canned reply. A message asking the
// assistant to look at the drawing triggers the observe_canvas command.
// POST /api/chat
func (s *Server) Chat(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		Text      string `json:"text"`
		SessionID string `json:"session_id"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false, "error": "invalid request body",
		})
	}
	if req.SessionID == "" {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"success": false, "error": "missing session_id",
		})
	}

	if err := s.store.AppendMessage(ctx, req.SessionID, "user", req.Text, ""); err != nil {
		log.Printf("ERROR: failed to store message: %v", err)
	}

	resp := map[string]interface{}{
		"success":    true,
		"session_id": req.SessionID,
		"response":   chatReply,
	}
	if strings.Contains(req.Text, "看看") || strings.Contains(strings.ToLower(req.Text), "look") {
		resp["response"] = chatObserveReply
		resp["command"] = "observe_canvas"
	}

	if err := s.store.AppendMessage(ctx, req.SessionID, "assistant", resp["response"].(string), ""); err != nil {
		log.Printf("ERROR: failed to store message: %v", err)
	}

	return c.JSON(http.StatusOK, resp)
}

// ObserveAndReply describes the submitted canvas and replies, with spoken
// audio attached.
// POST /api/observe-and-reply
func (s *Server) ObserveAndReply(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		ImageData string `json:"image_data"`
		SessionID string `json:"session_id"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false, "error": "invalid request body",
		})
	}
	if req.ImageData == "" {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"success": false, "error": "missing image_data",
		})
	}

	if req.SessionID != "" {
		if err := s.store.AppendMessage(ctx, req.SessionID, "user", "[canvas]", req.ImageData); err != nil {
			log.Printf("ERROR: failed to store message: %v", err)
		}
		if err := s.store.AppendMessage(ctx, req.SessionID, "assistant", llmReply, ""); err != nil {
			log.Printf("ERROR: failed to store message: %v", err)
		}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":     true,
		"session_id":  req.SessionID,
		"vision_desc": visionDesc,
		"llm_reply":   llmReply,
		"audio_data":  base64.StdEncoding.EncodeToString(fakeAudio()),
	})
}

// Analyze describes a submitted image within a session.
// POST /api/analyze
func (s *Server) Analyze(c echo.Context) error {
	var req struct {
		ImageData string `json:"image_data"`
		SessionID string `json:"session_id"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false, "error": "invalid request body",
		})
	}
	if req.ImageData == "" {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"success": false, "error": "missing image_data",
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":    true,
		"session_id": req.SessionID,
		"response":   llmReply,
		"analysis":   analysisText,
	})
}

// SessionHistory returns a session transcript.
// POST /api/session/history
func (s *Server) SessionHistory(c echo.Context) error {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := c.Bind(&req); err != nil || req.SessionID == "" {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"success": false, "error": "missing session_id",
		})
	}

	entries, err := s.store.History(c.Request().Context(), req.SessionID)
	if err != nil {
		log.Printf("ERROR: failed to load history: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false, "error": "failed to load history",
		})
	}
	if entries == nil {
		entries = []HistoryEntry{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"history": entries,
	})
}

// TTS returns canned audio for the given text as base64 audio_data.
// POST /api/tts
func (s *Server) TTS(c echo.Context) error {
	var req struct {
		Text      string `json:"text"`
		SessionID string `json:"session_id"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Text == "" {
		return c.JSON(http.StatusOK, map[string]string{"error": "text is required"})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"audio_data": base64.StdEncoding.EncodeToString(fakeAudio()),
	})
}

// GenerateStorybook returns a fixed three-page story. The second page carries
// its page_number as a numeric string, matching a format the real backend has
// emitted, so client-side coercion stays exercised end to end.
// POST /api/generate-storybook
func (s *Server) GenerateStorybook(c echo.Context) error {
	var req struct {
		ImageData string `json:"image_data"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false, "error": "invalid request body",
		})
	}
	if req.ImageData == "" {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"success": false, "error": "missing image_data",
		})
	}

	pageImage := func(n string) map[string]interface{} {
		return map[string]interface{}{
			"type": "story_page",
			"name": "page_" + n,
			"data": base64.StdEncoding.EncodeToString(fakePNG()),
		}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":     true,
		"full_story":  fullStory,
		"total_pages": 3,
		"project_id":  uuid.New().String(),
		"pages": []map[string]interface{}{
			{"page_number": 1, "title": "拿起画笔", "content": "小画家拿起画笔。", "image": pageImage("001")},
			{"page_number": "2", "title": "画里的世界", "content": "画里的世界活了过来。", "image": pageImage("002")},
			{"page_number": 3, "content": "大家一起开心地笑了。", "image": pageImage("003")},
		},
	})
}

// ImageAnalyze answers the one-shot doodle analysis call in the structured
// shape.
// POST /api/image/analyze
func (s *Server) ImageAnalyze(c echo.Context) error {
	var req struct {
		ImageData string `json:"image_data"`
		Text      string `json:"text"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.ImageData == "" {
		return c.JSON(http.StatusOK, map[string]string{"error": "missing image_data"})
	}
	return c.JSON(http.StatusOK, s.cannedAnalysis())
}

// SpeechToText accepts the multipart audio upload and returns canned text.
// POST /api/speech-to-text
func (s *Server) SpeechToText(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"success": false, "error": "missing file field",
		})
	}
	src, err := file.Open()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false, "error": "failed to read upload",
		})
	}
	defer src.Close()
	io.Copy(io.Discard, src)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"text":    transcribedText,
	})
}

// SubmitDoodleTask starts a task on the superseded polling API. The mock
// completes it immediately.
// POST /api/doodle
func (s *Server) SubmitDoodleTask(c echo.Context) error {
	var req struct {
		ImageData string `json:"image_data"`
	}
	if err := c.Bind(&req); err != nil || req.ImageData == "" {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"success": false, "error": "missing image_data",
		})
	}

	taskID := "task_" + uuid.New().String()[:8]
	result := s.cannedAnalysis()
	s.mu.Lock()
	s.tasks[taskID] = &task{Status: "done", Result: &result}
	s.mu.Unlock()

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"task_id": taskID,
	})
}

// DoodleTaskStatus reports task progress.
// GET /api/doodle/status/:task_id
func (s *Server) DoodleTaskStatus(c echo.Context) error {
	taskID := c.Param("task_id")
	s.mu.Lock()
	t, ok := s.tasks[taskID]
	s.mu.Unlock()
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "task not found"})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"task_id": taskID,
		"status":  t.Status,
	})
}

// DoodleTaskResult returns the result of a completed task.
// GET /api/doodle/result/:task_id
func (s *Server) DoodleTaskResult(c echo.Context) error {
	taskID := c.Param("task_id")
	s.mu.Lock()
	t, ok := s.tasks[taskID]
	s.mu.Unlock()
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "task not found"})
	}
	if t.Status != "done" || t.Result == nil {
		return c.JSON(http.StatusOK, map[string]string{"error": "task not finished"})
	}
	return c.JSON(http.StatusOK, t.Result)
}

// HandleWebSocket serves the recognition action protocol over a persistent
// socket.
// GET /ws
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		return err
	}
	defer ws.Close()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return nil
		}

		var msg struct {
			Action    string `json:"action"`
			RequestID string `json:"request_id,omitempty"`
			Image     string `json:"image,omitempty"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			s.writeJSON(ws, map[string]string{
				"action": "error", "message": "invalid JSON message",
			})
			continue
		}

		switch msg.Action {
		case "qwenvl_image_recognition":
			resp := map[string]string{
				"action": msg.Action,
				"result": recognitionText,
			}
			if msg.RequestID != "" {
				resp["request_id"] = msg.RequestID
			}
			s.writeJSON(ws, resp)
		default:
			s.writeJSON(ws, map[string]string{
				"action":     "error",
				"request_id": msg.RequestID,
				"message":    "unknown action: " + msg.Action,
			})
		}
	}
}

func (s *Server) writeJSON(ws *websocket.Conn, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("Failed to write message: %v", err)
	}
}

func (s *Server) cannedAnalysis() analyzeResult {
	return analyzeResult{
		Success:     true,
		Recognition: recognitionText,
		Suggestion:  analysisText,
		Story:       fullStory,
	}
}

// fakeAudio is a stand-in audio payload, large enough to pass client-side
// minimum-size checks.
func fakeAudio() []byte {
	return bytes.Repeat([]byte("RIFFDATA"), 32)
}

// fakePNG is a stand-in page illustration.
func fakePNG() []byte {
	return bytes.Repeat([]byte{0x89, 0x50, 0x4e, 0x47}, 8)
}
