package chat

import "time"

// Session identifies a server-side conversational context. It is returned by
// CreateSession and passed explicitly into every subsequent call; the client
// holds no current-session state of its own.
type Session struct {
	ID        string
	CreatedAt time.Time
}

// ChatResponse is the reply to a text message.
type ChatResponse struct {
	Success   bool   `json:"success"`
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
	Command   string `json:"command,omitempty"`
	Error     string `json:"error,omitempty"`
}

// AnalysisResponse is the reply to an image analysis request.
type AnalysisResponse struct {
	Success   bool   `json:"success"`
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
	Analysis  string `json:"analysis,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ObserveReplyResponse is the reply to a combined vision+chat request.
type ObserveReplyResponse struct {
	Success    bool   `json:"success"`
	LLMReply   string `json:"llm_reply"`
	VisionDesc string `json:"vision_desc"`
	SessionID  string `json:"session_id"`
	AudioData  string `json:"audio_data,omitempty"`
	Error      string `json:"error,omitempty"`
}

// HistoryItem is a single entry of a session transcript.
type HistoryItem struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	ImageData string `json:"image_data,omitempty"`
}

type sessionEnvelope struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

type historyEnvelope struct {
	Success bool          `json:"success"`
	History []HistoryItem `json:"history"`
	Error   string        `json:"error,omitempty"`
}

type ttsEnvelope struct {
	AudioData string `json:"audio_data"`
	Error     string `json:"error,omitempty"`
}

type transcribeEnvelope struct {
	Success bool   `json:"success"`
	Text    string `json:"text"`
	Error   string `json:"error,omitempty"`
}
