// Package chat provides the session-oriented client for the paintopia chat
// backend: session management, text messaging, canvas observation, image
// analysis, history retrieval, speech synthesis and speech recognition.
package chat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ChenSRFurina/Paintopia/internal/transport"
)

// Per-operation timeouts. Observe-and-reply chains server-side vision and LLM
// work and gets the longest window.
const (
	pingTimeout    = 10 * time.Second
	sessionTimeout = 30 * time.Second
	chatTimeout    = 60 * time.Second
	analyzeTimeout = 60 * time.Second
	observeTimeout = 2 * time.Minute
	ttsTimeout     = 60 * time.Second
)

// minAudioBytes is the smallest plausible audio payload. Anything shorter is
// an error body masquerading as audio.
const minAudioBytes = 100

// CommandObserveCanvas is the command field value by which the server asks the
// client to capture and submit the current canvas.
const CommandObserveCanvas = "observe_canvas"

var (
	// ErrNoActiveSession is returned when an operation requiring a session is
	// issued with an empty session ID.
	ErrNoActiveSession = errors.New("no active session")

	// ErrMalformedAudio is returned when a speech synthesis response is too
	// small or not decodable as audio.
	ErrMalformedAudio = errors.New("malformed audio response")
)

// ObserveCanvasFunc is notified when a chat response carries the
// observe_canvas command, before the response is returned to the caller.
type ObserveCanvasFunc func(sessionID string)

// Client talks to the chat endpoints. It is safe for concurrent use;
// overlapping calls are not sequenced against each other.
type Client struct {
	tc *transport.Client

	mu              sync.RWMutex
	onObserveCanvas ObserveCanvasFunc
}

// NewClient creates a chat client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{tc: transport.New(baseURL)}
}

// OnObserveCanvas registers the handler invoked when the server requests a
// canvas observation via the command field. Passing nil removes it.
func (c *Client) OnObserveCanvas(fn ObserveCanvasFunc) {
	c.mu.Lock()
	c.onObserveCanvas = fn
	c.mu.Unlock()
}

func (c *Client) observeCanvasFunc() ObserveCanvasFunc {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.onObserveCanvas
}

// Ping checks that the chat backend is reachable. Any live HTTP response
// except 404 counts as up, since the probe endpoint may reject the empty
// request while the service itself is running.
func (c *Client) Ping(ctx context.Context) error {
	status, err := c.tc.Probe(ctx, "/api/session/new", pingTimeout)
	if err != nil {
		return fmt.Errorf("chat backend unreachable: %w", err)
	}
	if status == http.StatusNotFound {
		return fmt.Errorf("chat backend responded %d", status)
	}
	return nil
}

// CreateSession asks the server for a fresh conversational session.
func (c *Client) CreateSession(ctx context.Context) (*Session, error) {
	reqID := shortID()
	log.Printf("[%s] creating chat session", reqID)

	data, err := c.tc.PostJSON(ctx, "/api/session/new", nil, sessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	var resp sessionEnvelope
	if err := transport.DecodeJSON(data, &resp); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if !resp.Success || resp.SessionID == "" {
		return nil, fmt.Errorf("create session: %w: %s", transport.ErrServerReported, resp.Error)
	}

	log.Printf("[%s] session created: %s", reqID, resp.SessionID)
	return &Session{ID: resp.SessionID, CreatedAt: time.Now()}, nil
}

// SendText sends a text message within the given session. If the reply
// carries the observe_canvas command, the registered handler fires before
// SendText returns.
func (c *Client) SendText(ctx context.Context, sessionID, text string) (*ChatResponse, error) {
	body := map[string]string{"text": text, "session_id": sessionID}
	data, err := c.tc.PostJSON(ctx, "/api/chat", body, chatTimeout)
	if err != nil {
		return nil, fmt.Errorf("send text: %w", err)
	}

	var resp ChatResponse
	if err := transport.DecodeJSON(data, &resp); err != nil {
		return nil, fmt.Errorf("send text: %w", err)
	}

	if resp.Command == CommandObserveCanvas {
		if fn := c.observeCanvasFunc(); fn != nil {
			fn(resp.SessionID)
		}
	}

	return &resp, nil
}

// AnalyzeImage submits an image for analysis within the given session. The
// image is base64-encoded into the JSON body; no client-side size cap is
// applied.
func (c *Client) AnalyzeImage(ctx context.Context, sessionID string, image []byte) (*AnalysisResponse, error) {
	body := map[string]string{
		"image_data": base64.StdEncoding.EncodeToString(image),
		"session_id": sessionID,
	}
	data, err := c.tc.PostJSON(ctx, "/api/analyze", body, analyzeTimeout)
	if err != nil {
		return nil, fmt.Errorf("analyze image: %w", err)
	}

	var resp AnalysisResponse
	if err := transport.DecodeJSON(data, &resp); err != nil {
		return nil, fmt.Errorf("analyze image: %w", err)
	}
	return &resp, nil
}

// ObserveAndReply submits the canvas for a combined vision description and
// conversational reply.
func (c *Client) ObserveAndReply(ctx context.Context, sessionID string, image []byte) (*ObserveReplyResponse, error) {
	reqID := shortID()
	log.Printf("[%s] observe-and-reply, image %d bytes", reqID, len(image))

	body := map[string]string{
		"image_data": base64.StdEncoding.EncodeToString(image),
		"session_id": sessionID,
	}
	data, err := c.tc.PostJSON(ctx, "/api/observe-and-reply", body, observeTimeout)
	if err != nil {
		return nil, fmt.Errorf("observe and reply: %w", err)
	}

	var resp ObserveReplyResponse
	if err := transport.DecodeJSON(data, &resp); err != nil {
		return nil, fmt.Errorf("observe and reply: %w", err)
	}
	return &resp, nil
}

// FetchHistory retrieves the transcript of the given session.
func (c *Client) FetchHistory(ctx context.Context, sessionID string) ([]HistoryItem, error) {
	if sessionID == "" {
		return nil, ErrNoActiveSession
	}

	body := map[string]string{"session_id": sessionID}
	data, err := c.tc.PostJSON(ctx, "/api/session/history", body, sessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}

	var resp historyEnvelope
	if err := transport.DecodeJSON(data, &resp); err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("fetch history: %w: %s", transport.ErrServerReported, resp.Error)
	}
	return resp.History, nil
}

// SynthesizeSpeech turns text into audio bytes. The server answers either with
// a JSON envelope holding base64 audio_data, or with raw audio bytes.
func (c *Client) SynthesizeSpeech(ctx context.Context, sessionID, text string) ([]byte, error) {
	body := map[string]string{"text": text, "session_id": sessionID}
	data, err := c.tc.PostJSON(ctx, "/api/tts", body, ttsTimeout)
	if err != nil {
		return nil, fmt.Errorf("synthesize speech: %w", err)
	}

	var resp ttsEnvelope
	if json.Unmarshal(data, &resp) == nil {
		if resp.Error != "" {
			return nil, fmt.Errorf("synthesize speech: %w: %s", transport.ErrServerReported, resp.Error)
		}
		if resp.AudioData != "" {
			audio, err := base64.StdEncoding.DecodeString(resp.AudioData)
			if err != nil {
				return nil, fmt.Errorf("synthesize speech: %w: bad base64", ErrMalformedAudio)
			}
			return audio, nil
		}
	}

	// Raw audio path. A tiny body is an error payload masquerading as audio.
	if len(data) < minAudioBytes {
		return nil, fmt.Errorf("synthesize speech: %w: %d bytes", ErrMalformedAudio, len(data))
	}
	return data, nil
}

// Transcribe uploads recorded audio for speech recognition and returns the
// recognized text.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	data, err := c.tc.PostMultipart(ctx, "/api/speech-to-text", "file", filename, audio, chatTimeout)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}

	var resp transcribeEnvelope
	if err := transport.DecodeJSON(data, &resp); err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	if !resp.Success {
		return "", fmt.Errorf("transcribe: %w: %s", transport.ErrServerReported, resp.Error)
	}
	return resp.Text, nil
}

// shortID returns an 8-character id for request-scoped diagnostics.
func shortID() string {
	return uuid.New().String()[:8]
}
