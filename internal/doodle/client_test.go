package doodle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ChenSRFurina/Paintopia/internal/transport"
)

func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" || r.Method != http.MethodGet {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		fmt.Fprint(w, `{"status":"ok"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("Health failed: %v", err)
	}
}

func TestHealthDegraded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"degraded"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	if err := client.Health(context.Background()); err == nil {
		t.Fatal("expected error for degraded status")
	}
}

func TestAnalyzeStructuredShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/image/analyze" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if req["text"] != DefaultPrompt {
			t.Fatalf("expected default prompt, got %q", req["text"])
		}
		fmt.Fprint(w, `{"success":true,"recognition":"一只猫","suggestion":"加点颜色","story":"从前有只猫"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	result, err := client.Analyze(context.Background(), []byte("doodle"), "")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if !result.Success || result.Recognition != "一只猫" || result.Suggestion != "加点颜色" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestAnalyzeLegacyShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":"a cat"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	result, err := client.Analyze(context.Background(), []byte("doodle"), "看看这是什么")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	// Legacy responses are normalized into the structured result.
	if !result.Success {
		t.Error("legacy result should be marked successful")
	}
	if result.Recognition != "a cat" {
		t.Errorf("unexpected recognition: %s", result.Recognition)
	}
	if result.Suggestion == "" {
		t.Error("expected synthesized suggestion")
	}
	if !strings.Contains(result.Story, "a cat") {
		t.Errorf("story should embed the recognition: %s", result.Story)
	}
}

func TestAnalyzeErrorField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":"vision model offline"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.Analyze(context.Background(), []byte("doodle"), "")
	if !errors.Is(err, transport.ErrServerReported) {
		t.Fatalf("expected ErrServerReported, got %v", err)
	}
}

func TestAnalyzeUnrecognizedShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"something":"else"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.Analyze(context.Background(), []byte("doodle"), "")
	if !errors.Is(err, transport.ErrInvalidData) {
		t.Fatalf("expected ErrInvalidData, got %v", err)
	}
}

func TestAnalyzeStructuredFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"recognition":""}`)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	result, err := client.Analyze(context.Background(), []byte("doodle"), "")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	// success:false without an error field is a valid structured response.
	if result.Success {
		t.Error("expected Success=false")
	}
}

func TestTaskLifecycle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/doodle":
			fmt.Fprint(w, `{"success":true,"task_id":"task_42"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/api/doodle/status/task_42":
			fmt.Fprint(w, `{"task_id":"task_42","status":"done"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/api/doodle/result/task_42":
			fmt.Fprint(w, `{"success":true,"recognition":"小狗","suggestion":"试试阴影","story":"..."}`)
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL)
	ctx := context.Background()

	taskID, err := client.SubmitTask(ctx, []byte("doodle"))
	if err != nil {
		t.Fatalf("SubmitTask failed: %v", err)
	}
	if taskID != "task_42" {
		t.Fatalf("unexpected task id: %s", taskID)
	}

	status, err := client.FetchTaskStatus(ctx, taskID)
	if err != nil {
		t.Fatalf("FetchTaskStatus failed: %v", err)
	}
	if status.Status != "done" {
		t.Fatalf("unexpected status: %+v", status)
	}

	result, err := client.FetchTaskResult(ctx, taskID)
	if err != nil {
		t.Fatalf("FetchTaskResult failed: %v", err)
	}
	if result.Recognition != "小狗" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestSubmitTaskRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"error":"queue full"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.SubmitTask(context.Background(), []byte("doodle"))
	if !errors.Is(err, transport.ErrServerReported) {
		t.Fatalf("expected ErrServerReported, got %v", err)
	}
}
