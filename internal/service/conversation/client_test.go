package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	model "github.com/zhouzirui/moodmirror/internal/model/conversation"
)

func TestHTTPClientConverse(t *testing.T) {
	var got model.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/conversation" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Errorf("expected X-Request-ID header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(model.Result{AssistantMessage: "hey", Audio: "AA=="})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL+"/", 0)
	result, err := client.Converse(context.Background(), model.Request{Audio: "YQ==", Character: "mark_v2_3"})
	if err != nil {
		t.Fatalf("Converse err: %v", err)
	}
	if result.AssistantMessage != "hey" || result.Audio != "AA==" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if got.Audio != "YQ==" || got.Character != "mark_v2_3" {
		t.Fatalf("unexpected request body: %+v", got)
	}
}

func TestHTTPClientRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(model.ErrorResponse{Error: "tts unavailable"})
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, 0).Converse(context.Background(), model.Request{})
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remoteErr.Status != http.StatusBadGateway || remoteErr.Error() != "tts unavailable" {
		t.Fatalf("unexpected remote error: %+v", remoteErr)
	}
}

func TestHTTPClientRemoteErrorWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, 0).Converse(context.Background(), model.Request{})
	if err == nil || err.Error() != "Server error" {
		t.Fatalf("expected generic server error, got %v", err)
	}
}
