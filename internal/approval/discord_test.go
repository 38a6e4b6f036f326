package approval_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/2keychains/2kc/internal/approval"
)

func TestDiscordSendApprovalRequestReturnsMessageID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("wait") != "true" {
			t.Errorf("expected wait=true query param, got %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "msg-123"})
	}))
	defer srv.Close()

	d := approval.NewDiscord(approval.DiscordConfig{WebhookURL: srv.URL})
	id, err := d.SendApprovalRequest(context.Background(), approval.Summary{RequestID: "r1"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "msg-123" {
		t.Fatalf("got id %q", id)
	}
}

func TestDiscordWaitForResponseApprovedTakesPrecedence(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/channels/chan1/messages/msg1/reactions/✅", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]string{{"id": "u1"}})
	})
	mux.HandleFunc("/channels/chan1/messages/msg1/reactions/❌", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]string{{"id": "u2"}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := approval.NewDiscordForTest(approval.DiscordConfig{ChannelID: "chan1"}, srv.URL)
	v, err := d.WaitForResponse(context.Background(), "msg1", 5*time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if v != approval.VerdictApproved {
		t.Fatalf("expected approved to win precedence, got %s", v)
	}
}

func TestDiscordWaitForResponseDenied(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/channels/chan1/messages/msg1/reactions/✅", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/channels/chan1/messages/msg1/reactions/❌", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]string{{"id": "u2"}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := approval.NewDiscordForTest(approval.DiscordConfig{ChannelID: "chan1"}, srv.URL)
	v, err := d.WaitForResponse(context.Background(), "msg1", 5*time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if v != approval.VerdictDenied {
		t.Fatalf("expected denied, got %s", v)
	}
}

func TestDiscordWaitForResponseTimeout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/channels/chan1/messages/msg1/reactions/✅", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/channels/chan1/messages/msg1/reactions/❌", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := approval.NewDiscordForTest(approval.DiscordConfig{ChannelID: "chan1"}, srv.URL)
	v, err := d.WaitForResponse(context.Background(), "msg1", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if v != approval.VerdictTimeout {
		t.Fatalf("expected timeout, got %s", v)
	}
}
