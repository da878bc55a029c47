package app

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"call-transcription-service/internal/api/media"
	"call-transcription-service/internal/config"
	"call-transcription-service/internal/models"
)

func testConfig() *config.Config {
	return &config.Config{
		Service: config.ServiceConfig{Name: "test", Principal: "test-svc", ShutdownTimeout: 5 * time.Second},
		Audio:   config.AudioConfig{FrameBytes: 160, ChunkWindow: 20 * time.Millisecond, SampleRateHz: 8000},
		STT: config.STTConfig{
			Provider:       "mock",
			LanguageCode:   "en-US",
			RequestTimeout: time.Second,
			MaxRetries:     1,
			InitialBackoff: 10 * time.Millisecond,
			MockLatency:    5 * time.Millisecond,
		},
		Session: config.SessionConfig{
			IdleTimeout:   5 * time.Second,
			EvictionDelay: time.Minute,
			MailboxSize:   64,
		},
		Hub:     config.HubConfig{QueueSize: 64, WriteTimeout: time.Second, PingInterval: time.Second},
		Persist: config.PersistConfig{Driver: "memory", Timeout: time.Second, RetryMaxElapsed: time.Second},
		Log:     config.LogConfig{Level: "error", Format: "json"},
	}
}

func newTestApp(t *testing.T) (*Application, *httptest.Server) {
	t.Helper()
	a, err := New(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return a, srv
}

func TestNew_RejectsUnknownBackends(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"provider", func(c *config.Config) { c.STT.Provider = "nope" }},
		{"driver", func(c *config.Config) { c.Persist.Driver = "nope" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			if _, err := New(context.Background(), cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestApplication_MediaStreamEndToEnd(t *testing.T) {
	a, srv := newTestApp(t)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/media-stream", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer ws.Close()

	payload := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x10}, 160))
	msgs := []media.Message{
		{Event: media.EventConnected, Protocol: "Call", Version: "1.0.0"},
		{Event: media.EventStart, Start: &media.StartMessage{
			StreamSid:        "MZ1",
			CallSid:          "CA-e2e",
			Tracks:           []string{"inbound"},
			CustomParameters: map[string]string{"queue": "billing"},
			MediaFormat:      media.MediaFormat{Encoding: "audio/x-mulaw", SampleRate: 8000, Channels: 1},
		}},
	}
	for i := 1; i <= 3; i++ {
		msgs = append(msgs, media.Message{Event: media.EventMedia, Media: &media.MediaMessage{
			Track:   "inbound",
			Chunk:   strconv.Itoa(i),
			Payload: payload,
		}})
	}
	msgs = append(msgs, media.Message{Event: media.EventStop, Stop: &media.StopMessage{CallSid: "CA-e2e"}})
	for _, m := range msgs {
		if err := ws.WriteJSON(m); err != nil {
			t.Fatalf("WriteJSON() error = %v", err)
		}
	}

	var snap models.SessionSnapshot
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(srv.URL + "/v1/calls/CA-e2e")
		if err != nil {
			t.Fatalf("GET error = %v", err)
		}
		if resp.StatusCode == http.StatusOK {
			_ = json.NewDecoder(resp.Body).Decode(&snap)
		}
		resp.Body.Close()
		if snap.IsTerminal() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if snap.State != models.StateCompleted {
		t.Fatalf("state = %s, want completed (snapshot %+v)", snap.State, snap)
	}
	want := "I want to cancel my subscription Yes please go ahead Can you help me with my account"
	if snap.Transcript != want {
		t.Errorf("transcript = %q, want %q", snap.Transcript, want)
	}
	if snap.Metadata["queue"] != "billing" {
		t.Errorf("metadata = %v", snap.Metadata)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestApplication_ReadinessFollowsShutdown(t *testing.T) {
	a, srv := newTestApp(t)

	get := func() int {
		resp, err := http.Get(srv.URL + "/v1/readiness")
		if err != nil {
			t.Fatalf("GET error = %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := get(); code != http.StatusOK {
		t.Errorf("readiness = %d, want 200", code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	if code := get(); code != http.StatusServiceUnavailable {
		t.Errorf("readiness after shutdown = %d, want 503", code)
	}
	if _, err := a.Sessions.Start(context.Background(), "call-late", nil); err == nil {
		t.Error("expected Start to fail after shutdown")
	}
}
