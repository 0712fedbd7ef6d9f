package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func startTestNATS(t *testing.T) (*natsserver.Server, *nats.Conn) {
	t.Helper()
	opts := &natsserver.Options{Port: -1}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return srv, nc
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestHandleHealth(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	handleHealth(w, req)

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status body = %q", body["status"])
	}
}

func TestHandleIngest_ValidatesRequest(t *testing.T) {
	_, nc := startTestNATS(t)
	h := handleIngest(nc, testLogger())

	// missing userId/sessionId/content should fail validation before publish.
	payload, _ := json.Marshal(ingestRequestBody{})
	req := httptest.NewRequest("POST", "/api/v1/ingest", bytes.NewReader(payload))
	w := httptest.NewRecorder()
	h(w, req)

	if w.Code != 400 {
		t.Fatalf("status = %d, want 400, body=%s", w.Code, w.Body.String())
	}
}

func TestHandleIngest_PublishesOnSuccess(t *testing.T) {
	_, nc := startTestNATS(t)
	h := handleIngest(nc, testLogger())

	sub, err := nc.SubscribeSync("engine.ingest.session.sess-1")
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	body := ingestRequestBody{
		EpisodeBody: "the brake pads were replaced last week",
		Type:        "CONVERSATION",
		SessionID:   "sess-1",
		UserID:      "user-1",
	}
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", "/api/v1/ingest", bytes.NewReader(payload))
	w := httptest.NewRecorder()
	h(w, req)

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	var resp ingestResponseBody
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ID == "" {
		t.Fatal("expected a non-empty response id")
	}

	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("expected a published message: %v", err)
	}
	if len(msg.Data) == 0 {
		t.Fatal("published message had no payload")
	}
}

func TestHandleIngest_RejectsInvalidJSON(t *testing.T) {
	_, nc := startTestNATS(t)
	h := handleIngest(nc, testLogger())

	req := httptest.NewRequest("POST", "/api/v1/ingest", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	h(w, req)

	if w.Code != 400 {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	os.Unsetenv("PORT")
	os.Unsetenv("CORS_ORIGIN")
	cfg := loadConfig()
	if cfg.Port != "8080" {
		t.Fatalf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.CORSOrigin != "*" {
		t.Fatalf("CORSOrigin = %q, want *", cfg.CORSOrigin)
	}
	if cfg.EmbedDims != 768 {
		t.Fatalf("EmbedDims = %d, want 768", cfg.EmbedDims)
	}
}

func TestEnvOr(t *testing.T) {
	os.Unsetenv("GRAPHWEAVE_TEST_VAR")
	if got := envOr("GRAPHWEAVE_TEST_VAR", "fallback"); got != "fallback" {
		t.Fatalf("envOr = %q, want fallback", got)
	}
	os.Setenv("GRAPHWEAVE_TEST_VAR", "set")
	defer os.Unsetenv("GRAPHWEAVE_TEST_VAR")
	if got := envOr("GRAPHWEAVE_TEST_VAR", "fallback"); got != "set" {
		t.Fatalf("envOr = %q, want set", got)
	}
}
