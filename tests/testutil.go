package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/ghhufue/chatrelay/pkg/api"
	"github.com/ghhufue/chatrelay/pkg/auth"
	"github.com/ghhufue/chatrelay/pkg/config"
	"github.com/ghhufue/chatrelay/pkg/logger"
	"github.com/ghhufue/chatrelay/pkg/presence"
	"github.com/ghhufue/chatrelay/pkg/relay"
	"github.com/ghhufue/chatrelay/pkg/reply"
	"github.com/ghhufue/chatrelay/pkg/store"
)

const testSecret = "integration-test-secret"

// SetupServer boots a full server (store, relay services, HTTP and ws
// endpoints) on an ephemeral port and tears it down with the test.
func SetupServer(t *testing.T, gen reply.Generator) *httptest.Server {
	t.Helper()
	logger.Init()
	config.SetRuntime(&config.RuntimeConfig{TokenSecret: []byte(testSecret)})
	if err := store.Open(t.TempDir() + "/db"); err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if gen == nil {
		gen = reply.Canned{Reply: "ok"}
	}
	directory := auth.NewDirectory([]byte(testSecret))
	registry := presence.NewRegistry()
	a := &api.API{
		Registry:  registry,
		Directory: directory,
		Engine:    relay.NewEngine(registry, directory, gen, 0),
		Friends:   relay.NewFriends(registry, directory),
	}
	r := mux.NewRouter()
	a.Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

// PostJSON posts a JSON body and fails the test on transport errors.
func PostJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

// DecodeBody decodes a JSON response body into T and closes it.
func DecodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

// DialWS opens a websocket connection to the server's /ws endpoint.
func DialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}
