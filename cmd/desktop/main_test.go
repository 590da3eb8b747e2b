// Package main tests for desktop server routing and the WebSocket hub.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kimhsiao/ledgerdesk/backend/internal/config"
	"github.com/kimhsiao/ledgerdesk/backend/internal/models"
	"github.com/kimhsiao/ledgerdesk/backend/internal/session"
	"github.com/kimhsiao/ledgerdesk/backend/internal/storage"
)

// okTransport accepts every call.
type okTransport struct{}

func (okTransport) List(ctx context.Context, resource string) ([]models.Record, error) {
	return []models.Record{}, nil
}

func (okTransport) Create(ctx context.Context, resource string, rec models.Record) (models.Record, error) {
	return rec.Merge(models.Record{"id": "7"}), nil
}

func (okTransport) Update(ctx context.Context, resource, id string, patch models.Record) (models.Record, error) {
	return patch, nil
}

func (okTransport) Delete(ctx context.Context, resource, id string) error { return nil }

// setupServer starts the full router on a test server.
func setupServer(t *testing.T) (*httptest.Server, *session.Session, *WSHub) {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()

	sess, err := session.New(cfg, session.Options{
		Store:         storage.NewMemoryStore(),
		Transport:     okTransport{},
		DisableProber: true,
	})
	if err != nil {
		t.Fatalf("session.New failed: %v", err)
	}
	hub := NewWSHub()
	connect(sess, hub)

	server := httptest.NewServer(newRouter(sess, hub))
	t.Cleanup(func() {
		server.Close()
		hub.Close()
		sess.Close()
	})
	return server, sess, hub
}

// dial opens a WebSocket and waits until the hub registered it.
func dial(t *testing.T, server *httptest.Server, hub *WSHub) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]interface{}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	return msg
}

// =====================================================
// Routing Tests
// =====================================================

// TestRouter_health verifies the health endpoint.
func TestRouter_health(t *testing.T) {
	server, _, _ := setupServer(t)

	resp, err := http.Get(server.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health failed: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health = %d %v", resp.StatusCode, body)
	}
}

// TestRouter_methodNotAllowed verifies method patterns are enforced.
func TestRouter_methodNotAllowed(t *testing.T) {
	server, _, _ := setupServer(t)

	req, _ := http.NewRequest(http.MethodPut, server.URL+"/api/sync/status", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

// =====================================================
// WebSocket Tests
// =====================================================

// TestWebSocket_connectivityEvents verifies monitor transitions reach
// clients.
func TestWebSocket_connectivityEvents(t *testing.T) {
	server, sess, hub := setupServer(t)
	conn := dial(t, server, hub)

	sess.Monitor().SetOnline(false)

	msg := readEnvelope(t, conn)
	if msg["type"] != EventConnectivityChanged {
		t.Fatalf("type = %v", msg["type"])
	}
	if data, _ := msg["data"].(map[string]interface{}); data["online"] != false {
		t.Errorf("data = %v", msg["data"])
	}
}

// TestWebSocket_subscriptionFilter verifies subscribed clients only get the
// events they asked for.
func TestWebSocket_subscriptionFilter(t *testing.T) {
	server, sess, hub := setupServer(t)
	conn := dial(t, server, hub)

	conn.WriteJSON(map[string]interface{}{"action": "subscribe", "events": []string{EventSyncCompleted}})
	if ack := readEnvelope(t, conn); ack["action"] != "subscribe_ack" {
		t.Fatalf("ack = %v", ack)
	}

	sess.Monitor().SetOnline(false)
	sess.Client().Create(context.Background(), "companies", models.Record{"name": "Acme"})
	sess.Monitor().SetOnline(true)
	sess.SyncNow(context.Background())

	msg := readEnvelope(t, conn)
	if msg["type"] != EventSyncCompleted {
		t.Fatalf("type = %v, want %s", msg["type"], EventSyncCompleted)
	}
	if data, _ := msg["data"].(map[string]interface{}); data["succeeded"] != float64(1) {
		t.Errorf("data = %v", msg["data"])
	}
}

// TestWebSocket_ping verifies the control channel.
func TestWebSocket_ping(t *testing.T) {
	server, _, hub := setupServer(t)
	conn := dial(t, server, hub)

	conn.WriteJSON(map[string]interface{}{"action": "ping"})
	if msg := readEnvelope(t, conn); msg["action"] != "pong" {
		t.Errorf("reply = %v", msg)
	}
}

// TestWSHub_closeDisconnects verifies Close drops clients and later
// broadcasts do not block.
func TestWSHub_closeDisconnects(t *testing.T) {
	server, _, hub := setupServer(t)
	dial(t, server, hub)

	hub.Close()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("clients not dropped")
		}
		time.Sleep(5 * time.Millisecond)
	}
	hub.OnConnectivity(true)
}
