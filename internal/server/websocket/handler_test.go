package websocket_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	ws "github.com/tripwire/frostwatch/internal/server/websocket"
)

func startServer(t *testing.T) (*ws.Broadcaster, *httptest.Server) {
	t.Helper()
	bc := newTestBroadcaster(16)
	h := ws.NewHandler(bc, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Second)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return bc, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitClients blocks until the handler has registered n clients.
func waitClients(t *testing.T, bc *ws.Broadcaster, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for bc.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount = %d, want %d", bc.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandler_RejectsPlainRequest(t *testing.T) {
	_, srv := startServer(t)
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUpgradeRequired)
	}
}

func TestHandler_RejectsBadMinScore(t *testing.T) {
	_, srv := startServer(t)
	resp, err := http.Get(srv.URL + "/?min_score=high")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestHandler_StreamsFindings(t *testing.T) {
	bc, srv := startServer(t)
	conn := dial(t, srv, "?min_score=10")
	waitClients(t, bc, 1)

	bc.Publish(finding("/low.php", 5))
	bc.Publish(finding("/srv/www/shell.php", 20))

	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatal(err)
	}
	var m ws.FindingMessage
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if m.Type != "finding" || m.Data.Path != "/srv/www/shell.php" {
		t.Errorf("message = %+v", m)
	}
}

func TestHandler_DisconnectUnregisters(t *testing.T) {
	bc, srv := startServer(t)
	conn := dial(t, srv, "")
	waitClients(t, bc, 1)

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	waitClients(t, bc, 0)
}

func TestHandler_BroadcasterCloseEndsStream(t *testing.T) {
	bc, srv := startServer(t)
	conn := dial(t, srv, "")
	waitClients(t, bc, 1)

	bc.Close()

	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatal(err)
	}
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("ReadMessage error = %v, want close 1001", err)
	}
}
