package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Kerremmarket/credit/monitoring"
)

// Mounts the API behind the same middleware chain the server builds, so
// the upgrade path is exercised through the logging response wrapper.
func chainedHandler(api *API) http.Handler {
	log := zap.NewNop()
	mux := http.NewServeMux()
	api.Register(mux)
	chain := Chain(
		RecoveryMiddleware(log),
		LoggerMiddleware(log),
		SecurityHeadersMiddleware,
		CORSMiddleware([]string{"*"}),
		TimeoutMiddleware(5*time.Second),
	)
	return chain(mux)
}

func TestTrainingWebSocketThroughMiddleware(t *testing.T) {
	api := newTestAPI(t)
	ts := httptest.NewServer(chainedHandler(api))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws/training"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("handshake failed through middleware chain: %v (status %d)", err, status)
	}
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)
	api.Hub.Publish(monitoring.TrainingEvent{Type: monitoring.TrainingStarted, Model: "logistic"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var event monitoring.TrainingEvent
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("invalid event payload: %v", err)
	}
	if event.Type != monitoring.TrainingStarted || event.Model != "logistic" {
		t.Errorf("unexpected event: %+v", event)
	}
}

func TestRESTStillServedThroughMiddleware(t *testing.T) {
	api := newTestAPI(t)
	ts := httptest.NewServer(chainedHandler(api))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("unexpected status: %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("security headers missing, got %q", got)
	}
}
