package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func TestHubBroadcastsToClient(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Start()
	defer hub.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/ws/training", hub.HandleWebSocket)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws/training"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// Give the hub time to register the client before broadcasting.
	time.Sleep(50 * time.Millisecond)
	hub.Publish(TrainingEvent{Type: TrainingProgress, Model: "rf", Step: 3, Total: 10, Loss: 0.42})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	var event TrainingEvent
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("invalid event payload: %v", err)
	}
	if event.Type != TrainingProgress || event.Model != "rf" || event.Step != 3 {
		t.Errorf("unexpected event: %+v", event)
	}
	if event.Timestamp.IsZero() {
		t.Error("event timestamp not set")
	}
}

func TestPublishWithoutClients(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Start()
	defer hub.Stop()

	// Must not block or panic with nobody listening.
	for i := 0; i < 10; i++ {
		hub.Publish(TrainingEvent{Type: TrainingStarted, Model: "xgb"})
	}
}
