package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/roleplaylabs/drill-core/core/fault"
)

var testUpgrader = websocket.Upgrader{}

func newTestServer(t *testing.T, handler func(conn *websocket.Conn)) (url string, cleanup func()) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("failed to upgrade test connection: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return "ws" + strings.TrimPrefix(server.URL, "http"), server.Close
}

func readClientEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Errorf("failed to read client event: %v", err)
		return nil
	}
	event := map[string]any{}
	if err := json.Unmarshal(msg, &event); err != nil {
		t.Errorf("failed to decode client event: %v", err)
		return nil
	}
	return event
}

func sendServerEvent(t *testing.T, conn *websocket.Conn, event map[string]any) {
	t.Helper()

	if err := conn.WriteJSON(event); err != nil {
		t.Errorf("failed to send server event: %v", err)
	}
}

func completeHandshake(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	event := readClientEvent(t, conn)
	if event == nil {
		return
	}
	if event["type"] != "session.update" {
		t.Errorf("expected a session.update handshake, got %v", event["type"])
	}
	if event["event_id"] == "" {
		t.Error("expected the handshake to carry an event id")
	}
	sendServerEvent(t, conn, map[string]any{"type": "session.updated", "session": event["session"]})
}

func TestSendAudioBeforeConfigurationFailsWithStateError(t *testing.T) {
	release := make(chan struct{})
	url, cleanup := newTestServer(t, func(conn *websocket.Conn) {
		event := readClientEvent(t, conn)
		if event == nil {
			return
		}
		<-release
		sendServerEvent(t, conn, map[string]any{"type": "session.updated", "session": event["session"]})
		time.Sleep(200 * time.Millisecond)
	})
	defer cleanup()

	configured := make(chan struct{})
	client := NewClient(url)
	err := client.Connect(context.Background(), DefaultSessionConfig(), Callbacks{
		OnConfigured: func(SessionConfig) { close(configured) },
	})
	if err != nil {
		t.Fatalf("expected connect to succeed, got %v", err)
	}
	defer client.Close()

	if err := client.SendAudio([]byte{1, 2, 3}); !fault.IsState(err) {
		t.Fatalf("expected a state error before the handshake completes, got %v", err)
	}

	close(release)
	select {
	case <-configured:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the configuration acknowledgement")
	}

	if err := client.SendAudio([]byte{1, 2, 3}); err != nil {
		t.Fatalf("expected audio to be accepted after configuration, got %v", err)
	}
}

func TestBargeInCancelsTheInFlightResponse(t *testing.T) {
	cancelSeen := make(chan map[string]any, 1)
	serverDone := make(chan struct{})
	url, cleanup := newTestServer(t, func(conn *websocket.Conn) {
		defer close(serverDone)
		completeHandshake(t, conn)

		sendServerEvent(t, conn, map[string]any{"type": "response.created", "response": map[string]any{"id": "resp-1"}})
		sendServerEvent(t, conn, map[string]any{"type": "response.audio.delta", "response_id": "resp-1", "delta": "AAAA"})
		sendServerEvent(t, conn, map[string]any{"type": "input_audio_buffer.speech_started"})

		// The client must emit the cancel frame before any further inbound
		// frame is acted on.
		event := readClientEvent(t, conn)
		if event == nil {
			return
		}
		cancelSeen <- event

		sendServerEvent(t, conn, map[string]any{"type": "response.audio.delta", "response_id": "resp-1", "delta": "BBBB"})
		sendServerEvent(t, conn, map[string]any{"type": "response.done", "response_id": "resp-1"})
		time.Sleep(100 * time.Millisecond)
	})
	defer cleanup()

	var mu sync.Mutex
	deliveredDeltas := []string{}
	cancelled := make(chan string, 1)
	doneFired := false

	client := NewClient(url)
	err := client.Connect(context.Background(), DefaultSessionConfig(), Callbacks{
		OnAudioDelta: func(responseID string, audio []byte) {
			mu.Lock()
			deliveredDeltas = append(deliveredDeltas, responseID)
			mu.Unlock()
		},
		OnResponseCancelled: func(responseID string) { cancelled <- responseID },
		OnResponseDone: func(responseID string, transcript string) {
			mu.Lock()
			doneFired = true
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("expected connect to succeed, got %v", err)
	}
	defer client.Close()

	select {
	case event := <-cancelSeen:
		if event["type"] != "response.cancel" {
			t.Fatalf("expected a response.cancel frame after speech_started, got %v", event["type"])
		}
		if event["response_id"] != "resp-1" {
			t.Fatalf("expected the cancel to target resp-1, got %v", event["response_id"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected the client to emit a cancel frame")
	}

	select {
	case responseID := <-cancelled:
		if responseID != "resp-1" {
			t.Fatalf("expected resp-1 to be reported cancelled, got %s", responseID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected the cancellation callback")
	}

	<-serverDone
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(deliveredDeltas) != 1 {
		t.Fatalf("expected only the pre-barge-in delta to be delivered, got %d", len(deliveredDeltas))
	}
	if doneFired {
		t.Fatal("expected no completion callback for the cancelled response")
	}
}

func TestResponseTranscriptIsAccumulatedAcrossDeltas(t *testing.T) {
	url, cleanup := newTestServer(t, func(conn *websocket.Conn) {
		completeHandshake(t, conn)
		sendServerEvent(t, conn, map[string]any{"type": "response.created", "response": map[string]any{"id": "resp-1"}})
		sendServerEvent(t, conn, map[string]any{"type": "response.audio_transcript.delta", "response_id": "resp-1", "delta": "Hel"})
		sendServerEvent(t, conn, map[string]any{"type": "response.audio_transcript.delta", "response_id": "resp-1", "delta": "lo."})
		sendServerEvent(t, conn, map[string]any{"type": "response.done", "response_id": "resp-1"})
		time.Sleep(100 * time.Millisecond)
	})
	defer cleanup()

	done := make(chan string, 1)
	client := NewClient(url)
	err := client.Connect(context.Background(), DefaultSessionConfig(), Callbacks{
		OnResponseDone: func(responseID string, transcript string) { done <- transcript },
	})
	if err != nil {
		t.Fatalf("expected connect to succeed, got %v", err)
	}
	defer client.Close()

	select {
	case transcript := <-done:
		if transcript != "Hello." {
			t.Fatalf("expected the accumulated transcript, got %q", transcript)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected the response completion callback")
	}
}

func TestAbruptDisconnectReportsATransportError(t *testing.T) {
	url, cleanup := newTestServer(t, func(conn *websocket.Conn) {
		completeHandshake(t, conn)
		conn.Close()
	})
	defer cleanup()

	disconnected := make(chan error, 1)
	client := NewClient(url)
	err := client.Connect(context.Background(), DefaultSessionConfig(), Callbacks{
		OnDisconnected: func(err error) { disconnected <- err },
	})
	if err != nil {
		t.Fatalf("expected connect to succeed, got %v", err)
	}

	select {
	case err := <-disconnected:
		if !fault.IsTransport(err) {
			t.Fatalf("expected a transport error on abrupt disconnect, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected the disconnect callback")
	}

	if client.State() != StateDisconnected {
		t.Fatalf("expected the client to return to disconnected, got %s", client.State())
	}
}

func TestConnectIsRejectedWhileConnected(t *testing.T) {
	url, cleanup := newTestServer(t, func(conn *websocket.Conn) {
		completeHandshake(t, conn)
		time.Sleep(200 * time.Millisecond)
	})
	defer cleanup()

	client := NewClient(url)
	if err := client.Connect(context.Background(), DefaultSessionConfig(), Callbacks{}); err != nil {
		t.Fatalf("expected connect to succeed, got %v", err)
	}
	defer client.Close()

	if err := client.Connect(context.Background(), DefaultSessionConfig(), Callbacks{}); !fault.IsState(err) {
		t.Fatalf("expected a second connect to be rejected, got %v", err)
	}
}

func TestManualModeDisablesAutonomousResponses(t *testing.T) {
	handshake := make(chan map[string]any, 1)
	url, cleanup := newTestServer(t, func(conn *websocket.Conn) {
		event := readClientEvent(t, conn)
		if event == nil {
			return
		}
		handshake <- event
		sendServerEvent(t, conn, map[string]any{"type": "session.updated", "session": event["session"]})
		time.Sleep(100 * time.Millisecond)
	})
	defer cleanup()

	client := NewClient(url, WithManualTurns())
	if err := client.Connect(context.Background(), DefaultSessionConfig(), Callbacks{}); err != nil {
		t.Fatalf("expected connect to succeed, got %v", err)
	}
	defer client.Close()

	select {
	case event := <-handshake:
		session, ok := event["session"].(map[string]any)
		if !ok {
			t.Fatal("expected the handshake to carry a session config")
		}
		turnDetection, ok := session["turn_detection"].(map[string]any)
		if !ok {
			t.Fatal("expected the session config to carry turn detection")
		}
		if create, ok := turnDetection["create_response"].(bool); !ok || create {
			t.Fatalf("expected create_response to be forced false in manual mode, got %v", turnDetection["create_response"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected the handshake frame")
	}
}
