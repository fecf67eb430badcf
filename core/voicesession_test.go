package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/roleplaylabs/drill-core/core/realtime"
)

func newVoiceTestServer(t *testing.T, script func(conn *websocket.Conn)) (url string, cleanup func()) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("failed to upgrade voice test connection: %v", err)
			return
		}
		defer conn.Close()
		script(conn)
	}))

	return "ws" + strings.TrimPrefix(server.URL, "http"), server.Close
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Errorf("failed to read client frame: %v", err)
		return nil
	}
	frame := map[string]any{}
	if err := json.Unmarshal(msg, &frame); err != nil {
		t.Errorf("failed to decode client frame: %v", err)
		return nil
	}
	return frame
}

func waitForTurns(t *testing.T, session *Session, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if session.TurnCount() >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d turns, got %d", want, session.TurnCount())
}

func TestVoiceBridgeRecordsTranscriptsAsTurns(t *testing.T) {
	instructionsUpdate := make(chan string, 1)
	url, cleanup := newVoiceTestServer(t, func(conn *websocket.Conn) {
		handshake := readJSON(t, conn)
		if handshake == nil {
			return
		}
		conn.WriteJSON(map[string]any{"type": "session.updated", "session": handshake["session"]})

		conn.WriteJSON(map[string]any{
			"type":       "conversation.item.input_audio_transcription.completed",
			"transcript": "I have a question about pricing.",
		})
		conn.WriteJSON(map[string]any{"type": "response.created", "response": map[string]any{"id": "resp-1"}})
		conn.WriteJSON(map[string]any{"type": "response.audio_transcript.delta", "response_id": "resp-1", "delta": "Go ahead."})
		conn.WriteJSON(map[string]any{"type": "response.done", "response_id": "resp-1"})

		// The npc turn triggers a mid-connection instruction update.
		update := readJSON(t, conn)
		if update == nil {
			return
		}
		if update["type"] != "session.update" {
			t.Errorf("expected a session.update after the npc turn, got %v", update["type"])
			return
		}
		session, _ := update["session"].(map[string]any)
		instructions, _ := session["instructions"].(string)
		instructionsUpdate <- instructions

		time.Sleep(300 * time.Millisecond)
	})
	defer cleanup()

	chat := &fakeChatClient{reply: "unused"}
	structured := &fakeStructuredClient{payload: validScorePayload}
	e := newTestEngine(chat, structured)
	defer e.Close()

	session, err := e.CreateSession("trainee-1", testScenario(), ModeTrain, nil)
	if err != nil {
		t.Fatalf("expected session creation to succeed, got %v", err)
	}

	bridge := NewVoiceBridge(session, realtime.NewClient(url))
	if err := bridge.Connect(context.Background(), realtime.DefaultSessionConfig(), realtime.Callbacks{}); err != nil {
		t.Fatalf("expected voice connect to succeed, got %v", err)
	}
	if session.Status() != StatusActive {
		t.Fatalf("expected an active session after voice connect, got %s", session.Status())
	}

	waitForTurns(t, session, 2)

	turns, _ := e.store.List(session.ID)
	if turns[0].Role != TurnRoleUser || turns[0].Content != "I have a question about pricing." {
		t.Fatalf("expected the user transcript as turn 0, got %+v", turns[0])
	}
	if turns[1].Role != TurnRoleNPC || turns[1].Content != "Go ahead." {
		t.Fatalf("expected the response transcript as turn 1, got %+v", turns[1])
	}

	select {
	case instructions := <-instructionsUpdate:
		if instructions == "" {
			t.Fatal("expected non-empty instructions in the mid-connection update")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected the instruction update frame")
	}

	report, err := bridge.End(context.Background())
	if err != nil {
		t.Fatalf("expected voice end to succeed, got %v", err)
	}
	if report == nil {
		t.Fatal("expected a final report from a voice session")
	}
	if len(session.partialScores()) != 1 {
		t.Fatalf("expected the user turn to be evaluated, got %d partials", len(session.partialScores()))
	}
}

func TestVoiceBridgeAbortsTheSessionOnTransportFailure(t *testing.T) {
	url, cleanup := newVoiceTestServer(t, func(conn *websocket.Conn) {
		handshake := readJSON(t, conn)
		if handshake == nil {
			return
		}
		conn.WriteJSON(map[string]any{"type": "session.updated", "session": handshake["session"]})
		conn.Close()
	})
	defer cleanup()

	e := newTestEngine(&fakeChatClient{reply: "unused"}, &fakeStructuredClient{payload: validScorePayload})
	defer e.Close()

	session, _ := e.CreateSession("trainee-1", testScenario(), ModeTrain, nil)

	disconnected := make(chan error, 1)
	bridge := NewVoiceBridge(session, realtime.NewClient(url))
	err := bridge.Connect(context.Background(), realtime.DefaultSessionConfig(), realtime.Callbacks{
		OnDisconnected: func(err error) { disconnected <- err },
	})
	if err != nil {
		t.Fatalf("expected voice connect to succeed, got %v", err)
	}

	select {
	case err := <-disconnected:
		if err == nil {
			t.Fatal("expected a transport error on abrupt disconnect")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected the disconnect callback")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && session.Status() != StatusAborted {
		time.Sleep(10 * time.Millisecond)
	}
	if session.Status() != StatusAborted {
		t.Fatalf("expected the session to be aborted, got %s", session.Status())
	}
}
