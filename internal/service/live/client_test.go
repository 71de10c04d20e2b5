package live

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/global-compliance/backend/internal/apperr"
	"github.com/zhouzirui/global-compliance/backend/internal/audio"
	advisormodel "github.com/zhouzirui/global-compliance/backend/internal/model/advisor"
)

type capturedSession struct {
	query  string
	setup  map[string]any
	chunks []map[string]any
}

// newEndpoint runs a fake voice endpoint: it records the setup frame, acknowledges it,
// replays script, then records one realtimeInput frame before sending goAway.
func newEndpoint(t *testing.T, script []string, seen chan<- capturedSession) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		record := capturedSession{query: r.URL.RawQuery}
		if err := conn.ReadJSON(&record.setup); err != nil {
			t.Errorf("read setup: %v", err)
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"setupComplete":{}}`))
		for _, frame := range script {
			_ = conn.WriteMessage(websocket.BinaryMessage, []byte(frame))
		}

		var chunk map[string]any
		if err := conn.ReadJSON(&chunk); err == nil {
			record.chunks = append(record.chunks, chunk)
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"goAway":{"timeLeft":"0s"}}`))
		seen <- record

		// drain until the client closes
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClientRoundTrip(t *testing.T) {
	script := []string{
		`{"serverContent":{"inputTranscription":{"text":"Hel"}}}`,
		`{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"AAAB"}}]},"outputTranscription":{"text":"Hi"}}}`,
		`{"usageMetadata":{"totalTokenCount":12}}`,
		`{"serverContent":{"interrupted":true,"turnComplete":true}}`,
	}
	seen := make(chan capturedSession, 1)
	srv := newEndpoint(t, script, seen)
	defer srv.Close()

	client := NewClient(Config{APIKey: "secret", URL: wsURL(srv), Model: "live-model"})
	conn, err := client.Dial(context.Background(), advisormodel.SessionConfig{
		Voice:               "Zephyr",
		SystemInstruction:   "You are an elite Global Trade Advisor.",
		InputTranscription:  true,
		OutputTranscription: true,
	})
	if err != nil {
		t.Fatalf("Dial err: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	msg, err := conn.Recv(ctx)
	if err != nil || !msg.SetupComplete {
		t.Fatalf("expected setup ack, got %+v err=%v", msg, err)
	}
	if msg, _ = conn.Recv(ctx); msg.InputTranscript != "Hel" {
		t.Fatalf("unexpected input transcript %+v", msg)
	}
	msg, _ = conn.Recv(ctx)
	if len(msg.Audio) != 1 || msg.Audio[0] != "AAAB" || msg.OutputTranscript != "Hi" {
		t.Fatalf("unexpected model turn %+v", msg)
	}
	// the usage-only frame is skipped
	msg, _ = conn.Recv(ctx)
	if !msg.Interrupted || !msg.TurnComplete {
		t.Fatalf("unexpected control frame %+v", msg)
	}

	if err := conn.SendAudio(audio.ToTransport([]float32{0.5})); err != nil {
		t.Fatalf("SendAudio err: %v", err)
	}
	if _, err := conn.Recv(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF on goAway, got %v", err)
	}

	var record capturedSession
	select {
	case record = <-seen:
	case <-time.After(2 * time.Second):
		t.Fatal("endpoint never saw the session")
	}

	if !strings.Contains(record.query, "key=secret") {
		t.Fatalf("api key not sent: %q", record.query)
	}
	raw, _ := json.Marshal(record.setup)
	for _, want := range []string{
		`"model":"models/live-model"`,
		`"responseModalities":["AUDIO"]`,
		`"voiceName":"Zephyr"`,
		`"inputAudioTranscription":{}`,
		`"outputAudioTranscription":{}`,
		`"text":"You are an elite Global Trade Advisor."`,
	} {
		if !strings.Contains(string(raw), want) {
			t.Fatalf("setup frame missing %s: %s", want, raw)
		}
	}

	if len(record.chunks) != 1 {
		t.Fatalf("expected one realtime input frame, got %d", len(record.chunks))
	}
	chunk, _ := json.Marshal(record.chunks[0])
	if !strings.Contains(string(chunk), `"mimeType":"audio/pcm;rate=16000"`) {
		t.Fatalf("unexpected realtime input %s", chunk)
	}
}

func TestDialWithoutKeyIsConfigError(t *testing.T) {
	_, err := NewClient(Config{URL: "ws://127.0.0.1:1"}).Dial(context.Background(), advisormodel.SessionConfig{})
	if !errors.Is(err, apperr.ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestDialFailureIsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewClient(Config{APIKey: "k", URL: wsURL(srv)}).Dial(context.Background(), advisormodel.SessionConfig{})
	if !errors.Is(err, apperr.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	seen := make(chan capturedSession, 1)
	srv := newEndpoint(t, nil, seen)
	defer srv.Close()

	conn, err := NewClient(Config{APIKey: "k", URL: wsURL(srv)}).Dial(context.Background(), advisormodel.SessionConfig{})
	if err != nil {
		t.Fatalf("Dial err: %v", err)
	}
	conn.Close()
	conn.Close()
}
