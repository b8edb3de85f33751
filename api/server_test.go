package api

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/d1nch8g/linecue/decode"
	"github.com/d1nch8g/linecue/engine"
	"github.com/d1nch8g/linecue/events"
	"github.com/d1nch8g/linecue/journal"
	"github.com/d1nch8g/linecue/sound"
)

type fakeStream struct {
	once sync.Once
	done chan struct{}
}

func (s *fakeStream) Done() <-chan struct{} { return s.done }

func (s *fakeStream) Stop(ctx context.Context) error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *fakeStream) SetPaused(bool) {}

type fakePlayer struct{}

func (fakePlayer) Start(source, device string) (sound.Stream, error) {
	return &fakeStream{done: make(chan struct{})}, nil
}

type fakeDecoder struct{}

func (fakeDecoder) Check(path string) error {
	if strings.HasSuffix(path, ".mp3") {
		return nil
	}
	return decode.ErrUnsupported
}

func (fakeDecoder) Open(string) (*decode.PCM, error) { return nil, decode.ErrUnsupported }

type fakeHistory struct{ slot, limit int }

func (f *fakeHistory) Recent(ctx context.Context, slot, limit int) ([]journal.Entry, error) {
	f.slot, f.limit = slot, limit
	return []journal.Entry{{Slot: slot, Kind: "state", Reason: "started"}}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *engine.Engine, *events.Bus, *fakeHistory) {
	t.Helper()

	logger := log.New(io.Discard, "", 0)
	bus := events.New(events.WithLogger(logger))
	eng := engine.NewEngine(engine.EngineConfig{SlotCount: 2}, fakePlayer{}, fakeDecoder{},
		engine.WithBus(bus), engine.WithLogger(logger))
	history := &fakeHistory{}

	srv := httptest.NewServer(NewServer(eng, bus, WithHistory(history), WithLogger(logger)).Handler())
	t.Cleanup(func() {
		srv.Close()
		eng.Close()
	})
	return srv, eng, bus, history
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func TestSlotLifecycleOverHTTP(t *testing.T) {
	t.Parallel()

	srv, _, _, _ := newTestServer(t)

	if resp, body := do(t, http.MethodPost, srv.URL+"/slots/1/add", `{"source":"a.mp3"}`); resp.StatusCode != http.StatusCreated {
		t.Fatalf("add: %d %s", resp.StatusCode, body)
	}

	// no output bound yet
	if resp, body := do(t, http.MethodPost, srv.URL+"/slots/1/next", ""); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d %s", resp.StatusCode, body)
	}

	if resp, body := do(t, http.MethodPost, srv.URL+"/slots/1/output", `{"device":"ALSA/Left"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("bind output: %d %s", resp.StatusCode, body)
	}

	resp, body := do(t, http.MethodPost, srv.URL+"/slots/1/next", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("next: %d %s", resp.StatusCode, body)
	}
	var st engine.SlotStatus
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.ID != 1 || st.Index != 0 {
		t.Fatalf("unexpected status: %s", body)
	}
	if !strings.Contains(string(body), `"state":"PLAYING"`) {
		t.Fatalf("expected PLAYING in %s", body)
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/slots", "")
	var all []engine.SlotStatus
	if err := json.Unmarshal(body, &all); err != nil || resp.StatusCode != http.StatusOK || len(all) != 2 {
		t.Fatalf("list slots: %d %s", resp.StatusCode, body)
	}
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()

	srv, _, _, _ := newTestServer(t)

	tests := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodPost, "/slots/9/next", "", http.StatusNotFound},
		{http.MethodGet, "/slots/abc", "", http.StatusNotFound},
		{http.MethodPost, "/slots/1/add", `{"source":"notes.txt"}`, http.StatusBadRequest},
		{http.MethodPost, "/slots/1/add", `{"text":"hello"}`, http.StatusNotImplemented},
		{http.MethodPost, "/slots/1/add", `{`, http.StatusBadRequest},
		{http.MethodPost, "/slots/1/replay", "", http.StatusConflict},
		{http.MethodDelete, "/slots/1/items/7", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		resp, body := do(t, tt.method, srv.URL+tt.path, tt.body)
		if resp.StatusCode != tt.want {
			t.Fatalf("%s %s: expected %d, got %d %s", tt.method, tt.path, tt.want, resp.StatusCode, body)
		}
		var e ErrorResponse
		if err := json.Unmarshal(body, &e); err != nil || e.Error == "" {
			t.Fatalf("%s %s: expected error envelope, got %s", tt.method, tt.path, body)
		}
	}
}

func TestBindInputReportsTransfer(t *testing.T) {
	t.Parallel()

	srv, _, _, _ := newTestServer(t)

	do(t, http.MethodPost, srv.URL+"/slots/1/input", `{"path":"/dev/hidraw3"}`)
	resp, body := do(t, http.MethodPost, srv.URL+"/slots/2/input", `{"path":"/dev/hidraw3"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bind input: %d %s", resp.StatusCode, body)
	}

	var got bindInputResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Transfer == nil || got.Transfer.From != 1 || got.Transfer.To != 2 || got.Warning == "" {
		t.Fatalf("expected transfer warning, got %s", body)
	}
}

func TestHistoryPassesLimit(t *testing.T) {
	t.Parallel()

	srv, _, _, history := newTestServer(t)

	resp, body := do(t, http.MethodGet, srv.URL+"/history/2?limit=5", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history: %d %s", resp.StatusCode, body)
	}
	if history.slot != 2 || history.limit != 5 {
		t.Fatalf("unexpected query slot=%d limit=%d", history.slot, history.limit)
	}
}

func TestEventsWebsocket(t *testing.T) {
	t.Parallel()

	srv, eng, _, _ := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first struct {
		Type string              `json:"type"`
		Data []engine.SlotStatus `json:"data"`
	}
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if first.Type != "snapshot" || len(first.Data) != 2 {
		t.Fatalf("unexpected snapshot: %+v", first)
	}

	if _, err := eng.BindOutput(2, "ALSA/Right"); err != nil {
		t.Fatalf("bind output: %v", err)
	}
	if _, err := eng.AddInstruction(2, "a.mp3"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := eng.ForceAdvance(2); err != nil {
		t.Fatalf("force advance: %v", err)
	}

	for {
		var msg struct {
			Type string       `json:"type"`
			Data events.Event `json:"data"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if msg.Type == "event" && msg.Data.Slot == 2 && msg.Data.Reason == "started" {
			if msg.Data.State != "PLAYING" || msg.Data.Item == nil {
				t.Fatalf("unexpected started event: %+v", msg.Data)
			}
			return
		}
	}
}
