package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/d1nch8g/linecue/engine"
	"github.com/d1nch8g/linecue/events"
	"github.com/d1nch8g/linecue/journal"
	"github.com/d1nch8g/linecue/queue"
)

const (
	writeWait     = 10 * time.Second
	pingInterval  = 30 * time.Second
	maxBodyBytes  = 64 << 10
	historyLimit  = 50
	shutdownGrace = 5 * time.Second
)

// History serves journaled slot events.
type History interface {
	Recent(ctx context.Context, slot, limit int) ([]journal.Entry, error)
}

// ErrorResponse is the JSON error envelope of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Message is one websocket frame.
type Message struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Server exposes the assembly line over HTTP and streams slot events over a websocket.
type Server struct {
	engine   *engine.Engine
	bus      *events.Bus
	history  History
	logger   *log.Logger
	upgrader websocket.Upgrader
}

type Option func(*Server)

func WithHistory(history History) Option {
	return func(s *Server) { s.history = history }
}

func WithLogger(logger *log.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewServer(eng *engine.Engine, bus *events.Bus, opts ...Option) *Server {
	s := &Server{
		engine: eng,
		bus:    bus,
		logger: log.Default(),
		upgrader: websocket.Upgrader{
			// the API is meant for the line's local network
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /slots", s.handleSlots)
	mux.HandleFunc("GET /slots/{id}", s.withSlot(s.handleSlot))
	mux.HandleFunc("POST /slots/{id}/output", s.withSlot(s.handleBindOutput))
	mux.HandleFunc("POST /slots/{id}/input", s.withSlot(s.handleBindInput))
	mux.HandleFunc("DELETE /slots/{id}/input", s.withSlot(s.handleUnbindInput))
	mux.HandleFunc("POST /slots/{id}/add", s.withSlot(s.handleAdd))
	mux.HandleFunc("POST /slots/{id}/next", s.withSlot(s.handleNext))
	mux.HandleFunc("POST /slots/{id}/replay", s.withSlot(s.handleReplay))
	mux.HandleFunc("POST /slots/{id}/pause", s.withSlot(s.handlePause))
	mux.HandleFunc("DELETE /slots/{id}/items/{seq}", s.withSlot(s.handleRemove))
	mux.HandleFunc("GET /devices/outputs", s.handleOutputs)
	mux.HandleFunc("GET /devices/inputs", s.handleInputs)
	mux.HandleFunc("GET /history/{id}", s.handleHistory)
	mux.HandleFunc("GET /events", s.handleEvents)
	return mux
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Printf("[APIServer] listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("failed to serve API: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down API: %w", err)
		}
		return nil
	}
}

type slotHandler func(w http.ResponseWriter, r *http.Request, slot int)

func (s *Server) withSlot(h slotHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slot, err := strconv.Atoi(r.PathValue("id"))
		if err != nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("invalid slot %q", r.PathValue("id")))
			return
		}
		h(w, r, slot)
	}
}

func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.StatusAll())
}

func (s *Server) handleSlot(w http.ResponseWriter, r *http.Request, slot int) {
	st, err := s.engine.Status(slot)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type bindOutputRequest struct {
	Device string `json:"device"`
}

func (s *Server) handleBindOutput(w http.ResponseWriter, r *http.Request, slot int) {
	var req bindOutputRequest
	if !decodeBody(w, r, &req) {
		return
	}
	device, err := s.engine.BindOutput(slot, req.Device)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"device": device})
}

type bindInputRequest struct {
	Path string `json:"path"`
}

type bindInputResponse struct {
	Path     string           `json:"path"`
	Transfer *engine.Transfer `json:"transfer,omitempty"`
	Warning  string           `json:"warning,omitempty"`
}

func (s *Server) handleBindInput(w http.ResponseWriter, r *http.Request, slot int) {
	var req bindInputRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	transfer, err := s.engine.BindInput(slot, req.Path)
	if err != nil {
		s.fail(w, err)
		return
	}
	resp := bindInputResponse{Path: req.Path, Transfer: transfer}
	if transfer != nil {
		resp.Warning = transfer.Warning().Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUnbindInput(w http.ResponseWriter, r *http.Request, slot int) {
	path, err := s.engine.UnbindInput(slot)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

type addRequest struct {
	Source string `json:"source"`
	Text   string `json:"text"`
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request, slot int) {
	var req addRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var (
		item queue.Item
		err  error
	)
	switch {
	case req.Source != "" && req.Text != "":
		writeError(w, http.StatusBadRequest, "give either source or text")
		return
	case req.Text != "":
		item, err = s.engine.AddSpoken(r.Context(), slot, req.Text)
	default:
		item, err = s.engine.AddInstruction(slot, req.Source)
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request, slot int) {
	s.respondStatus(w, slot, s.engine.ForceAdvance(slot))
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request, slot int) {
	s.respondStatus(w, slot, s.engine.Replay(slot))
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request, slot int) {
	paused, err := s.engine.TogglePause(slot)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request, slot int) {
	seq, err := strconv.Atoi(r.PathValue("seq"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid item number %q", r.PathValue("seq")))
		return
	}
	item, err := s.engine.RemoveInstruction(slot, seq)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleOutputs(w http.ResponseWriter, r *http.Request) {
	devices, err := s.engine.OutputDevices()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleInputs(w http.ResponseWriter, r *http.Request) {
	devices, err := s.engine.InputDevices()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, "journal is disabled")
		return
	}
	slot, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || slot < 0 {
		writeError(w, http.StatusNotFound, fmt.Sprintf("invalid slot %q", r.PathValue("id")))
		return
	}
	limit := historyLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive number")
			return
		}
	}

	entries, err := s.history.Recent(r.Context(), slot, limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleEvents streams a snapshot of every slot followed by live events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("[APIServer] websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe("ws " + r.RemoteAddr)
	defer sub.Close()

	if err := writeMessage(conn, "snapshot", s.engine.StatusAll()); err != nil {
		return
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if err := writeMessage(conn, "event", ev); err != nil {
				s.logger.Printf("[APIServer] websocket write error: %v", err)
				return
			}
		}
	}
}

func (s *Server) respondStatus(w http.ResponseWriter, slot int, err error) {
	if err != nil {
		s.fail(w, err)
		return
	}
	st, err := s.engine.Status(slot)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Printf("[APIServer] request failed: %v", err)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidSlot), errors.Is(err, queue.ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidSource):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, queue.ErrAlreadyPlayed), errors.Is(err, queue.ErrNotPlaying), errors.Is(err, queue.ErrNothingPlayed):
		return http.StatusConflict
	case errors.Is(err, engine.ErrSpeechUnavailable):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func writeMessage(conn *websocket.Conn, kind string, data any) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(Message{Type: kind, Data: data, Timestamp: time.Now()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[APIServer] failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
