package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/arvis-core/internal/bus"
	"github.com/nerrad567/arvis-core/internal/outcome"
	"github.com/nerrad567/arvis-core/internal/scene"
)

// injectTimeout bounds one debug pass, including waiting for outcomes.
const injectTimeout = 30 * time.Second

// injectRequest is the wrapped form of POST /debug/events.
type injectRequest struct {
	Events []bus.Event `json:"events"`
}

// decodeEvents accepts a single event object, a bare array, or
// {"events": [...]}.
func decodeEvents(body []byte) ([]bus.Event, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("request body is empty")
	}

	if trimmed[0] == '[' {
		var events []bus.Event
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, err
		}
		return events, nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil, err
	}
	if _, wrapped := probe["events"]; wrapped {
		var req injectRequest
		if err := json.Unmarshal(trimmed, &req); err != nil {
			return nil, err
		}
		return req.Events, nil
	}

	var ev bus.Event
	if err := json.Unmarshal(trimmed, &ev); err != nil {
		return nil, err
	}
	return []bus.Event{ev}, nil
}

// handleInjectEvents runs one routing pass over the posted events and
// returns the pass report.
func (s *Server) handleInjectEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		if isBodyTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "event batch too large")
			return
		}
		writeBadRequest(w, "reading body: "+err.Error())
		return
	}
	events, err := decodeEvents(body)
	if err != nil {
		writeBadRequest(w, "invalid events: "+err.Error())
		return
	}
	if len(events) == 0 {
		writeBadRequest(w, "at least one event is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), injectTimeout)
	defer cancel()

	report, err := s.engine.Inject(ctx, events)
	if err != nil {
		if errors.Is(err, bus.ErrInvalidEvent) {
			writeBadRequest(w, err.Error())
			return
		}
		if ctx.Err() != nil {
			writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, "pass did not complete in time")
			return
		}
		writeInternalError(w, err.Error())
		return
	}

	notePass(r.Context(), len(report.Events), len(report.Instructions), len(report.Suppressed),
		report.StateBefore, report.StateAfter)
	writeJSON(w, http.StatusOK, report)
}

// handleGetState returns the room state and recent transitions.
func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"room":    s.roomID,
		"state":   s.room.State(),
		"history": s.room.History(),
	}
	if s.router != nil {
		body["active_alarm"] = s.router.ActiveAlarm()
		body["overrides"] = s.router.Overrides()
	}
	writeJSON(w, http.StatusOK, body)
}

// handleListOutcomes returns a page of the outcome log.
func (s *Server) handleListOutcomes(w http.ResponseWriter, r *http.Request) {
	if s.outcomes == nil {
		writeUnavailable(w, "outcome log not configured")
		return
	}

	q := r.URL.Query()
	filter := outcome.Filter{
		Action:  q.Get("action"),
		Target:  q.Get("target"),
		Status:  q.Get("status"),
		CauseID: q.Get("cause_id"),
	}
	var ok bool
	if filter.Limit, ok = queryInt(w, q.Get("limit"), "limit"); !ok {
		return
	}
	if filter.Offset, ok = queryInt(w, q.Get("offset"), "offset"); !ok {
		return
	}

	result, err := s.outcomes.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list outcomes", "error", err)
		writeInternalError(w, "failed to list outcomes")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleListScenes returns the scene table.
func (s *Server) handleListScenes(w http.ResponseWriter, _ *http.Request) {
	if s.scenes == nil {
		writeUnavailable(w, "scene store not configured")
		return
	}
	scenes := s.scenes.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"scenes": scenes,
		"count":  len(scenes),
	})
}

// handleGetScene returns a single scene by ID.
func (s *Server) handleGetScene(w http.ResponseWriter, r *http.Request) {
	if s.scenes == nil {
		writeUnavailable(w, "scene store not configured")
		return
	}
	id := chi.URLParam(r, "id")
	sc, err := s.scenes.Get(id)
	if err != nil {
		if errors.Is(err, scene.ErrSceneNotFound) {
			writeNotFound(w, "scene not found: "+id)
			return
		}
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleDebugWindows(w http.ResponseWriter, _ *http.Request) {
	if s.router == nil {
		writeUnavailable(w, "router not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"windows":      s.router.Pending(),
		"active_alarm": s.router.ActiveAlarm(),
		"overrides":    s.router.Overrides(),
	})
}

func (s *Server) handleDebugBroker(w http.ResponseWriter, _ *http.Request) {
	if s.broker == nil {
		writeUnavailable(w, "broker not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subscriptions": s.broker.Stats(),
	})
}

func (s *Server) handleDebugMQTT(w http.ResponseWriter, _ *http.Request) {
	if s.mqtt == nil {
		writeUnavailable(w, "mqtt disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.mqtt.Stats())
}

func (s *Server) handleDebugDispatcher(w http.ResponseWriter, _ *http.Request) {
	if s.dispatcher == nil {
		writeUnavailable(w, "dispatcher not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"actions":  s.dispatcher.Actions(),
		"lanes":    s.dispatcher.Lanes(),
		"breakers": s.dispatcher.Breakers(),
	})
}

// queryInt parses an optional non-negative integer query parameter,
// writing a 400 when it is malformed.
func queryInt(w http.ResponseWriter, raw, name string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeBadRequest(w, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}
