package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"call-transcription-service/internal/models"
	"call-transcription-service/internal/schema"
	"call-transcription-service/internal/service/session"
)

const maxBodyBytes = 64 << 10

type calls struct {
	sessions  Sessions
	validator Validator
}

type startBody struct {
	Metadata map[string]string `json:"metadata"`
}

type abortBody struct {
	Reason string `json:"reason"`
}

type accepted struct {
	CallID string `json:"callId"`
	Status string `json:"status"`
}

type errorBody struct {
	Error     string            `json:"error"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"requestId,omitempty"`
}

func (c *calls) start(w http.ResponseWriter, r *http.Request) {
	var body startBody
	if err := decodeOptional(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	req := models.StartRequest{CallID: chi.URLParam(r, "callId"), Metadata: body.Metadata}
	if err := c.validator.Validate(req); err != nil {
		writeError(w, r, err)
		return
	}

	snap, err := c.sessions.Start(r.Context(), req.CallID, req.Metadata)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (c *calls) stop(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callId")
	if err := c.sessions.Stop(r.Context(), callID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, accepted{CallID: callID, Status: "stopping"})
}

func (c *calls) abort(w http.ResponseWriter, r *http.Request) {
	var body abortBody
	if err := decodeOptional(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	req := models.AbortRequest{CallID: chi.URLParam(r, "callId"), Reason: body.Reason}
	if err := c.validator.Validate(req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := c.sessions.Abort(r.Context(), req.CallID, req.Reason); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, accepted{CallID: req.CallID, Status: "aborting"})
}

func (c *calls) get(w http.ResponseWriter, r *http.Request) {
	snap, err := c.sessions.Lookup(r.Context(), chi.URLParam(r, "callId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// badRequest marks malformed bodies.
type badRequest struct{ err error }

func (e badRequest) Error() string { return e.err.Error() }

// decodeOptional decodes a JSON body into v. An empty body leaves v untouched.
func decodeOptional(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return badRequest{fmt.Errorf("invalid request body: %w", err)}
	}
	return nil
}

func statusForError(err error) int {
	var verr *schema.ValidationError
	var bad badRequest
	switch {
	case errors.As(err, &verr), errors.As(err, &bad), errors.Is(err, session.ErrInvalidCallID):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrAlreadyTerminal):
		return http.StatusConflict
	case errors.Is(err, session.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	body := errorBody{Error: err.Error(), RequestID: middleware.GetReqID(r.Context())}

	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		body.Error = "validation failed"
		body.Fields = verr.Fields
	}
	if status == http.StatusInternalServerError {
		log.Error().
			Err(err).
			Str("requestId", body.RequestID).
			Str("path", r.URL.Path).
			Msg("Control request failed")
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
