// Package apierror maps internal errors onto the gateway's JSON error
// envelope and HTTP status codes.
package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/voxprep/voxprep/internal/store"
	"github.com/voxprep/voxprep/pkg/feedback"
	"github.com/voxprep/voxprep/pkg/interview"
	"github.com/voxprep/voxprep/pkg/llm"
	"github.com/voxprep/voxprep/pkg/questions"
)

type Envelope struct {
	Error *llm.Error `json:"error"`
}

// FromError converts any error into the canonical wire error plus the
// HTTP status to send it with.
func FromError(err error, requestID string) (*llm.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	// Context timeouts/cancellation.
	if errors.Is(err, context.DeadlineExceeded) {
		wireErr := llm.NewAPIError("request timeout")
		wireErr.RequestID = requestID
		return wireErr, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &llm.Error{
			Type:      llm.ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	var verr *interview.ValidationError
	if errors.As(err, &verr) && verr != nil {
		return &llm.Error{
			Type:      llm.ErrInvalidRequest,
			Message:   verr.Message,
			Param:     verr.Field,
			RequestID: requestID,
		}, http.StatusBadRequest
	}

	if errors.Is(err, store.ErrNotFound) {
		wireErr := llm.NewNotFoundError("not found")
		wireErr.RequestID = requestID
		return wireErr, http.StatusNotFound
	}

	if errors.Is(err, feedback.ErrEmptyTranscript) {
		return &llm.Error{
			Type:      llm.ErrInvalidRequest,
			Message:   "transcript has no substantive messages",
			Param:     "transcript",
			RequestID: requestID,
		}, http.StatusBadRequest
	}
	if errors.Is(err, feedback.ErrAlreadyGenerated) {
		return &llm.Error{
			Type:      llm.ErrInvalidRequest,
			Message:   "feedback already generated for this session",
			Code:      "already_generated",
			RequestID: requestID,
		}, http.StatusConflict
	}
	if errors.Is(err, questions.ErrNoUsableQuestions) {
		return &llm.Error{
			Type:      llm.ErrUnusable,
			Message:   "model output contained no usable questions",
			RequestID: requestID,
		}, http.StatusBadGateway
	}

	// Already canonical.
	var lerr *llm.Error
	if errors.As(err, &lerr) && lerr != nil {
		out := *lerr
		out.RequestID = requestID
		return &out, StatusFromType(lerr.Type)
	}

	// Unknown errors: internal, no detail leak.
	wireErr := llm.NewAPIError("internal error")
	wireErr.RequestID = requestID
	return wireErr, http.StatusInternalServerError
}

// StatusFromType maps canonical error types onto HTTP statuses.
func StatusFromType(t llm.ErrorType) int {
	switch t {
	case llm.ErrInvalidRequest:
		return http.StatusBadRequest
	case llm.ErrAuthentication:
		return http.StatusUnauthorized
	case llm.ErrNotFound:
		return http.StatusNotFound
	case llm.ErrRateLimit:
		return http.StatusTooManyRequests
	case llm.ErrOverloaded:
		return 529
	case llm.ErrProvider, llm.ErrAPI, llm.ErrUnusable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Write sends err to the client as the JSON error envelope.
func Write(w http.ResponseWriter, err error, requestID string) {
	wireErr, status := FromError(err, requestID)
	WriteError(w, wireErr, status)
}

// WriteError sends an already-mapped error with the given status.
func WriteError(w http.ResponseWriter, wireErr *llm.Error, status int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Error: wireErr})
}
