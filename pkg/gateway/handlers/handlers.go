// Package handlers implements the gateway's HTTP endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/voxprep/voxprep/pkg/call"
	"github.com/voxprep/voxprep/pkg/gateway/apierror"
	"github.com/voxprep/voxprep/pkg/gateway/mw"
	"github.com/voxprep/voxprep/pkg/interview"
	"github.com/voxprep/voxprep/pkg/llm"
	"github.com/voxprep/voxprep/pkg/questions"
)

// Store is the persistence surface the handlers need. Both the
// Postgres store and the in-memory test store implement it.
type Store interface {
	CreateInterview(ctx context.Context, cfg *interview.Config) error
	GetInterview(ctx context.Context, id string) (*interview.Config, error)
	ListInterviews(ctx context.Context, limit int) ([]*interview.Config, error)
	SaveFeedback(ctx context.Context, rec *interview.FeedbackRecord) error
	GetFeedback(ctx context.Context, interviewID, candidateEmail string) (*interview.FeedbackRecord, error)
}

// QuestionGenerator is the question pipeline surface.
type QuestionGenerator interface {
	Generate(ctx context.Context, req questions.Request, force bool) (*questions.Result, error)
}

// FeedbackGenerator is the feedback pipeline surface.
type FeedbackGenerator interface {
	Generate(ctx context.Context, msgs []call.Message, cfg call.CallConfig) (*interview.FeedbackRecord, error)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	apierror.Write(w, err, reqID)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allow string) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	w.Header().Set("Allow", allow)
	apierror.WriteError(w, &llm.Error{
		Type:      llm.ErrInvalidRequest,
		Message:   "method not allowed",
		RequestID: reqID,
	}, http.StatusMethodNotAllowed)
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return &interview.ValidationError{Field: "body", Message: "invalid JSON: " + err.Error()}
	}
	return nil
}
