package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/voxprep/voxprep/pkg/call"
	"github.com/voxprep/voxprep/pkg/call/normalize"
	"github.com/voxprep/voxprep/pkg/feedback"
	"github.com/voxprep/voxprep/pkg/gateway/metrics"
	"github.com/voxprep/voxprep/pkg/interview"
)

// FeedbackHandler serves /v1/feedback: generate and persist the
// assessment for a finished call (POST), and fetch a stored record
// (GET ?interview_id=&candidate_email=).
type FeedbackHandler struct {
	Store    Store
	Pipeline FeedbackGenerator
	Metrics  *metrics.Metrics
	Model    string
	Logger   *slog.Logger
}

type transcriptMessage struct {
	ID   string `json:"id,omitempty"`
	Role string `json:"role"`
	Text string `json:"text"`
}

type generateFeedbackRequest struct {
	InterviewID    string              `json:"interview_id"`
	CandidateName  string              `json:"candidate_name,omitempty"`
	CandidateEmail string              `json:"candidate_email"`
	Transcript     []transcriptMessage `json:"transcript"`
}

func (h FeedbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.generate(w, r)
	case http.MethodGet:
		h.get(w, r)
	default:
		methodNotAllowed(w, r, "GET, POST")
	}
}

func (h FeedbackHandler) generate(w http.ResponseWriter, r *http.Request) {
	var body generateFeedbackRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(body.InterviewID) == "" {
		writeError(w, r, &interview.ValidationError{Field: "interview_id", Message: "required"})
		return
	}
	if strings.TrimSpace(body.CandidateEmail) == "" {
		writeError(w, r, &interview.ValidationError{Field: "candidate_email", Message: "required"})
		return
	}

	cfg, err := h.Store.GetInterview(r.Context(), body.InterviewID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	msgs := make([]call.Message, 0, len(body.Transcript))
	for _, m := range body.Transcript {
		role, ok := normalize.CanonicalRole(m.Role)
		if !ok {
			continue
		}
		msgs = append(msgs, call.Message{ID: m.ID, Role: role, Text: m.Text})
	}

	start := time.Now()
	rec, err := h.Pipeline.Generate(r.Context(), msgs, call.CallConfig{
		Interview:      *cfg,
		CandidateName:  body.CandidateName,
		CandidateEmail: body.CandidateEmail,
	})
	h.Metrics.ObserveGeneration("feedback", h.Model, err, time.Since(start))
	if errors.Is(err, feedback.ErrAlreadyGenerated) && rec != nil {
		// The session was already assessed; hand back the stored record.
		writeJSON(w, http.StatusOK, rec)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h FeedbackHandler) get(w http.ResponseWriter, r *http.Request) {
	interviewID := strings.TrimSpace(r.URL.Query().Get("interview_id"))
	email := strings.TrimSpace(r.URL.Query().Get("candidate_email"))
	if interviewID == "" {
		writeError(w, r, &interview.ValidationError{Field: "interview_id", Message: "required"})
		return
	}
	if email == "" {
		writeError(w, r, &interview.ValidationError{Field: "candidate_email", Message: "required"})
		return
	}

	rec, err := h.Store.GetFeedback(r.Context(), interviewID, email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
