package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/voxprep/voxprep/pkg/gateway/apierror"
	"github.com/voxprep/voxprep/pkg/gateway/config"
	"github.com/voxprep/voxprep/pkg/gateway/metrics"
	"github.com/voxprep/voxprep/pkg/gateway/mw"
	"github.com/voxprep/voxprep/pkg/gateway/ratelimit"
	"github.com/voxprep/voxprep/pkg/interview"
	"github.com/voxprep/voxprep/pkg/llm"
	"github.com/voxprep/voxprep/pkg/questions"
)

// QuestionsHandler serves POST /v1/questions: generate an interview
// question set for a job profile.
type QuestionsHandler struct {
	Config   config.Config
	Pipeline QuestionGenerator
	Limiter  *ratelimit.Limiter
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

type questionsRequest struct {
	JobPosition    string `json:"job_position"`
	JobDescription string `json:"job_description"`
	Duration       string `json:"duration"`
	Type           string `json:"type"`
	Force          bool   `json:"force,omitempty"`
}

type questionsResponse struct {
	Questions []interview.Question `json:"questions"`
}

func (h QuestionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	if h.Limiter != nil {
		ip := mw.ClientIP(r, h.Config.TrustProxyHeaders)
		dec := h.Limiter.Allow(ip, time.Now())
		setRateHeaders(w, dec)
		if !dec.Allowed {
			h.Metrics.RateLimited("questions")
			reqID, _ := mw.RequestIDFrom(r.Context())
			w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfter))
			writeRateLimited(w, reqID, dec.RetryAfter)
			return
		}
	}

	var body questionsRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if err := interview.ValidateRequest(body.JobPosition, body.JobDescription, body.Duration, body.Type); err != nil {
		writeError(w, r, err)
		return
	}

	start := time.Now()
	res, err := h.Pipeline.Generate(r.Context(), questions.Request{
		JobPosition:    body.JobPosition,
		JobDescription: body.JobDescription,
		Duration:       body.Duration,
		Type:           body.Type,
	}, body.Force)
	h.Metrics.ObserveGeneration("questions", h.Config.QuestionModel, err, time.Since(start))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, questionsResponse{Questions: res.Questions})
}

func setRateHeaders(w http.ResponseWriter, dec ratelimit.Decision) {
	if dec.Limit <= 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(dec.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(dec.Reset.Unix(), 10))
}

func writeRateLimited(w http.ResponseWriter, reqID string, retryAfter int) {
	err := &llm.Error{
		Type:      llm.ErrRateLimit,
		Message:   "question generation rate limit exceeded",
		RequestID: reqID,
	}
	if retryAfter > 0 {
		err.RetryAfter = &retryAfter
	}
	apierror.WriteError(w, err, http.StatusTooManyRequests)
}
