package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/voxprep/voxprep/pkg/interview"
)

// InterviewsHandler serves /v1/interviews: create and list interview
// configurations, and fetch one by id at /v1/interviews/{id}.
type InterviewsHandler struct {
	Store  Store
	Logger *slog.Logger
}

type createInterviewRequest struct {
	JobPosition    string               `json:"job_position"`
	JobDescription string               `json:"job_description"`
	Duration       string               `json:"duration"`
	Type           string               `json:"type"`
	Questions      []interview.Question `json:"questions"`
	CandidateName  string               `json:"candidate_name,omitempty"`
}

type listInterviewsResponse struct {
	Interviews []*interview.Config `json:"interviews"`
}

func (h InterviewsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if id := interviewIDFromPath(r.URL.Path); id != "" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		h.get(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodPost:
		h.create(w, r)
	case http.MethodGet:
		h.list(w, r)
	default:
		methodNotAllowed(w, r, "GET, POST")
	}
}

func (h InterviewsHandler) create(w http.ResponseWriter, r *http.Request) {
	var body createInterviewRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if err := interview.ValidateRequest(body.JobPosition, body.JobDescription, body.Duration, body.Type); err != nil {
		writeError(w, r, err)
		return
	}
	if len(body.Questions) == 0 {
		writeError(w, r, &interview.ValidationError{Field: "questions", Message: "must not be empty"})
		return
	}

	cfg := &interview.Config{
		ID:             uuid.NewString(),
		JobPosition:    strings.TrimSpace(body.JobPosition),
		JobDescription: strings.TrimSpace(body.JobDescription),
		Duration:       strings.TrimSpace(body.Duration),
		Type:           strings.TrimSpace(body.Type),
		Questions:      body.Questions,
		CandidateName:  strings.TrimSpace(body.CandidateName),
		CreatedAt:      time.Now().UTC(),
	}
	if err := h.Store.CreateInterview(r.Context(), cfg); err != nil {
		writeError(w, r, err)
		return
	}
	if h.Logger != nil {
		h.Logger.Info("interview created", "interview_id", cfg.ID, "position", cfg.JobPosition)
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (h InterviewsHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	list, err := h.Store.ListInterviews(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*interview.Config{}
	}
	writeJSON(w, http.StatusOK, listInterviewsResponse{Interviews: list})
}

func (h InterviewsHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	cfg, err := h.Store.GetInterview(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// interviewIDFromPath extracts the id segment of /v1/interviews/{id},
// or "" for the collection path.
func interviewIDFromPath(path string) string {
	rest := strings.TrimPrefix(path, "/v1/interviews")
	rest = strings.Trim(rest, "/")
	if rest == "" || strings.Contains(rest, "/") {
		return ""
	}
	return rest
}
