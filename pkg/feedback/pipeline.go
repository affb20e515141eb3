// Package feedback turns a finished interview transcript into a
// structured feedback record via an LLM completion.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voxprep/voxprep/pkg/call"
	"github.com/voxprep/voxprep/pkg/interview"
	"github.com/voxprep/voxprep/pkg/llm"
	"github.com/voxprep/voxprep/pkg/llm/extract"
)

// ErrEmptyTranscript marks a generation request with nothing to assess.
var ErrEmptyTranscript = errors.New("feedback: transcript has no substantive messages")

// ErrAlreadyGenerated marks a session whose feedback run already happened.
var ErrAlreadyGenerated = errors.New("feedback: already generated for this session")

// Completer is the slice of the llm layer the pipeline needs. Both
// llm.Provider implementations and *llm.Registry satisfy it.
type Completer interface {
	Complete(ctx context.Context, req *llm.Request) (*llm.Response, error)
}

// Store persists generated records. Save overwrites any previous record
// for the same (interview, candidate) pair.
type Store interface {
	SaveFeedback(ctx context.Context, rec *interview.FeedbackRecord) error
	GetFeedback(ctx context.Context, interviewID, candidateEmail string) (*interview.FeedbackRecord, error)
}

// DefaultMaxTokens bounds the feedback completion.
const DefaultMaxTokens = 1024

const systemPrompt = `You are an interview assessor. Given a mock interview transcript,
respond with a single JSON object and nothing else:
{"ratings":{"technical_skills":0-10,"communication":0-10,"problem_solving":0-10,"experience":0-10},
"summary":"<three lines at most>","recommendation":"yes"|"no","recommendation_msg":"<one line>"}`

// Pipeline generates and persists feedback records. It guarantees at
// most one successful generation per call session: duplicate end
// triggers for the same (interview, candidate) pair are rejected.
type Pipeline struct {
	completer Completer
	store     Store
	model     string
	maxTokens int
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	processed map[string]struct{}
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMaxTokens overrides the completion token budget.
func WithMaxTokens(n int) Option {
	return func(p *Pipeline) { p.maxTokens = n }
}

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// New creates a feedback pipeline. store may be nil; records are then
// returned to the caller only.
func New(completer Completer, store Store, model string, opts ...Option) *Pipeline {
	p := &Pipeline{
		completer: completer,
		store:     store,
		model:     model,
		maxTokens: DefaultMaxTokens,
		logger:    slog.Default(),
		now:       time.Now,
		processed: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Generate produces the feedback record for one completed call. The
// second and later invocations for the same session return
// ErrAlreadyGenerated (with the stored record when a store is attached).
// A failed run releases the session so the caller can retry.
func (p *Pipeline) Generate(ctx context.Context, msgs []call.Message, cfg call.CallConfig) (*interview.FeedbackRecord, error) {
	key := sessionKey(cfg.Interview.ID, cfg.CandidateEmail)

	p.mu.Lock()
	if _, done := p.processed[key]; done {
		p.mu.Unlock()
		if p.store != nil {
			if rec, err := p.store.GetFeedback(ctx, cfg.Interview.ID, cfg.CandidateEmail); err == nil {
				return rec, ErrAlreadyGenerated
			}
		}
		return nil, ErrAlreadyGenerated
	}
	p.processed[key] = struct{}{}
	p.mu.Unlock()

	rec, err := p.generate(ctx, msgs, cfg)
	if err != nil {
		p.mu.Lock()
		delete(p.processed, key)
		p.mu.Unlock()
		return nil, err
	}
	return rec, nil
}

func (p *Pipeline) generate(ctx context.Context, msgs []call.Message, cfg call.CallConfig) (*interview.FeedbackRecord, error) {
	prompt, ok := BuildPrompt(msgs, cfg)
	if !ok {
		return nil, ErrEmptyTranscript
	}

	resp, err := p.completer.Complete(ctx, &llm.Request{
		Model:     p.model,
		System:    systemPrompt,
		Prompt:    prompt,
		MaxTokens: p.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("feedback completion: %w", err)
	}

	rec, perr := ParseResponse(resp.Text)
	if perr != nil {
		return nil, perr
	}

	rec.InterviewID = cfg.Interview.ID
	rec.CandidateName = cfg.CandidateName
	rec.CandidateEmail = cfg.CandidateEmail
	rec.CreatedAt = p.now().UTC()

	if p.store != nil {
		if err := p.store.SaveFeedback(ctx, rec); err != nil {
			return nil, fmt.Errorf("save feedback: %w", err)
		}
	}
	p.logger.Info("feedback generated",
		"interview_id", rec.InterviewID,
		"recommendation", rec.Recommendation)
	return rec, nil
}

// BuildPrompt serializes the transcript into the assessment prompt.
// Returns false when no message carries usable text.
func BuildPrompt(msgs []call.Message, cfg call.CallConfig) (string, bool) {
	var b strings.Builder
	lines := 0
	for _, m := range msgs {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, text)
		lines++
	}
	if lines == 0 {
		return "", false
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Interview for the position of %s (%s).\n",
		cfg.Interview.JobPosition, cfg.Interview.Type)
	if cfg.CandidateName != "" {
		fmt.Fprintf(&out, "Candidate: %s.\n", cfg.CandidateName)
	}
	out.WriteString("Transcript:\n")
	out.WriteString(b.String())
	return out.String(), true
}

// parsedFeedback is the model-facing JSON shape.
type parsedFeedback struct {
	Ratings           map[string]int `json:"ratings"`
	Summary           string         `json:"summary"`
	Recommendation    string         `json:"recommendation"`
	RecommendationMsg string         `json:"recommendation_msg"`
}

// ParseResponse decodes the model output into a feedback record,
// tolerating fenced or wrapped JSON. Unparseable output yields an
// unusable-output error carrying the raw text for manual recovery.
func ParseResponse(raw string) (*interview.FeedbackRecord, error) {
	var parsed parsedFeedback
	if !extract.Unmarshal(raw, &parsed) || parsed.Summary == "" && len(parsed.Ratings) == 0 {
		// Some models nest the object one level down.
		var wrapper struct {
			Feedback *parsedFeedback `json:"feedback"`
		}
		if extract.Unmarshal(raw, &wrapper) && wrapper.Feedback != nil {
			parsed = *wrapper.Feedback
		} else {
			return nil, llm.NewUnusableOutputError("feedback output was not parseable JSON", raw)
		}
	}

	rec := &interview.FeedbackRecord{
		Ratings:           parsed.Ratings,
		Summary:           strings.TrimSpace(parsed.Summary),
		Recommendation:    normalizeRecommendation(parsed.Recommendation),
		RecommendationMsg: strings.TrimSpace(parsed.RecommendationMsg),
	}
	rec.ClampRatings()
	return rec, nil
}

// normalizeRecommendation collapses model spellings onto "yes"/"no".
func normalizeRecommendation(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "recommended", "hire", "true":
		return "yes"
	default:
		return "no"
	}
}

func sessionKey(interviewID, email string) string {
	return interviewID + "|" + strings.ToLower(strings.TrimSpace(email))
}
