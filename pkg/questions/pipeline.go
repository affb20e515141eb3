// Package questions generates interview question sets from a job
// profile via an LLM completion, with caching and bounded retries.
package questions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voxprep/voxprep/pkg/interview"
	"github.com/voxprep/voxprep/pkg/llm"
	"github.com/voxprep/voxprep/pkg/llm/extract"
)

// ErrNoUsableQuestions marks model output that parsed but yielded an
// empty question list.
var ErrNoUsableQuestions = errors.New("questions: model output contained no usable questions")

// Completer is the slice of the llm layer the pipeline needs.
type Completer interface {
	Complete(ctx context.Context, req *llm.Request) (*llm.Response, error)
}

// Request is one question-generation job profile.
type Request struct {
	JobPosition    string `json:"job_position"`
	JobDescription string `json:"job_description"`
	Duration       string `json:"duration"`
	Type           string `json:"type"`
}

// cacheKey derives the identity of a request from its four profile
// fields, trimmed and case-folded so cosmetic edits do not bust the
// cache.
func (r Request) cacheKey() string {
	norm := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
	return strings.Join([]string{
		norm(r.JobPosition), norm(r.JobDescription), norm(r.Duration), norm(r.Type),
	}, "|")
}

// Result is a generated question set plus the raw model output it was
// parsed from.
type Result struct {
	Questions []interview.Question `json:"questions"`
	Raw       string               `json:"raw,omitempty"`
}

// Pipeline tuning defaults.
const (
	DefaultAttempts  = 3
	DefaultBaseDelay = 2 * time.Second
	DefaultTimeout   = 60 * time.Second
)

// wrapperKeys are the object keys models wrap question arrays in.
var wrapperKeys = []string{"questions", "interviewQuestions", "interview_questions", "data", "items"}

// Pipeline generates question sets. Identical requests are served from
// cache unless forced; a new request for a profile cancels any
// generation still in flight for the same profile.
type Pipeline struct {
	completer Completer
	model     string
	attempts  int
	baseDelay time.Duration
	timeout   time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	cache    map[string]*Result
	inflight map[string]*inflightRun
}

// inflightRun identifies one generation run so a superseded run can
// clean up only its own bookkeeping.
type inflightRun struct {
	cancel context.CancelFunc
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithAttempts sets the completion attempt budget.
func WithAttempts(n int) Option {
	return func(p *Pipeline) { p.attempts = n }
}

// WithBaseDelay sets the backoff unit; attempt n waits n units.
func WithBaseDelay(d time.Duration) Option {
	return func(p *Pipeline) { p.baseDelay = d }
}

// WithTimeout bounds one whole generation run, retries included.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// New creates a question pipeline backed by the given completer.
func New(completer Completer, model string, opts ...Option) *Pipeline {
	p := &Pipeline{
		completer: completer,
		model:     model,
		attempts:  DefaultAttempts,
		baseDelay: DefaultBaseDelay,
		timeout:   DefaultTimeout,
		logger:    slog.Default(),
		cache:     make(map[string]*Result),
		inflight:  make(map[string]*inflightRun),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Generate returns the question set for a job profile. The profile is
// validated before anything else; an invalid one never reaches the
// cache or the model. Cached results are returned without a model call
// unless force is set. Transient provider failures are retried with
// linear backoff inside the run timeout; a newer Generate for the same
// profile cancels this one.
func (p *Pipeline) Generate(ctx context.Context, req Request, force bool) (*Result, error) {
	if err := interview.ValidateRequest(req.JobPosition, req.JobDescription, req.Duration, req.Type); err != nil {
		return nil, err
	}

	key := req.cacheKey()

	p.mu.Lock()
	if !force {
		if res, ok := p.cache[key]; ok {
			p.mu.Unlock()
			return res, nil
		}
	}
	if prev, ok := p.inflight[key]; ok {
		// The newest request for a profile supersedes the older one.
		prev.cancel()
	}
	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	run := &inflightRun{cancel: cancel}
	p.inflight[key] = run
	p.mu.Unlock()

	defer func() {
		cancel()
		p.mu.Lock()
		if p.inflight[key] == run {
			delete(p.inflight, key)
		}
		p.mu.Unlock()
	}()

	res, err := p.run(runCtx, req)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cache[key] = res
	p.mu.Unlock()
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, req Request) (*Result, error) {
	prompt := BuildPrompt(req)

	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		resp, err := p.completer.Complete(ctx, &llm.Request{
			Model:  p.model,
			System: questionsSystemPrompt,
			Prompt: prompt,
		})
		if err == nil {
			questions, perr := ParseQuestions(resp.Text, req.Type)
			if perr != nil {
				return nil, perr
			}
			p.logger.Info("questions generated",
				"position", req.JobPosition, "count", len(questions), "attempt", attempt)
			return &Result{Questions: questions, Raw: resp.Text}, nil
		}

		lastErr = err
		var lerr *llm.Error
		if !errors.As(err, &lerr) || !lerr.IsRetryable() {
			return nil, err
		}
		if attempt == p.attempts {
			break
		}
		p.logger.Warn("question generation retry",
			"attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * p.baseDelay):
		}
	}
	return nil, fmt.Errorf("question generation failed after %d attempts: %w", p.attempts, lastErr)
}

const questionsSystemPrompt = `You are an interview designer. Respond with a single JSON array and
nothing else: [{"question":"...","type":"technical"|"behavioral"|"experience"|"problem-solving"|"leadership"}, ...]`

// BuildPrompt renders the generation prompt for one job profile.
func BuildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create %d interview questions for the following role.\n",
		interview.SuggestedQuestionCount(req.Duration))
	fmt.Fprintf(&b, "Position: %s\n", req.JobPosition)
	fmt.Fprintf(&b, "Description: %s\n", req.JobDescription)
	fmt.Fprintf(&b, "Interview duration: %s\n", req.Duration)
	fmt.Fprintf(&b, "Interview type: %s\n", req.Type)
	b.WriteString("Questions must be answerable out loud in a voice interview.")
	return b.String()
}

// ParseQuestions decodes model output into a question list, tolerating
// fenced output, wrapper objects, and bare string arrays. fallbackType
// fills the category when the model omits it.
func ParseQuestions(raw, fallbackType string) ([]interview.Question, error) {
	var questions []interview.Question
	if !extract.UnmarshalArray(raw, wrapperKeys, &questions) {
		var texts []string
		if !extract.UnmarshalArray(raw, wrapperKeys, &texts) {
			return nil, llm.NewUnusableOutputError("question output was not parseable JSON", raw)
		}
		for _, t := range texts {
			questions = append(questions, interview.Question{Text: t})
		}
	}

	out := make([]interview.Question, 0, len(questions))
	seen := make(map[string]struct{}, len(questions))
	for _, q := range questions {
		q.Text = strings.TrimSpace(q.Text)
		if q.Text == "" {
			continue
		}
		// Models repeat themselves; keep the first occurrence of a
		// question regardless of casing.
		key := strings.ToLower(q.Text)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if strings.TrimSpace(q.Type) == "" {
			q.Type = fallbackType
		}
		out = append(out, q)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoUsableQuestions, firstLine(raw))
	}
	return out, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}
