package questions

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voxprep/voxprep/pkg/interview"
	"github.com/voxprep/voxprep/pkg/llm"
)

const goodOutput = `[{"question":"Describe a system you designed.","type":"technical"},
{"question":"Tell me about a conflict on your team.","type":"behavioral"}]`

type scriptedCompleter struct {
	mu      sync.Mutex
	outputs []any // string for success, error for failure; last entry repeats
	calls   int
	block   chan struct{} // when set, Complete waits for ctx or release
}

func (c *scriptedCompleter) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	idx := c.calls
	c.calls++
	if idx >= len(c.outputs) {
		idx = len(c.outputs) - 1
	}
	out := c.outputs[idx]
	block := c.block
	c.mu.Unlock()

	if block != nil {
		select {
		case <-ctx.Done():
			return nil, llm.NewProviderError("test", ctx.Err())
		case <-block:
		}
	}
	switch v := out.(type) {
	case string:
		return &llm.Response{Model: req.Model, Text: v}, nil
	case error:
		return nil, v
	default:
		return nil, errors.New("bad script")
	}
}

func (c *scriptedCompleter) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func testRequest() Request {
	return Request{
		JobPosition:    "Backend Engineer",
		JobDescription: "Design and operate Go services at scale.",
		Duration:       "30 min",
		Type:           "technical",
	}
}

func TestPipeline_GenerateAndCache(t *testing.T) {
	completer := &scriptedCompleter{outputs: []any{goodOutput}}
	p := New(completer, "gemini/gemini-2.0-flash")

	res, err := p.Generate(context.Background(), testRequest(), false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(res.Questions) != 2 || res.Questions[0].Type != "technical" {
		t.Fatalf("questions = %+v", res.Questions)
	}
	if res.Raw == "" {
		t.Fatalf("raw model output should be preserved")
	}

	// Identical profile: served from cache, no second model call.
	again, err := p.Generate(context.Background(), testRequest(), false)
	if err != nil {
		t.Fatalf("cached generate: %v", err)
	}
	if again != res {
		t.Fatalf("cache should return the same result")
	}
	if completer.callCount() != 1 {
		t.Fatalf("completions = %d, want 1", completer.callCount())
	}
}

func TestPipeline_CacheKeyIgnoresCosmeticEdits(t *testing.T) {
	completer := &scriptedCompleter{outputs: []any{goodOutput}}
	p := New(completer, "gemini/gemini-2.0-flash")

	if _, err := p.Generate(context.Background(), testRequest(), false); err != nil {
		t.Fatalf("generate: %v", err)
	}

	edited := testRequest()
	edited.JobPosition = "  backend engineer "
	if _, err := p.Generate(context.Background(), edited, false); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if completer.callCount() != 1 {
		t.Fatalf("trim/case edits should hit the cache, completions = %d", completer.callCount())
	}

	changed := testRequest()
	changed.Duration = "60 min"
	if _, err := p.Generate(context.Background(), changed, false); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if completer.callCount() != 2 {
		t.Fatalf("a changed profile field should miss the cache, completions = %d", completer.callCount())
	}
}

func TestPipeline_ForceBypassesCache(t *testing.T) {
	completer := &scriptedCompleter{outputs: []any{goodOutput}}
	p := New(completer, "gemini/gemini-2.0-flash")

	if _, err := p.Generate(context.Background(), testRequest(), false); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := p.Generate(context.Background(), testRequest(), true); err != nil {
		t.Fatalf("forced generate: %v", err)
	}
	if completer.callCount() != 2 {
		t.Fatalf("force should call the model again, completions = %d", completer.callCount())
	}
}

func TestPipeline_RetriesTransientFailures(t *testing.T) {
	completer := &scriptedCompleter{outputs: []any{
		llm.NewOverloadedError("busy"),
		llm.NewRateLimitError("slow down", 1),
		goodOutput,
	}}
	p := New(completer, "gemini/gemini-2.0-flash", WithBaseDelay(time.Millisecond))

	res, err := p.Generate(context.Background(), testRequest(), false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(res.Questions) != 2 {
		t.Fatalf("questions = %+v", res.Questions)
	}
	if completer.callCount() != 3 {
		t.Fatalf("completions = %d, want 3", completer.callCount())
	}
}

func TestPipeline_NonRetryableFailsFast(t *testing.T) {
	completer := &scriptedCompleter{outputs: []any{
		llm.NewAuthenticationError("bad key"),
		goodOutput,
	}}
	p := New(completer, "gemini/gemini-2.0-flash", WithBaseDelay(time.Millisecond))

	_, err := p.Generate(context.Background(), testRequest(), false)
	var lerr *llm.Error
	if !errors.As(err, &lerr) || lerr.Type != llm.ErrAuthentication {
		t.Fatalf("err = %v, want authentication error", err)
	}
	if completer.callCount() != 1 {
		t.Fatalf("non-retryable errors must not be retried, completions = %d", completer.callCount())
	}
}

func TestPipeline_AttemptBudgetExhausted(t *testing.T) {
	completer := &scriptedCompleter{outputs: []any{llm.NewOverloadedError("busy")}}
	p := New(completer, "gemini/gemini-2.0-flash", WithAttempts(3), WithBaseDelay(time.Millisecond))

	_, err := p.Generate(context.Background(), testRequest(), false)
	if err == nil || !strings.Contains(err.Error(), "after 3 attempts") {
		t.Fatalf("err = %v", err)
	}
	if completer.callCount() != 3 {
		t.Fatalf("completions = %d, want 3", completer.callCount())
	}
}

func TestPipeline_NewerRequestCancelsInFlight(t *testing.T) {
	release := make(chan struct{})
	completer := &scriptedCompleter{outputs: []any{goodOutput}, block: release}
	p := New(completer, "gemini/gemini-2.0-flash")

	firstErr := make(chan error, 1)
	go func() {
		_, err := p.Generate(context.Background(), testRequest(), false)
		firstErr <- err
	}()

	// Wait for the first run to reach the provider.
	deadline := time.Now().Add(2 * time.Second)
	for completer.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}

	completer.mu.Lock()
	completer.block = nil
	completer.mu.Unlock()

	res, err := p.Generate(context.Background(), testRequest(), false)
	if err != nil {
		t.Fatalf("second generate: %v", err)
	}
	if len(res.Questions) != 2 {
		t.Fatalf("questions = %+v", res.Questions)
	}

	select {
	case err := <-firstErr:
		if err == nil {
			t.Fatalf("superseded run should fail with cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("superseded run never returned")
	}
	close(release)
}

func TestParseQuestions(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		count int
	}{
		{"plain array", goodOutput, 2},
		{"fenced", "```json\n" + goodOutput + "\n```", 2},
		{"wrapped", `{"interviewQuestions":` + goodOutput + `}`, 2},
		{"prose prefix", "Sure, here you go:\n" + goodOutput, 2},
		{"string array", `["What is a goroutine?","Explain channels."]`, 2},
		{"blank entries skipped", `[{"question":"  "},{"question":"Real one"}]`, 1},
		{"duplicates dropped", `[{"question":"Tell me about yourself","type":"behavioral"},
{"question":"TELL ME ABOUT YOURSELF","type":"behavioral"},
{"question":"What is a goroutine?","type":"technical"}]`, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qs, err := ParseQuestions(tt.raw, "technical")
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if len(qs) != tt.count {
				t.Fatalf("count = %d, want %d: %+v", len(qs), tt.count, qs)
			}
			for _, q := range qs {
				if q.Type == "" {
					t.Fatalf("type fallback missing: %+v", q)
				}
			}
		})
	}
}

func TestParseQuestions_KeepsFirstOfDuplicates(t *testing.T) {
	qs, err := ParseQuestions(`[{"question":"Tell me about yourself","type":"behavioral"},
{"question":"  tell me about YOURSELF  ","type":"experience"}]`, "technical")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(qs) != 1 {
		t.Fatalf("count = %d, want 1: %+v", len(qs), qs)
	}
	if qs[0].Text != "Tell me about yourself" || qs[0].Type != "behavioral" {
		t.Fatalf("the first occurrence should win: %+v", qs[0])
	}
}

func TestPipeline_RejectsInvalidProfileLocally(t *testing.T) {
	completer := &scriptedCompleter{outputs: []any{goodOutput}}
	p := New(completer, "gemini/gemini-2.0-flash")

	tests := []struct {
		name  string
		edit  func(*Request)
		field string
	}{
		{"empty position", func(r *Request) { r.JobPosition = "" }, "job_position"},
		{"short description", func(r *Request) { r.JobDescription = "go" }, "job_description"},
		{"unknown duration", func(r *Request) { r.Duration = "90 min" }, "duration"},
		{"unknown type", func(r *Request) { r.Type = "trivia" }, "type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testRequest()
			tt.edit(&req)
			_, err := p.Generate(context.Background(), req, false)
			var verr *interview.ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.field {
				t.Fatalf("err = %v, want validation error on %q", err, tt.field)
			}
		})
	}
	if completer.callCount() != 0 {
		t.Fatalf("invalid profiles must not reach the model, completions = %d", completer.callCount())
	}
}

func TestParseQuestions_Unusable(t *testing.T) {
	_, err := ParseQuestions("I cannot help with that.", "technical")
	var lerr *llm.Error
	if !errors.As(err, &lerr) || lerr.Type != llm.ErrUnusable {
		t.Fatalf("err = %v, want unusable output error", err)
	}
	if lerr.Raw() == "" {
		t.Fatalf("raw output should be preserved")
	}

	_, err = ParseQuestions(`[{"question":"   "}]`, "technical")
	if !errors.Is(err, ErrNoUsableQuestions) {
		t.Fatalf("err = %v, want ErrNoUsableQuestions", err)
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt(testRequest())
	if !strings.Contains(prompt, "Create 8 interview questions") {
		t.Fatalf("prompt should size the set from the duration: %q", prompt)
	}
	if !strings.Contains(prompt, "Backend Engineer") {
		t.Fatalf("prompt = %q", prompt)
	}
}
