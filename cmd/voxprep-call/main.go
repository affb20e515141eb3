// Command voxprep-call runs a mock interview from the terminal: it
// fetches the interview from the gateway, dials the realtime voice
// provider, streams the microphone, prints the live transcript, and
// submits the finished transcript for feedback.
//
// Usage:
//
//	voxprep-call -interview <id> -email you@example.com [-name "Your Name"]
//
// Environment variables (a .env file is honored):
//
//	VOXPREP_GATEWAY_URL      gateway base URL (default http://localhost:8080)
//	VOXPREP_GATEWAY_API_KEY  bearer token when the gateway enforces auth
//	VOXPREP_VOICE_WS_URL     realtime voice provider websocket URL (required)
//	VOXPREP_VOICE_API_KEY    voice provider API key
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/voxprep/voxprep/pkg/call"
	"github.com/voxprep/voxprep/pkg/interview"
	"github.com/voxprep/voxprep/pkg/media"
	"github.com/voxprep/voxprep/pkg/voice"
)

func main() {
	_ = godotenv.Load()

	var (
		gatewayURL  = flag.String("gateway", envOr("VOXPREP_GATEWAY_URL", "http://localhost:8080"), "gateway base URL")
		interviewID = flag.String("interview", "", "interview id to run (required)")
		name        = flag.String("name", "", "candidate name")
		email       = flag.String("email", "", "candidate email (required)")
		verbose     = flag.Bool("v", false, "verbose session logging")
	)
	flag.Parse()

	if *interviewID == "" || *email == "" {
		flag.Usage()
		os.Exit(2)
	}
	voiceURL := os.Getenv("VOXPREP_VOICE_WS_URL")
	if voiceURL == "" {
		fmt.Fprintln(os.Stderr, "voxprep-call: VOXPREP_VOICE_WS_URL is required")
		os.Exit(2)
	}

	logLevel := slog.LevelWarn
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	gw := &gatewayClient{
		baseURL: strings.TrimRight(*gatewayURL, "/"),
		apiKey:  os.Getenv("VOXPREP_GATEWAY_API_KEY"),
		http:    &http.Client{Timeout: 2 * time.Minute},
	}

	if err := run(gw, voiceURL, *interviewID, *name, *email, logger); err != nil {
		fmt.Fprintf(os.Stderr, "voxprep-call: %v\n", err)
		os.Exit(1)
	}
}

func run(gw *gatewayClient, voiceURL, interviewID, name, email string, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := gw.fetchInterview(ctx, interviewID)
	if err != nil {
		return fmt.Errorf("fetch interview: %w", err)
	}
	fmt.Printf("Interview: %s (%s, %s)\n", cfg.JobPosition, cfg.Type, cfg.Duration)
	fmt.Printf("Questions: %d\n\n", len(cfg.Questions))

	spk, err := newSpeaker()
	if err != nil {
		return fmt.Errorf("open speaker: %w", err)
	}
	defer spk.Close()

	feedbackCh := make(chan *interview.FeedbackRecord, 1)
	onEnded := func(messages []call.Message, callCfg call.CallConfig) {
		rec, err := gw.submitFeedback(context.Background(), messages, callCfg)
		if err != nil {
			logger.Error("submit feedback", "error", err)
			feedbackCh <- nil
			return
		}
		feedbackCh <- rec
	}

	session := call.NewSession(
		voice.NewWSProvider(voiceURL, os.Getenv("VOXPREP_VOICE_API_KEY")),
		media.SystemCapability{},
		onEnded,
		call.WithAudioSink(spk.Write),
		call.WithLogger(logger),
	)

	callCfg := call.CallConfig{
		Interview:      *cfg,
		CandidateName:  name,
		CandidateEmail: email,
	}
	if err := session.Start(ctx, callCfg); err != nil {
		return fmt.Errorf("start call: %w", err)
	}
	fmt.Println("Connected. Speak when the interviewer pauses; Ctrl-C hangs up.")
	fmt.Println()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nHanging up...")
		session.Stop()
		// A second signal forces exit.
		<-sigCh
		os.Exit(1)
	}()

	renderTranscript(session)

	snap := session.Snapshot()
	if snap.Err != nil {
		return fmt.Errorf("call failed: %w", snap.Err)
	}
	fmt.Printf("\nCall ended after %s.\n", time.Duration(snap.ElapsedSeconds)*time.Second)

	fmt.Println("Generating feedback...")
	select {
	case rec := <-feedbackCh:
		if rec == nil {
			return fmt.Errorf("feedback generation failed; retry with the stored transcript")
		}
		printFeedback(rec)
	case <-time.After(3 * time.Minute):
		return fmt.Errorf("timed out waiting for feedback")
	}
	return nil
}

// renderTranscript polls the session snapshot and prints each utterance
// as it finalizes, until the call reaches a terminal state.
func renderTranscript(session *call.Session) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	printed := 0
	for range ticker.C {
		snap := session.Snapshot()
		for _, msg := range snap.Messages[printed:] {
			fmt.Printf("[%s] %s\n", msg.Role, msg.Text)
		}
		printed = len(snap.Messages)

		if snap.Status == call.StatusEnded || snap.Status == call.StatusError {
			return
		}
	}
}

func printFeedback(rec *interview.FeedbackRecord) {
	fmt.Println("\n=== Feedback ===")
	for category, score := range rec.Ratings {
		fmt.Printf("  %-20s %d/10\n", category, score)
	}
	fmt.Printf("\n%s\n", rec.Summary)
	fmt.Printf("\nRecommendation: %s", rec.Recommendation)
	if rec.RecommendationMsg != "" {
		fmt.Printf(" (%s)", rec.RecommendationMsg)
	}
	fmt.Println()
}

// gatewayClient is a thin client for the two gateway endpoints the call
// flow needs.
type gatewayClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func (c *gatewayClient) fetchInterview(ctx context.Context, id string) (*interview.Config, error) {
	var cfg interview.Config
	if err := c.do(ctx, http.MethodGet, "/v1/interviews/"+id, nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *gatewayClient) submitFeedback(ctx context.Context, messages []call.Message, cfg call.CallConfig) (*interview.FeedbackRecord, error) {
	type transcriptMessage struct {
		ID   string `json:"id,omitempty"`
		Role string `json:"role"`
		Text string `json:"text"`
	}
	transcript := make([]transcriptMessage, 0, len(messages))
	for _, m := range messages {
		transcript = append(transcript, transcriptMessage{ID: m.ID, Role: string(m.Role), Text: m.Text})
	}

	body := map[string]any{
		"interview_id":    cfg.Interview.ID,
		"candidate_name":  cfg.CandidateName,
		"candidate_email": cfg.CandidateEmail,
		"transcript":      transcript,
	}
	var rec interview.FeedbackRecord
	if err := c.do(ctx, http.MethodPost, "/v1/feedback", body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *gatewayClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var envelope struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if json.Unmarshal(data, &envelope) == nil && envelope.Error.Message != "" {
			return fmt.Errorf("gateway: %s (HTTP %d)", envelope.Error.Message, resp.StatusCode)
		}
		return fmt.Errorf("gateway: HTTP %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
