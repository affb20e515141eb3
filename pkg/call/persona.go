package call

import (
	"fmt"
	"strings"

	"github.com/voxprep/voxprep/pkg/interview"
	"github.com/voxprep/voxprep/pkg/voice"
)

// CallConfig describes one interview call attempt.
type CallConfig struct {
	Interview      interview.Config
	CandidateName  string
	CandidateEmail string
	VoiceID        string
	Transcriber    string
}

// BuildCallOptions synthesizes the voice-provider session configuration:
// the interviewer persona embedding the job title, candidate name, and
// the full question list, plus the opening line.
func BuildCallOptions(cfg CallConfig) voice.CallOptions {
	var b strings.Builder

	fmt.Fprintf(&b, "You are an AI voice interviewer conducting a %s interview for the position of %s.\n",
		orDefault(cfg.Interview.Type, "mixed"), cfg.Interview.JobPosition)
	if cfg.CandidateName != "" {
		fmt.Fprintf(&b, "The candidate's name is %s; address them by name.\n", cfg.CandidateName)
	}
	b.WriteString("Ask one question at a time and wait for the answer before moving on. ")
	b.WriteString("Keep your remarks short and conversational; this is a spoken interview. ")
	b.WriteString("If the candidate struggles, offer a brief hint and move on.\n")
	b.WriteString("Ask the following questions in order:\n")
	for i, q := range cfg.Interview.Questions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, q.Text)
	}
	b.WriteString("After the final question, thank the candidate and end the interview.")

	first := fmt.Sprintf("Hello%s! Ready for your %s interview? Let's get started.",
		greetingName(cfg.CandidateName), cfg.Interview.JobPosition)

	return voice.CallOptions{
		Persona:      b.String(),
		FirstMessage: first,
		VoiceID:      cfg.VoiceID,
		Transcriber:  cfg.Transcriber,
		Metadata: map[string]string{
			"interview_id":    cfg.Interview.ID,
			"candidate_email": cfg.CandidateEmail,
		},
	}
}

func greetingName(name string) string {
	if strings.TrimSpace(name) == "" {
		return ""
	}
	return " " + strings.TrimSpace(name)
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
