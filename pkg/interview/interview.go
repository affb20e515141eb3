// Package interview defines the domain model shared by the gateway, the
// call runtime, and the generation pipelines: interview configurations,
// questions, and feedback records.
package interview

import (
	"strings"
	"time"
)

// Question is a single interview question with its category.
type Question struct {
	Text string `json:"question"`
	Type string `json:"type"`
}

// Config describes one configured mock interview.
type Config struct {
	ID             string     `json:"id"`
	JobPosition    string     `json:"job_position"`
	JobDescription string     `json:"job_description"`
	Duration       string     `json:"duration"`
	Type           string     `json:"type"`
	Questions      []Question `json:"questions,omitempty"`
	CandidateName  string     `json:"candidate_name,omitempty"`
	CreatedAt      time.Time  `json:"created_at,omitempty"`
}

// Rating categories present in every feedback record.
const (
	RatingTechnicalSkills = "technical_skills"
	RatingCommunication   = "communication"
	RatingProblemSolving  = "problem_solving"
	RatingExperience      = "experience"
)

// RatingCategories lists the fixed feedback rating categories.
var RatingCategories = []string{
	RatingTechnicalSkills,
	RatingCommunication,
	RatingProblemSolving,
	RatingExperience,
}

// FeedbackRecord is the structured outcome of a completed interview call.
// Records are written once and never mutated afterward.
type FeedbackRecord struct {
	InterviewID       string         `json:"interview_id"`
	CandidateName     string         `json:"candidate_name"`
	CandidateEmail    string         `json:"candidate_email"`
	Ratings           map[string]int `json:"ratings"`
	Summary           string         `json:"summary"`
	Recommendation    string         `json:"recommendation"`
	RecommendationMsg string         `json:"recommendation_msg"`
	CreatedAt         time.Time      `json:"created_at,omitempty"`
}

// ClampRatings forces every known category into the 0-10 scale and drops
// categories the model invented.
func (f *FeedbackRecord) ClampRatings() {
	clamped := make(map[string]int, len(RatingCategories))
	for _, cat := range RatingCategories {
		v := f.Ratings[cat]
		if v < 0 {
			v = 0
		}
		if v > 10 {
			v = 10
		}
		clamped[cat] = v
	}
	f.Ratings = clamped
}

// Duration buckets accepted by the platform.
var DurationBuckets = []string{"5 min", "15 min", "30 min", "45 min", "60 min"}

var questionCountByDuration = map[string]int{
	"5":  4,
	"15": 6,
	"30": 8,
	"45": 10,
	"60": 12,
}

const defaultQuestionCount = 8

// SuggestedQuestionCount maps a duration bucket to the number of questions
// an interview of that length should carry. Unknown buckets fall back to
// the default. Both "30 min" and bare "30" spellings are accepted.
func SuggestedQuestionCount(duration string) int {
	if n, ok := questionCountByDuration[durationKey(duration)]; ok {
		return n
	}
	return defaultQuestionCount
}

// durationKey strips everything but leading digits: "30 min" -> "30".
func durationKey(duration string) string {
	duration = strings.TrimSpace(duration)
	end := 0
	for end < len(duration) && duration[end] >= '0' && duration[end] <= '9' {
		end++
	}
	return duration[:end]
}
