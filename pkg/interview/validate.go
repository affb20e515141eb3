package interview

import (
	"fmt"
	"strings"
)

// Field length limits enforced both client-side and at the gateway.
const (
	MinPositionLen    = 2
	MaxPositionLen    = 100
	MinDescriptionLen = 10
	MaxDescriptionLen = 2000
)

// InterviewTypes lists the accepted interview categories.
var InterviewTypes = []string{
	"technical",
	"behavioral",
	"experience",
	"problem_solving",
	"leadership",
	"mixed",
}

// ValidationError reports a single invalid request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateRequest checks the four fields every generation request must
// carry. It returns the first violation found, or nil.
func ValidateRequest(position, description, duration, itype string) error {
	position = strings.TrimSpace(position)
	description = strings.TrimSpace(description)
	duration = strings.TrimSpace(duration)
	itype = strings.TrimSpace(itype)

	if len(position) < MinPositionLen {
		return &ValidationError{Field: "job_position", Message: fmt.Sprintf("must be at least %d characters", MinPositionLen)}
	}
	if len(position) > MaxPositionLen {
		return &ValidationError{Field: "job_position", Message: fmt.Sprintf("must be at most %d characters", MaxPositionLen)}
	}
	if len(description) < MinDescriptionLen {
		return &ValidationError{Field: "job_description", Message: fmt.Sprintf("must be at least %d characters", MinDescriptionLen)}
	}
	if len(description) > MaxDescriptionLen {
		return &ValidationError{Field: "job_description", Message: fmt.Sprintf("must be at most %d characters", MaxDescriptionLen)}
	}
	if !contains(DurationBuckets, duration) {
		return &ValidationError{Field: "duration", Message: fmt.Sprintf("must be one of %s", strings.Join(DurationBuckets, ", "))}
	}
	if !contains(InterviewTypes, itype) {
		return &ValidationError{Field: "type", Message: fmt.Sprintf("must be one of %s", strings.Join(InterviewTypes, ", "))}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
