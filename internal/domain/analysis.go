package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrMalformedAnalysis = errors.New("analysis result does not match the expected shape")

type AnalysisPriority string

const (
	PriorityUrgent AnalysisPriority = "urgent"
	PriorityHigh   AnalysisPriority = "high"
	PriorityMedium AnalysisPriority = "medium"
	PriorityLow    AnalysisPriority = "low"
)

type AnalysisMessage struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Channel string `json:"channel"`
}

type OpportunityMap struct {
	Strengths  []string `json:"strengths"`
	Weaknesses []string `json:"weaknesses"`
	PainPoints []string `json:"pain_points"`
	Solutions  []string `json:"solutions"`
}

// AnalysisResult is the one externally meaningful contract of the pipeline:
// downstream CRM code reads it verbatim.
type AnalysisResult struct {
	Tags           []string         `json:"tags"`
	Priority       AnalysisPriority `json:"priority"`
	Message        AnalysisMessage  `json:"message"`
	OpportunityMap OpportunityMap   `json:"opportunity_map"`
	Reasoning      string           `json:"reasoning"`
	Provider       string           `json:"provider,omitempty"`
	ModelID        string           `json:"model_id,omitempty"`
}

// Validate enforces the result shape. Malformed provider output is a hard
// failure, never coerced into a partial result.
func (r *AnalysisResult) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: empty result", ErrMalformedAnalysis)
	}
	switch r.Priority {
	case PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow:
	default:
		return fmt.Errorf("%w: unknown priority %q", ErrMalformedAnalysis, r.Priority)
	}
	if strings.TrimSpace(r.Message.Subject) == "" || strings.TrimSpace(r.Message.Body) == "" {
		return fmt.Errorf("%w: message subject and body are required", ErrMalformedAnalysis)
	}
	if strings.TrimSpace(r.Message.Channel) == "" {
		r.Message.Channel = "email"
	}
	if len(r.Tags) == 0 {
		return fmt.Errorf("%w: at least one tag is required", ErrMalformedAnalysis)
	}
	for index, tag := range r.Tags {
		r.Tags[index] = strings.ToLower(strings.TrimSpace(tag))
		if r.Tags[index] == "" {
			return fmt.Errorf("%w: empty tag at position %d", ErrMalformedAnalysis, index)
		}
	}
	if strings.TrimSpace(r.Reasoning) == "" {
		return fmt.Errorf("%w: reasoning is required", ErrMalformedAnalysis)
	}
	return nil
}

// ParseAnalysisResult decodes raw provider output into a validated result.
func ParseAnalysisResult(raw []byte) (*AnalysisResult, error) {
	var result AnalysisResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAnalysis, err)
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}
	return &result, nil
}
