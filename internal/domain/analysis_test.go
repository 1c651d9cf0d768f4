package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validResult() *AnalysisResult {
	return &AnalysisResult{
		Tags:      []string{"Hot-Lead", " no-website "},
		Priority:  PriorityUrgent,
		Message:   AnalysisMessage{Subject: "Hi", Body: "Body"},
		Reasoning: "because",
	}
}

func TestValidateNormalizesTagsAndChannel(t *testing.T) {
	result := validResult()
	require.NoError(t, result.Validate())

	assert.Equal(t, []string{"hot-lead", "no-website"}, result.Tags)
	assert.Equal(t, "email", result.Message.Channel)
}

func TestValidateRejectsUnknownPriority(t *testing.T) {
	result := validResult()
	result.Priority = "whenever"
	assert.ErrorIs(t, result.Validate(), ErrMalformedAnalysis)
}

func TestValidateRequiresMessage(t *testing.T) {
	result := validResult()
	result.Message.Body = "  "
	assert.ErrorIs(t, result.Validate(), ErrMalformedAnalysis)
}

func TestValidateRequiresTags(t *testing.T) {
	result := validResult()
	result.Tags = nil
	assert.ErrorIs(t, result.Validate(), ErrMalformedAnalysis)

	result = validResult()
	result.Tags = []string{"ok", "   "}
	assert.ErrorIs(t, result.Validate(), ErrMalformedAnalysis)
}

func TestValidateRequiresReasoning(t *testing.T) {
	result := validResult()
	result.Reasoning = ""
	assert.ErrorIs(t, result.Validate(), ErrMalformedAnalysis)
}

func TestParseAnalysisResultRejectsInvalidJSON(t *testing.T) {
	_, err := ParseAnalysisResult([]byte(`{broken`))
	assert.ErrorIs(t, err, ErrMalformedAnalysis)
}

func TestNextBackoffDelayDoublesPerAttempt(t *testing.T) {
	job := &Job{Backoff: BackoffPolicy{Type: "exponential", BaseDelay: 2 * time.Second}}

	job.Attempts = 0
	assert.Equal(t, 2*time.Second, job.NextBackoffDelay())
	job.Attempts = 1
	assert.Equal(t, 4*time.Second, job.NextBackoffDelay())
	job.Attempts = 2
	assert.Equal(t, 8*time.Second, job.NextBackoffDelay())
}

func TestDefaultPriorityPerJobType(t *testing.T) {
	assert.Less(t, DefaultPriority(JobTypeDemo), DefaultPriority(JobTypeAnalysis))
	assert.Less(t, DefaultPriority(JobTypeAnalysis), DefaultPriority(JobTypeBatch))
}

func TestFactsCapsReviewExcerpts(t *testing.T) {
	prospect := &Prospect{
		Name:    "Panaderia Sol",
		Reviews: []string{"one", " ", "two", "three", "four"},
	}
	facts := prospect.Facts()
	assert.Equal(t, []string{"one", "two", "three"}, facts.ReviewExcerpts)
}
