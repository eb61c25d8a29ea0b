package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// GenerationMode selects how arguments are produced
type GenerationMode string

const (
	ModeMultiStep  GenerationMode = "multi_step"
	ModeSingleCall GenerationMode = "single_call"
)

// ParseStatus reports the outcome of structured post-processing
type ParseStatus string

const (
	ParseComplete ParseStatus = "complete"
	ParsePartial  ParseStatus = "partial_parse"
)

// ReasoningStepOutput is the recorded output of one reasoning step
type ReasoningStepOutput struct {
	Index        int           `json:"step"`
	Name         string        `json:"name"`
	Text         string        `json:"output"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Estimated    bool          `json:"estimated"`
	Elapsed      time.Duration `json:"elapsed_ns"`
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
}

// Attempt is a single provider call made while serving a step
type Attempt struct {
	Provider string        `json:"provider"`
	Model    string        `json:"model"`
	Elapsed  time.Duration `json:"elapsed_ns"`
	Error    string        `json:"error,omitempty"`
	Fallback bool          `json:"fallback,omitempty"`
}

// StepMetrics holds token and latency figures for one step
type StepMetrics struct {
	Step           string        `json:"step"`
	InputTokens    int           `json:"input_tokens"`
	OutputTokens   int           `json:"output_tokens"`
	Estimated      bool          `json:"estimated"`
	Elapsed        time.Duration `json:"elapsed_ns"`
	ElapsedSeconds float64       `json:"elapsed_seconds"`
	Attempts       []Attempt     `json:"attempts,omitempty"`
}

// Metrics aggregates the steps of one request
type Metrics struct {
	Steps          []StepMetrics `json:"steps"`
	InputTokens    int           `json:"total_input_tokens"`
	OutputTokens   int           `json:"total_output_tokens"`
	TotalTokens    int           `json:"total_tokens"`
	Estimated      bool          `json:"estimated"`
	Elapsed        time.Duration `json:"total_elapsed_ns"`
	ElapsedSeconds float64       `json:"total_elapsed_seconds"`
}

// GenerationResult is the user-visible outcome of argument generation
type GenerationResult struct {
	FinalText    string                `json:"raw_content"`
	Disclaimer   string                `json:"disclaimer"`
	RelatedCases RelatedCases          `json:"related_cases"`
	Metrics      Metrics               `json:"metrics"`
	Steps        []ReasoningStepOutput `json:"steps,omitempty"`
	Mode         GenerationMode        `json:"mode"`
	ParseStatus  ParseStatus           `json:"parse_status"`
	Provider     string                `json:"provider"`
	Model        string                `json:"model"`
}

// RelatedCases is a list of related cases stored as JSONB
type RelatedCases []RelatedCase

// Value implements driver.Valuer for JSONB
func (r RelatedCases) Value() (driver.Value, error) {
	if r == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r)
}

// Scan implements sql.Scanner for JSONB
func (r *RelatedCases) Scan(value interface{}) error {
	if value == nil {
		*r = make(RelatedCases, 0)
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*r = make(RelatedCases, 0)
		return nil
	}

	if len(bytes) == 0 {
		*r = make(RelatedCases, 0)
		return nil
	}

	return json.Unmarshal(bytes, r)
}
