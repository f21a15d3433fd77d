package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CommentRecord is one chat comment as ingested from the export CSV.
// Immutable once ingested; Index is the original row order and is the
// identity used for checkpointing and result merging.
type CommentRecord struct {
	Index        int    `json:"index"`
	DisplayTime  string `json:"display_time"` // relative broadcast time, HH:MM
	GuestID      string `json:"guest_id,omitempty"`
	Username     string `json:"username"`
	Text         string `json:"text"`
	RawTimestamp string `json:"raw_timestamp,omitempty"`
}

// ClassifiedRecord is a CommentRecord plus its classification. Both
// Attribute and Sentiment are always set; a record that could not be
// classified carries the fallback values with Fallback=true instead of
// being half-populated.
type ClassifiedRecord struct {
	CommentRecord
	Attribute string `json:"attribute"`
	Sentiment string `json:"sentiment"`
	Fallback  bool   `json:"fallback,omitempty"`
}

// Chat attribute taxonomy. Order matters: reports list attributes in
// this order with zero-filled counts.
var ChatAttributes = []string{
	"00 product question",
	"01 purchase intent",
	"02 product feedback",
	"03 greeting",
	"04 cast related",
	"05 reaction",
	"06 smalltalk",
	"07 other",
}

var ChatSentiments = []string{"positive", "neutral", "negative"}

// Fallback values assigned when classification cannot produce a
// confident result.
const (
	FallbackAttribute = "07 other"
	FallbackSentiment = "neutral"
)

// questionAttributes are the attributes treated as viewer questions by
// question extraction.
var questionAttributes = []string{
	"00 product question",
	"04 cast related",
}

func IsValidAttribute(s string) bool {
	for _, a := range ChatAttributes {
		if a == s {
			return true
		}
	}
	return false
}

func IsValidSentiment(s string) bool {
	for _, v := range ChatSentiments {
		if v == s {
			return true
		}
	}
	return false
}

func IsQuestionAttribute(s string) bool {
	for _, a := range questionAttributes {
		if a == s {
			return true
		}
	}
	return false
}

// UsageCounters accumulates token usage across a job run. Counters are
// monotonically non-decreasing during a run and reset only at the start
// of a fresh (non-resumed) job.
type UsageCounters struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

func (u *UsageCounters) Add(other UsageCounters) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// GPT-4o-mini pricing per 1M tokens.
const (
	inputCostPerMillion  = 0.15
	outputCostPerMillion = 0.60
)

func (u UsageCounters) EstimatedCostUSD() float64 {
	in := float64(u.PromptTokens) / 1_000_000 * inputCostPerMillion
	out := float64(u.CompletionTokens) / 1_000_000 * outputCostPerMillion
	return in + out
}

// JobState is the orchestrator state machine.
type JobState string

const (
	JobIdle      JobState = "idle"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobCancelled JobState = "cancelled"
	JobFailed    JobState = "failed"
)

// JobResult is what a finished (or stopped) analysis run returns.
type JobResult struct {
	JobID   string
	State   JobState
	Records []ClassifiedRecord
	Usage   UsageCounters
}

// MintJobID derives a job identifier from the start timestamp. The same
// format is embedded in checkpoint filenames.
func MintJobID(now time.Time) string {
	return now.Format("20060102_150405")
}

// ParseDisplayTime converts "HH:MM" (or legacy "HH:MM:SS") to seconds
// for sorting. Unparseable values sort first, matching the report's
// tolerance for dirty rows.
func ParseDisplayTime(s string) int {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 {
		return 0
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0
	}
	total := hours*3600 + minutes*60
	if len(parts) >= 3 {
		if secs, err := strconv.Atoi(parts[2]); err == nil {
			total += secs
		}
	}
	return total
}

// FormatDisplayTime renders an elapsed duration in seconds as HH:MM.
func FormatDisplayTime(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/3600, (seconds%3600)/60)
}

// ValidationError reports bad input data (missing columns, empty
// dataset, no usable timestamps). Raised before any classification side
// effect occurs.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// ProviderError reports a failed call to the external classification
// provider. StatusCode is 0 when the failure happened before an HTTP
// status was available (network error, unparseable payload).
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s provider error (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s provider error: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Systemic reports whether the error affects the provider as a whole
// (bad credentials) rather than a single request. Systemic errors halt
// the batch with the checkpoint preserved; everything else is absorbed
// per record with the fallback category.
func (e *ProviderError) Systemic() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}
