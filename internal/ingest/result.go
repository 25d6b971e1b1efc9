package ingest

import (
	"errors"
	"fmt"
)

// Outcome is the terminal state of one candidate in a run.
type Outcome string

// Terminal outcomes.
const (
	OutcomeIngested      Outcome = "ingested"
	OutcomeSkipDuplicate Outcome = "skip-duplicate"
	OutcomeFailed        Outcome = "failed"
	OutcomeFailedPartial Outcome = "failed-partial"
	OutcomeDropped       Outcome = "dropped"
)

// Result describes how the pipeline finished one candidate.
type Result struct {
	Candidate Candidate
	Outcome   Outcome
	Stage     Stage
	RecordID  string
	Err       error
}

// Aborts reports whether the result signals a total outage of a dependency.
func (r Result) Aborts() bool {
	return r.Err != nil && errors.Is(r.Err, ErrUnavailable)
}

// maxSummaryErrors bounds the error list returned to triggering callers.
const maxSummaryErrors = 50

// Summary aggregates outcomes of one run.
type Summary struct {
	Fetched          int      `json:"fetched"`
	Ingested         int      `json:"ingested"`
	SkippedDuplicate int      `json:"skippedDuplicate"`
	Failed           int      `json:"failed"`
	FailedPartial    int      `json:"failedPartial"`
	Dropped          int      `json:"dropped"`
	Aborted          bool     `json:"aborted"`
	Errors           []string `json:"errors,omitempty"`
}

// Add folds one result into the summary.
func (s *Summary) Add(r Result) {
	switch r.Outcome {
	case OutcomeIngested:
		s.Ingested++
	case OutcomeSkipDuplicate:
		s.SkippedDuplicate++
	case OutcomeFailed:
		s.Failed++
	case OutcomeFailedPartial:
		s.FailedPartial++
	case OutcomeDropped:
		s.Dropped++
	}
	if r.Err != nil && !IsDuplicate(r.Err) && len(s.Errors) < maxSummaryErrors {
		s.Errors = append(s.Errors, fmt.Sprintf("%s: %v", r.Candidate.SourceURL, r.Err))
	}
}

// Merge adds another summary's counts into s.
func (s *Summary) Merge(other Summary) {
	s.Fetched += other.Fetched
	s.Ingested += other.Ingested
	s.SkippedDuplicate += other.SkippedDuplicate
	s.Failed += other.Failed
	s.FailedPartial += other.FailedPartial
	s.Dropped += other.Dropped
	s.Aborted = s.Aborted || other.Aborted
	for _, e := range other.Errors {
		if len(s.Errors) >= maxSummaryErrors {
			break
		}
		s.Errors = append(s.Errors, e)
	}
}
