package crawler

import (
	"fmt"
	"time"
)

// Region is a top-level listing discovered on the root page.
type Region struct {
	Name string
	URL  string
}

// ClinicLink points at one clinic detail page within a region.
type ClinicLink struct {
	Region string
	Label  string
	URL    string
}

// ClinicRecord is the unit of output. Region and Name are never empty.
type ClinicRecord struct {
	Region   string   `json:"region"`
	Name     string   `json:"name"`
	Address  string   `json:"address"`
	Phone    string   `json:"phone"`
	Email    string   `json:"email"`
	Services []string `json:"services"`
	URL      string   `json:"url"`
}

// OutcomeKind tags a FetchOutcome.
type OutcomeKind int

// Fetch outcome kinds.
const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRetryable
	OutcomeTerminal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// FetchOutcome is the tagged result of one fetch attempt or of a whole retry loop.
type FetchOutcome struct {
	Kind       OutcomeKind
	URL        string
	StatusCode int
	Body       []byte
	Reason     error
	Attempts   int
	Duration   time.Duration
}

// Success builds a successful outcome.
func Success(url string, status int, body []byte) FetchOutcome {
	return FetchOutcome{Kind: OutcomeSuccess, URL: url, StatusCode: status, Body: body}
}

// RetryableFailure builds an outcome the retry loop may try again.
func RetryableFailure(url string, status int, reason error) FetchOutcome {
	return FetchOutcome{Kind: OutcomeRetryable, URL: url, StatusCode: status, Reason: reason}
}

// TerminalFailure builds an outcome that will not be attempted again.
func TerminalFailure(url string, status int, reason error) FetchOutcome {
	return FetchOutcome{Kind: OutcomeTerminal, URL: url, StatusCode: status, Reason: reason}
}

// OK reports whether the outcome carries a body.
func (o FetchOutcome) OK() bool {
	return o.Kind == OutcomeSuccess
}

// NodeState tracks a region or clinic through the crawl.
type NodeState string

// Node lifecycle values.
const (
	NodePending  NodeState = "pending"
	NodeFetching NodeState = "fetching"
	NodeParsed   NodeState = "parsed"
	NodeSkipped  NodeState = "skipped"
)

// Summary reports the crawl counters. A node counts as visited once it is
// fetched; visited nodes that fail are also counted as skipped.
type Summary struct {
	RegionsVisited   int           `json:"regions_visited"`
	RegionsSkipped   int           `json:"regions_skipped"`
	ClinicsVisited   int           `json:"clinics_visited"`
	ClinicsSkipped   int           `json:"clinics_skipped"`
	ClinicsDuplicate int           `json:"clinics_duplicate"`
	RecordsProduced  int           `json:"records_produced"`
	Requests         int64         `json:"requests"`
	Duration         time.Duration `json:"duration"`
}

// Result bundles the records gathered by a run with its summary.
type Result struct {
	Records []ClinicRecord
	Summary Summary
}
