// Package search defines the core types and contracts of the decision
// search engine shared across subsystems.
package search

import (
	"time"
)

// Request is one immutable search order: a keyword set plus an upper bound
// on the size of the aggregate result list. Requests are normalized by a
// RequestPolicy before dispatch and never mutated afterwards.
type Request struct {
	Keywords   []string `json:"keywords"`
	MaxResults int      `json:"max_results"`
}

// ResultItem is one structured decision record extracted from the portal.
// It is created at the moment a row's detail pane has been read and is never
// mutated after creation.
type ResultItem struct {
	Chamber        string `json:"chamber"`
	CaseNumber     string `json:"case_number"`
	DecisionNumber string `json:"decision_number"`
	DecisionDate   string `json:"decision_date"`
	DecisionText   string `json:"decision_text"`
	MatchedKeyword string `json:"matched_keyword"`
}

// CaseID returns the composite identity of a decision. Two items with the
// same CaseID describe the same decision regardless of which keyword or
// session produced them.
func (r ResultItem) CaseID() string {
	return r.CaseNumber + "-" + r.DecisionNumber
}

// Outcome is the per-keyword verdict produced exactly once when that
// keyword's session terminates. A session that found nothing is still a
// success; Success is false only for session-fatal errors.
type Outcome struct {
	Success bool   `json:"success"`
	Count   int    `json:"count"`
	Message string `json:"message"`
}

// Result is the aggregate answer for one keyword set.
type Result struct {
	Results        []ResultItem       `json:"results"`
	Success        bool               `json:"success"`
	Message        string             `json:"message"`
	SearchDetails  map[string]Outcome `json:"search_details"`
	ProcessingTime float64            `json:"processing_time"`
	TotalKeywords  int                `json:"total_keywords"`
	UniqueResults  int                `json:"unique_results"`
}

// Job is one keyword's unit of work flowing through the dispatch queue.
type Job struct {
	DispatchID string
	Keyword    string
	Submitted  time.Time
}

// Report is what a finished session hands back to the dispatcher. Items may
// be non-empty even when the outcome is a failure: partial progress from a
// session that died mid-pagination is kept, not discarded.
type Report struct {
	Keyword string
	Items   []ResultItem
	Outcome Outcome
	Pages   int
	Elapsed time.Duration
}

// RowFields are the structured columns parsed from one result row snapshot.
type RowFields struct {
	Chamber        string
	CaseNumber     string
	DecisionNumber string
	DecisionDate   string
}

// CaseID mirrors ResultItem.CaseID for rows that have not been promoted to
// items yet, so per-session dedup can run before the row is activated.
func (f RowFields) CaseID() string {
	return f.CaseNumber + "-" + f.DecisionNumber
}

// Config carries the portal selectors and the bounds every session must
// respect. Locator syntax is interpreted by the Driver implementation;
// values ending in the defaults below address the Yargıtay portal.
type Config struct {
	PortalURL string

	SearchInputLocator string
	SubmitLocator      string
	ResultRowsLocator  string
	DetailPaneLocator  string
	NextPageLocator    string

	TargetPerKeyword int
	MaxPages         int
	MaxConcurrency   int

	ElementTimeout time.Duration
	DetailTimeout  time.Duration
	// SessionTimeout caps one keyword session end to end. Zero means the
	// session is bounded only by the sum of its internal waits.
	SessionTimeout time.Duration

	Retry RetryPolicy
}

// Defaults returns the production configuration of the engine.
func Defaults() Config {
	return Config{
		PortalURL:          "https://karararama.yargitay.gov.tr",
		SearchInputLocator: "#aranan",
		SubmitLocator:      `//button[normalize-space()='Ara']`,
		ResultRowsLocator:  "#detayAramaSonuclar tbody tr",
		DetailPaneLocator:  "#kararAlani",
		NextPageLocator:    "a.paginate_button.next",
		TargetPerKeyword:   3,
		MaxPages:           5,
		MaxConcurrency:     10,
		ElementTimeout:     20 * time.Second,
		DetailTimeout:      20 * time.Second,
		Retry:              RetryPolicy{Attempts: 3, Delay: 2 * time.Second},
	}
}
