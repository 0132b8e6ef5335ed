package search

import (
	"fmt"
	"time"
)

// Aggregate merges the per-keyword reports into the final answer. Items are
// deduplicated across sessions by case identifier, first seen wins: the
// earliest-finishing session keeps a contested decision, later duplicates
// are dropped from the list but still count toward their own keyword's
// outcome. MaxResults, when positive, truncates the deduplicated list.
func Aggregate(req Request, reports []Report, elapsed time.Duration) Result {
	details := make(map[string]Outcome, len(reports))
	merged := make([]ResultItem, 0, len(reports)*4)
	seen := make(map[string]struct{})
	anySuccess := false

	for _, report := range reports {
		details[report.Keyword] = report.Outcome
		if report.Outcome.Success {
			anySuccess = true
		}
		for _, item := range report.Items {
			id := item.CaseID()
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			merged = append(merged, item)
		}
	}

	if req.MaxResults > 0 && len(merged) > req.MaxResults {
		merged = merged[:req.MaxResults]
	}

	return Result{
		Results:        merged,
		Success:        anySuccess,
		Message:        aggregateMessage(anySuccess, len(merged)),
		SearchDetails:  details,
		ProcessingTime: elapsed.Seconds(),
		TotalKeywords:  len(reports),
		UniqueResults:  len(merged),
	}
}

func aggregateMessage(success bool, unique int) string {
	if !success {
		return "all keyword searches failed"
	}
	if unique == 0 {
		return "no results"
	}
	return fmt.Sprintf("%d unique decisions found", unique)
}
