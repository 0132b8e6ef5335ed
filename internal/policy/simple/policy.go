// Package simple implements the default request admission policy.
package simple

import (
	"fmt"
	"strings"

	"github.com/vlikcc/yargisalzekav2/internal/search"
)

// Policy normalizes incoming requests before dispatch: keywords are trimmed,
// de-duplicated preserving first occurrence, and capped; the aggregate result
// bound is clamped to the configured ceiling.
type Policy struct {
	maxKeywords int
	maxResults  int
}

// New creates a Policy with the given caps.
func New(maxKeywords, maxResults int) *Policy {
	return &Policy{maxKeywords: maxKeywords, maxResults: maxResults}
}

// Normalize returns the admitted form of req. Rejections wrap
// search.ErrInvalidRequest so the API layer can map them to 400s.
func (p *Policy) Normalize(req search.Request) (search.Request, error) {
	seen := make(map[string]struct{}, len(req.Keywords))
	keywords := make([]string, 0, len(req.Keywords))
	for _, kw := range req.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		keywords = append(keywords, kw)
	}
	if len(keywords) == 0 {
		return search.Request{}, fmt.Errorf("%w: at least one keyword is required", search.ErrInvalidRequest)
	}
	if len(keywords) > p.maxKeywords {
		return search.Request{}, fmt.Errorf(
			"%w: %d keywords exceed the cap of %d", search.ErrInvalidRequest, len(keywords), p.maxKeywords)
	}

	maxResults := req.MaxResults
	if maxResults <= 0 || maxResults > p.maxResults {
		maxResults = p.maxResults
	}
	return search.Request{Keywords: keywords, MaxResults: maxResults}, nil
}
