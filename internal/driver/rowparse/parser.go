// Package rowparse extracts decision columns from result row snapshots.
package rowparse

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/vlikcc/yargisalzekav2/internal/search"
)

// minCells is the column count of a well-formed portal row: an index cell
// followed by chamber, case number, decision number, and decision date.
const minCells = 5

// Parser implements search.RowParser with goquery. It expects the outer
// HTML of one <tr> as captured by a row snapshot.
type Parser struct{}

// New constructs a Parser.
func New() *Parser {
	return &Parser{}
}

// Parse reads one row's markup and returns its structured columns. Rows with
// fewer than five cells are malformed and rejected.
func (Parser) Parse(html string) (search.RowFields, error) {
	// A bare <tr> outside a table is dropped by the HTML5 parser, so the
	// snapshot is re-wrapped before parsing.
	doc, err := goquery.NewDocumentFromReader(
		strings.NewReader("<table><tbody>" + html + "</tbody></table>"))
	if err != nil {
		return search.RowFields{}, fmt.Errorf("parse row html: %w", err)
	}
	cells := doc.Find("td")
	if cells.Length() < minCells {
		return search.RowFields{}, fmt.Errorf("row has %d cells, want at least %d", cells.Length(), minCells)
	}
	text := func(i int) string {
		return strings.TrimSpace(cells.Eq(i).Text())
	}
	return search.RowFields{
		Chamber:        text(1),
		CaseNumber:     text(2),
		DecisionNumber: text(3),
		DecisionDate:   text(4),
	}, nil
}
