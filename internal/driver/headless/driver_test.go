package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vlikcc/yargisalzekav2/internal/search"
)

func TestNewProviderValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewProvider(Config{MaxSessions: 0}, nil, zap.NewNop()); err == nil {
		t.Fatal("expected error for zero max sessions")
	}

	provider, err := NewProvider(Config{MaxSessions: 3}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer provider.Close(context.Background())
	if cap(provider.sem) != 3 {
		t.Fatalf("expected slot capacity 3, got %d", cap(provider.sem))
	}
	if provider.cfg.NavigationTimeout != 45*time.Second {
		t.Fatalf("expected default navigation timeout, got %v", provider.cfg.NavigationTimeout)
	}
	if provider.cfg.OpTimeout != 10*time.Second {
		t.Fatalf("expected default op timeout, got %v", provider.cfg.OpTimeout)
	}
	if provider.cfg.DetailSettle != 500*time.Millisecond {
		t.Fatalf("expected default detail settle, got %v", provider.cfg.DetailSettle)
	}
	if provider.budget != nil {
		t.Fatal("expected no budget by default")
	}
}

func TestIsXPath(t *testing.T) {
	t.Parallel()

	cases := []struct {
		locator string
		want    bool
	}{
		{"#aranan", false},
		{"table tbody tr", false},
		{"a.paginate_button.next", false},
		{`//button[normalize-space()='Ara']`, true},
		{"/html/body/div[2]/table/tbody/tr[3]", true},
		{"(//tr)[1]", true},
	}
	for _, tc := range cases {
		if got := isXPath(tc.locator); got != tc.want {
			t.Errorf("isXPath(%q) = %v, want %v", tc.locator, got, tc.want)
		}
	}
}

const portalFixture = `<!doctype html><html><body>
<table id="results"><tbody>
<tr onclick="document.getElementById('detail').innerText='Decision A full text'">
<td>1. Hukuk Dairesi</td><td>2024/1</td><td>2024/10</td><td>01.01.2024</td></tr>
<tr onclick="document.getElementById('detail').innerText='Decision B full text'">
<td>2. Hukuk Dairesi</td><td>2024/2</td><td>2024/20</td><td>02.01.2024</td></tr>
</tbody></table>
<div id="detail"></div>
</body></html>`

func TestDriverAgainstLocalPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, portalFixture)
	}))
	defer srv.Close()

	provider, err := NewProvider(Config{
		MaxSessions:       1,
		UserAgent:         "TestAgent",
		NavigationTimeout: 10 * time.Second,
		OpTimeout:         10 * time.Second,
		DetailSettle:      100 * time.Millisecond,
	}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	defer provider.Close(context.Background())

	ctx := context.Background()
	driver, err := provider.Acquire(ctx)
	if err != nil {
		t.Skipf("chromedp unavailable: %v", err)
	}
	defer driver.Close(ctx)

	if err := driver.Navigate(ctx, srv.URL); err != nil {
		t.Skipf("navigate failed: %v", err)
	}

	if err := driver.WaitForElement(ctx, "#results tbody tr", 5*time.Second); err != nil {
		t.Fatalf("WaitForElement() error = %v", err)
	}

	rows, err := driver.FindAll(ctx, "#results tbody tr")
	if err != nil {
		t.Fatalf("FindAll() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if !strings.Contains(rows[0].HTML, "2024/1") || !strings.HasPrefix(rows[0].Locator, "/") {
		t.Fatalf("unexpected row snapshot: %+v", rows[0])
	}

	if err := driver.ActivateRow(ctx, rows[0]); err != nil {
		t.Fatalf("ActivateRow() error = %v", err)
	}
	detail, err := driver.ReadUpdatedDetail(ctx, "#detail", "", 5*time.Second)
	if err != nil {
		t.Fatalf("ReadUpdatedDetail() error = %v", err)
	}
	if !strings.Contains(detail, "Decision A") {
		t.Fatalf("unexpected detail text %q", detail)
	}

	if err := driver.ActivateRow(ctx, rows[1]); err != nil {
		t.Fatalf("ActivateRow() second error = %v", err)
	}
	second, err := driver.ReadUpdatedDetail(ctx, "#detail", detail, 5*time.Second)
	if err != nil {
		t.Fatalf("ReadUpdatedDetail() second error = %v", err)
	}
	if !strings.Contains(second, "Decision B") {
		t.Fatalf("unexpected second detail text %q", second)
	}

	text, err := driver.ReadText(ctx, "#detail")
	if err != nil {
		t.Fatalf("ReadText() error = %v", err)
	}
	if !strings.Contains(text, "Decision B") {
		t.Fatalf("unexpected pane text %q", text)
	}

	var count int
	if err := driver.ExecuteScript(ctx, `document.querySelectorAll('#results tbody tr').length`, &count); err != nil {
		t.Fatalf("ExecuteScript() error = %v", err)
	}
	if count != 2 {
		t.Fatalf("expected script count 2, got %d", count)
	}

	err = driver.WaitForElement(ctx, "#missing", 500*time.Millisecond)
	if !errors.Is(err, search.ErrElementTimeout) {
		t.Fatalf("WaitForElement(missing) error = %v, want ErrElementTimeout", err)
	}

	if err := driver.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	// Second close must be a no-op.
	if err := driver.Close(ctx); err != nil {
		t.Fatalf("Close() repeat error = %v", err)
	}
}
