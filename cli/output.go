package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"librarian/library"
)

const (
	dateLayout  = "2006-01-02"
	maxColWidth = 40
	minColWidth = 6
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// table renders aligned columns, truncating cells so a row fits the
// terminal when writing to one.
type table struct {
	header []string
	rows   [][]string
}

func newTable(header ...string) *table {
	return &table{header: header}
}

func (t *table) add(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) widths(w io.Writer) []int {
	limit := maxColWidth
	if f, ok := w.(*os.File); ok && isTerminal(f) {
		if cols, _, err := term.GetSize(int(f.Fd())); err == nil && len(t.header) > 0 {
			limit = max(minColWidth, (cols-2*(len(t.header)-1))/len(t.header))
		}
	}

	widths := make([]int, len(t.header))
	for _, row := range append([][]string{t.header}, t.rows...) {
		for i, cell := range row {
			widths[i] = max(widths[i], min(limit, runewidth.StringWidth(cell)))
		}
	}
	return widths
}

func (t *table) render(w io.Writer) {
	widths := t.widths(w)
	line := func(cells []string) {
		out := make([]string, len(cells))
		for i, cell := range cells {
			cell = truncate(cell, widths[i])
			if i < len(cells)-1 {
				cell = runewidth.FillRight(cell, widths[i])
			}
			out[i] = cell
		}
		fmt.Fprintln(w, strings.Join(out, "  "))
	}

	line(t.header)
	seps := make([]string, len(widths))
	for i, n := range widths {
		seps[i] = strings.Repeat("-", n)
	}
	line(seps)
	for _, row := range t.rows {
		line(row)
	}
}

// truncate shortens s to at most width display cells.
func truncate(s string, width int) string {
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}

func date(t time.Time) string { return t.Local().Format(dateLayout) }

func optional(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func year(y *int) string {
	if y == nil {
		return "-"
	}
	return strconv.Itoa(*y)
}

func loanState(l library.Loan, now time.Time) string {
	switch {
	case !l.Open():
		return "returned " + date(*l.ReturnedAt)
	case l.Overdue(now):
		return "OVERDUE"
	default:
		return "open"
	}
}

func parseID(kind, s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, &library.ValidationError{Field: kind + " id", Reason: fmt.Sprintf("%q is not a positive number", s)}
	}
	return id, nil
}

// confirm asks a yes/no question when stdin is a terminal; otherwise the
// caller must pass --yes.
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	if !isTerminal(in) {
		return false, fmt.Errorf("refusing to delete without --yes when stdin is not a terminal")
	}
	fmt.Fprintf(out, "%s [y/N] ", question)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func renderLoans(w io.Writer, loans []library.LoanDetail, now time.Time) {
	if len(loans) == 0 {
		fmt.Fprintln(w, "No loans.")
		return
	}
	t := newTable("ID", "Book", "Title", "Member", "Loaned", "Due", "Status")
	for _, l := range loans {
		t.add(
			strconv.FormatInt(l.ID, 10),
			strconv.FormatInt(l.BookID, 10),
			l.BookTitle,
			l.MemberName,
			date(l.LoanedAt),
			date(l.DueAt),
			loanState(l.Loan, now),
		)
	}
	t.render(w)
}
