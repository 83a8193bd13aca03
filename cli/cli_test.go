package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarian/library"
)

type harness struct {
	t   *testing.T
	env map[string]string
	db  string
}

func newHarness(t *testing.T) *harness {
	dir := t.TempDir()
	return &harness{
		t:   t,
		env: map[string]string{"HOME": dir},
		db:  filepath.Join(dir, "lib.db"),
	}
}

func (h *harness) runIn(stdin string, args ...string) (string, string, int) {
	h.t.Helper()
	var stdout, stderr bytes.Buffer
	args = append([]string{"--db", h.db}, args...)
	code := Execute(context.Background(), "test", args, strings.NewReader(stdin), &stdout, &stderr, h.env)
	return stdout.String(), stderr.String(), code
}

func (h *harness) run(args ...string) (string, string, int) {
	h.t.Helper()
	return h.runIn("", args...)
}

func (h *harness) ok(args ...string) string {
	h.t.Helper()
	out, errOut, code := h.run(args...)
	require.Equal(h.t, 0, code, "librarian %s: %s", strings.Join(args, " "), errOut)
	return out
}

func TestBorrowReturnFlow(t *testing.T) {
	h := newHarness(t)

	out := h.ok("book", "add", "--isbn", "0-306-40615-2", "--title", "Test Book", "--author", "Author", "--copies", "2")
	assert.Contains(t, out, "Added book 1")
	h.ok("member", "add", "--name", "Alice", "--email", "alice@example.com")

	var book library.Book
	require.NoError(t, json.Unmarshal([]byte(h.ok("--json", "book", "show", "1")), &book))
	assert.Equal(t, "0306406152", book.ISBN)
	assert.Equal(t, 2, book.AvailableCopies)

	out = h.ok("loan", "borrow", "1", "1", "--days", "1")
	assert.Contains(t, out, "Loan 1:")

	var loans []library.LoanDetail
	require.NoError(t, json.Unmarshal([]byte(h.ok("loan", "list", "--active", "--json")), &loans))
	require.Len(t, loans, 1)
	assert.Equal(t, "Test Book", loans[0].BookTitle)
	assert.Equal(t, "Alice", loans[0].MemberName)
	assert.True(t, loans[0].DueAt.Equal(loans[0].LoanedAt.AddDate(0, 0, 1)))

	out = h.ok("book", "list", "test")
	assert.Contains(t, out, "1/2")

	assert.Contains(t, h.ok("loan", "return", "1"), "Returned loan 1.")
	assert.Contains(t, h.ok("loan", "return", "1"), "not open")
	assert.Contains(t, h.ok("loan", "return", "42"), "not open")

	var stats library.Stats
	require.NoError(t, json.Unmarshal([]byte(h.ok("status", "--json")), &stats))
	assert.Equal(t, library.Stats{Books: 1, Copies: 2, Members: 1}, stats)
}

func TestErrorsExitNonZero(t *testing.T) {
	h := newHarness(t)
	h.ok("book", "add", "--isbn", "123456789X", "--title", "Only Copy", "--author", "A")
	h.ok("member", "add", "--name", "Alice")
	h.ok("loan", "borrow", "1", "1")
	h.ok("book", "add", "--isbn", "9780306406157", "--title", "Spare", "--author", "B")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"malformed isbn", []string{"book", "add", "--isbn", "12-34", "--title", "T", "--author", "A"}, "isbn"},
		{"duplicate isbn", []string{"book", "add", "--isbn", "123456789x", "--title", "T", "--author", "A"}, "already exists"},
		{"unavailable", []string{"loan", "borrow", "1", "1"}, "no copies available"},
		{"unknown member", []string{"loan", "borrow", "2", "9"}, "invalid reference"},
		{"unknown book", []string{"book", "show", "9"}, "not found"},
		{"bad id", []string{"member", "show", "abc"}, "not a positive number"},
		{"empty update", []string{"book", "update", "1"}, "nothing to update"},
		{"below open loans", []string{"book", "update", "1", "--copies", "0"}, "on loan"},
		{"bad store", []string{"--store", "postgres", "status"}, "unknown store"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errOut, code := h.run(tt.args...)
			assert.Equal(t, 1, code)
			assert.Contains(t, errOut, "error: ")
			assert.Contains(t, errOut, tt.want)
		})
	}
}

func TestDeleteNeedsConfirmation(t *testing.T) {
	h := newHarness(t)
	h.ok("book", "add", "--isbn", "123456789X", "--title", "Doomed", "--author", "A")

	_, errOut, code := h.run("book", "delete", "1")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "--yes")

	assert.Contains(t, h.ok("book", "delete", "1", "--yes"), "Deleted book 1.")
	assert.Contains(t, h.ok("book", "list"), "No books found.")
}

func TestMemberUpdateClearsFields(t *testing.T) {
	h := newHarness(t)
	h.ok("member", "add", "--name", "Alice", "--email", "alice@example.com", "--phone", "555")
	h.ok("member", "update", "1", "--phone", "", "--name", "Alice L")

	var m library.Member
	require.NoError(t, json.Unmarshal([]byte(h.ok("--json", "member", "show", "1")), &m))
	assert.Equal(t, "Alice L", m.Name)
	assert.Nil(t, m.Phone)
	require.NotNil(t, m.Email)
}

func TestShellKeepsMemoryStoreAcrossLines(t *testing.T) {
	h := newHarness(t)
	script := strings.Join([]string{
		`book add --isbn 123456789X --title "The Test Book" --author Author --copies 2`,
		`member add --name 'Alice Smith'`,
		`loan borrow 1 1`,
		`loan borrow 1 99`,
		`book list`,
		`shell`,
		`exit`,
	}, "\n")

	out, errOut, code := h.runIn(script, "--store", "memory", "shell")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Added book 1: The Test Book")
	assert.Contains(t, out, "Added member 1: Alice Smith")
	assert.Contains(t, out, "1/2")
	assert.Contains(t, out, "Goodbye!")
	assert.Contains(t, errOut, "invalid reference")
	assert.Contains(t, errOut, "already inside a shell")
}

func TestConfigInitAndShow(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "librarian.json")

	assert.Contains(t, h.ok("config", "init", "--path", path), path)
	_, errOut, code := h.run("config", "init", "--path", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "already exists")

	out := h.ok("--config", path, "--log-level", "error", "config", "show")
	assert.Contains(t, out, "loaded explicit config: "+path)
	assert.Contains(t, out, `"log_level": "error"`)
	assert.Contains(t, out, `"db_path": "`+h.db+`"`)
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"book list", []string{"book", "list"}},
		{`book add --title "Two  Words"`, []string{"book", "add", "--title", "Two  Words"}},
		{`member update 1 --phone ''`, []string{"member", "update", "1", "--phone", ""}},
		{"  loan\tlist  ", []string{"loan", "list"}},
	}
	for _, tt := range tests {
		got, err := splitArgs(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := splitArgs(`book add --title "open`)
	assert.Error(t, err)
}

func TestTableTruncatesWideCells(t *testing.T) {
	var buf bytes.Buffer
	tbl := newTable("ID", "Title")
	tbl.add("1", strings.Repeat("x", 60))
	tbl.add("2", "短い")
	tbl.render(&buf)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasSuffix(lines[2], "…"))
	assert.Contains(t, lines[3], "短い")
}
