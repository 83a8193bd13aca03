package library_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarian/inmemory"
	"librarian/library"
)

var now = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

// backends runs fn once per Store implementation.
func backends(t *testing.T, fn func(t *testing.T, store library.Store)) {
	t.Run("sqlite", func(t *testing.T) {
		db, err := library.NewDatabase(context.Background(), filepath.Join(t.TempDir(), "lib.db"))
		if err != nil {
			t.Fatalf("db: %v", err)
		}
		t.Cleanup(func() { db.Close() })
		fn(t, db)
	})
	t.Run("memory", func(t *testing.T) {
		store, err := inmemory.NewStore()
		if err != nil {
			t.Fatalf("store: %v", err)
		}
		fn(t, store)
	})
}

func newManager(store library.Store) *library.LibraryManager {
	return library.NewLibraryManager(store, library.WithClock(func() time.Time { return now }))
}

func addBook(t *testing.T, mgr *library.LibraryManager, isbn, title, author string, copies int) int64 {
	t.Helper()
	id, err := mgr.AddBook(context.Background(), library.NewBook{ISBN: isbn, Title: title, Author: author, Copies: copies})
	require.NoError(t, err)
	return id
}

func addMember(t *testing.T, mgr *library.LibraryManager, name, email string) int64 {
	t.Helper()
	id, err := mgr.AddMember(context.Background(), library.NewMember{Name: name, Email: email})
	require.NoError(t, err)
	return id
}

func available(t *testing.T, mgr *library.LibraryManager, id int64) int {
	t.Helper()
	b, err := mgr.GetBook(context.Background(), id)
	require.NoError(t, err)
	require.GreaterOrEqual(t, b.AvailableCopies, 0)
	require.LessOrEqual(t, b.AvailableCopies, b.TotalCopies)
	return b.AvailableCopies
}

func TestBorrowAndReturn(t *testing.T) {
	backends(t, func(t *testing.T, store library.Store) {
		ctx := context.Background()
		mgr := newManager(store)
		bookID := addBook(t, mgr, "123456789X", "Test Book", "Author", 2)
		memberID := addMember(t, mgr, "Alice", "")
		assert.Equal(t, 2, available(t, mgr, bookID))

		loanID, err := mgr.Borrow(ctx, bookID, memberID, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, available(t, mgr, bookID))

		open, err := mgr.ListLoans(ctx, library.LoanFilter{ActiveOnly: true})
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, loanID, open[0].ID)
		assert.True(t, open[0].DueAt.Equal(now.AddDate(0, 0, 1)))
		assert.Equal(t, "Test Book", open[0].BookTitle)
		assert.Equal(t, "Alice", open[0].MemberName)

		require.NoError(t, mgr.Return(ctx, loanID))
		assert.Equal(t, 2, available(t, mgr, bookID))

		loan, err := mgr.GetLoan(ctx, loanID)
		require.NoError(t, err)
		assert.False(t, loan.Open())

		open, err = mgr.ListLoans(ctx, library.LoanFilter{ActiveOnly: true})
		require.NoError(t, err)
		assert.Empty(t, open)
	})
}

func TestBorrowUsesDefaultLoanPeriod(t *testing.T) {
	backends(t, func(t *testing.T, store library.Store) {
		ctx := context.Background()
		mgr := library.NewLibraryManager(store,
			library.WithClock(func() time.Time { return now }),
			library.WithLoanDays(21))
		bookID := addBook(t, mgr, "123456789X", "Test Book", "Author", 1)
		memberID := addMember(t, mgr, "Alice", "")

		loanID, err := mgr.Borrow(ctx, bookID, memberID, 0)
		require.NoError(t, err)
		loan, err := mgr.GetLoan(ctx, loanID)
		require.NoError(t, err)
		assert.True(t, loan.DueAt.Equal(now.AddDate(0, 0, 21)))
	})
}

func TestBorrowLastCopy(t *testing.T) {
	backends(t, func(t *testing.T, store library.Store) {
		ctx := context.Background()
		mgr := newManager(store)
		bookID := addBook(t, mgr, "123456789X", "Test Book", "Author", 1)
		memberID := addMember(t, mgr, "Alice", "")

		_, err := mgr.Borrow(ctx, bookID, memberID, 14)
		require.NoError(t, err)
		assert.Equal(t, 0, available(t, mgr, bookID))

		_, err = mgr.Borrow(ctx, bookID, memberID, 14)
		require.ErrorIs(t, err, library.ErrUnavailable)
		assert.Equal(t, 0, available(t, mgr, bookID))

		loans, err := mgr.ListLoans(ctx, library.LoanFilter{})
		require.NoError(t, err)
		assert.Len(t, loans, 1)
	})
}

func TestBorrowRejectsUnknownRecords(t *testing.T) {
	backends(t, func(t *testing.T, store library.Store) {
		ctx := context.Background()
		mgr := newManager(store)
		bookID := addBook(t, mgr, "123456789X", "Test Book", "Author", 1)
		memberID := addMember(t, mgr, "Alice", "")

		_, err := mgr.Borrow(ctx, 999, memberID, 14)
		assert.ErrorIs(t, err, library.ErrNotFound)

		_, err = mgr.Borrow(ctx, bookID, 999, 14)
		assert.ErrorIs(t, err, library.ErrInvalidReference)
		assert.ErrorIs(t, err, library.ErrValidation)

		assert.Equal(t, 1, available(t, mgr, bookID))
		loans, err := mgr.ListLoans(ctx, library.LoanFilter{})
		require.NoError(t, err)
		assert.Empty(t, loans)
	})
}

func TestReturnIsForgiving(t *testing.T) {
	backends(t, func(t *testing.T, store library.Store) {
		ctx := context.Background()
		mgr := newManager(store)
		bookID := addBook(t, mgr, "123456789X", "Test Book", "Author", 2)
		memberID := addMember(t, mgr, "Alice", "")
		first, err := mgr.Borrow(ctx, bookID, memberID, 14)
		require.NoError(t, err)
		_, err = mgr.Borrow(ctx, bookID, memberID, 14)
		require.NoError(t, err)

		require.NoError(t, mgr.Return(ctx, first))
		require.NoError(t, mgr.Return(ctx, first))
		assert.Equal(t, 1, available(t, mgr, bookID))

		require.NoError(t, mgr.Return(ctx, 999))
		assert.Equal(t, 1, available(t, mgr, bookID))

		open, err := mgr.ListLoans(ctx, library.LoanFilter{ActiveOnly: true})
		require.NoError(t, err)
		assert.Len(t, open, 1)
	})
}

func TestUpdateBookTotalCopies(t *testing.T) {
	backends(t, func(t *testing.T, store library.Store) {
		ctx := context.Background()
		mgr := newManager(store)
		bookID := addBook(t, mgr, "123456789X", "Test Book", "Author", 3)
		memberID := addMember(t, mgr, "Alice", "")
		for i := 0; i < 2; i++ {
			_, err := mgr.Borrow(ctx, bookID, memberID, 14)
			require.NoError(t, err)
		}

		one := 1
		err := mgr.UpdateBook(ctx, bookID, library.BookUpdate{TotalCopies: &one})
		require.ErrorIs(t, err, library.ErrValidation)

		negative := -1
		err = mgr.UpdateBook(ctx, bookID, library.BookUpdate{TotalCopies: &negative})
		require.ErrorIs(t, err, library.ErrValidation)

		five := 5
		require.NoError(t, mgr.UpdateBook(ctx, bookID, library.BookUpdate{TotalCopies: &five}))
		assert.Equal(t, 3, available(t, mgr, bookID))

		two := 2
		require.NoError(t, mgr.UpdateBook(ctx, bookID, library.BookUpdate{TotalCopies: &two}))
		assert.Equal(t, 0, available(t, mgr, bookID))
	})
}

func TestUpdateBookPartial(t *testing.T) {
	backends(t, func(t *testing.T, store library.Store) {
		ctx := context.Background()
		mgr := newManager(store)
		bookID := addBook(t, mgr, "123456789X", "Test Book", "Author", 1)

		title := "  Renamed  "
		require.NoError(t, mgr.UpdateBook(ctx, bookID, library.BookUpdate{Title: &title}))
		b, err := mgr.GetBook(ctx, bookID)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", b.Title)
		assert.Equal(t, "Author", b.Author)
		assert.Equal(t, "123456789X", b.ISBN)
		require.NotNil(t, b.UpdatedAt)

		empty := " "
		err = mgr.UpdateBook(ctx, bookID, library.BookUpdate{Author: &empty})
		assert.ErrorIs(t, err, library.ErrValidation)

		err = mgr.UpdateBook(ctx, 999, library.BookUpdate{Title: &title})
		assert.ErrorIs(t, err, library.ErrNotFound)

		other := addBook(t, mgr, "9780306406157", "Other", "Someone", 1)
		isbn := "9780306406157"
		err = mgr.UpdateBook(ctx, bookID, library.BookUpdate{ISBN: &isbn})
		assert.ErrorIs(t, err, library.ErrDuplicate)
		assert.NotZero(t, other)
	})
}

func TestAddValidation(t *testing.T) {
	backends(t, func(t *testing.T, store library.Store) {
		ctx := context.Background()
		mgr := newManager(store)

		_, err := mgr.AddBook(ctx, library.NewBook{ISBN: "123456789X", Title: "T", Author: "A", Copies: 0})
		assert.ErrorIs(t, err, library.ErrValidation)
		_, err = mgr.AddBook(ctx, library.NewBook{ISBN: "123456789X", Title: " ", Author: "A", Copies: 1})
		assert.ErrorIs(t, err, library.ErrValidation)

		var ve *library.ValidationError
		_, err = mgr.AddMember(ctx, library.NewMember{Name: "  "})
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "name", ve.Field)

		_, err = mgr.AddMember(ctx, library.NewMember{Name: "Bob", Email: "not-an-email"})
		assert.ErrorIs(t, err, library.ErrValidation)

		addMember(t, mgr, "Alice", "alice@example.com")
		_, err = mgr.AddMember(ctx, library.NewMember{Name: "Alice Two", Email: "alice@example.com"})
		assert.ErrorIs(t, err, library.ErrDuplicate)

		addBook(t, mgr, "123456789X", "Test Book", "Author", 1)
		_, err = mgr.AddBook(ctx, library.NewBook{ISBN: "123456789X", Title: "Again", Author: "A", Copies: 1})
		assert.ErrorIs(t, err, library.ErrDuplicate)
	})
}

func TestUpdateMember(t *testing.T) {
	backends(t, func(t *testing.T, store library.Store) {
		ctx := context.Background()
		mgr := newManager(store)
		id, err := mgr.AddMember(ctx, library.NewMember{Name: "Alice", Email: "alice@example.com", Phone: "555"})
		require.NoError(t, err)

		none, name := "", "Alice Liddell"
		require.NoError(t, mgr.UpdateMember(ctx, id, library.MemberUpdate{Name: &name, Phone: &none}))

		m, err := mgr.GetMember(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, name, m.Name)
		require.NotNil(t, m.Email)
		assert.Equal(t, "alice@example.com", *m.Email)
		assert.Nil(t, m.Phone)

		blank := ""
		assert.ErrorIs(t, mgr.UpdateMember(ctx, id, library.MemberUpdate{Name: &blank}), library.ErrValidation)
		assert.ErrorIs(t, mgr.UpdateMember(ctx, 999, library.MemberUpdate{Name: &name}), library.ErrNotFound)
		assert.ErrorIs(t, mgr.UpdateMember(ctx, 999, library.MemberUpdate{}), library.ErrNotFound)
	})
}

func TestSearch(t *testing.T) {
	backends(t, func(t *testing.T, store library.Store) {
		ctx := context.Background()
		mgr := newManager(store)
		addBook(t, mgr, "9780306406157", "the Go Programming Language", "Donovan", 1)
		addBook(t, mgr, "123456789X", "Data Structures", "Sedgewick", 1)
		addBook(t, mgr, "0306406152", "Learning GO", "Bodner", 1)

		books, err := mgr.ListBooks(ctx, "go")
		require.NoError(t, err)
		require.Len(t, books, 2)
		assert.Equal(t, "Learning GO", books[0].Title)
		assert.Equal(t, "the Go Programming Language", books[1].Title)

		books, err = mgr.ListBooks(ctx, "SEDGE")
		require.NoError(t, err)
		require.Len(t, books, 1)

		books, err = mgr.ListBooks(ctx, "12345")
		require.NoError(t, err)
		require.Len(t, books, 1)
		assert.Equal(t, "Data Structures", books[0].Title)

		books, err = mgr.ListBooks(ctx, "")
		require.NoError(t, err)
		assert.Len(t, books, 3)
		assert.Equal(t, "Data Structures", books[0].Title)

		addMember(t, mgr, "zoe", "zoe@example.com")
		addMember(t, mgr, "Adam", "adam@Example.org")
		members, err := mgr.ListMembers(ctx, "EXAMPLE")
		require.NoError(t, err)
		require.Len(t, members, 2)
		assert.Equal(t, "Adam", members[0].Name)

		members, err = mgr.ListMembers(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, members)
	})
}

func TestDeleteCascades(t *testing.T) {
	backends(t, func(t *testing.T, store library.Store) {
		ctx := context.Background()
		mgr := newManager(store)
		keep := addBook(t, mgr, "123456789X", "Keep", "Author", 2)
		drop := addBook(t, mgr, "9780306406157", "Drop", "Author", 2)
		alice := addMember(t, mgr, "Alice", "")
		bob := addMember(t, mgr, "Bob", "")

		_, err := mgr.Borrow(ctx, keep, alice, 14)
		require.NoError(t, err)
		_, err = mgr.Borrow(ctx, drop, bob, 14)
		require.NoError(t, err)
		bobKeep, err := mgr.Borrow(ctx, keep, bob, 14)
		require.NoError(t, err)

		require.NoError(t, mgr.DeleteBook(ctx, drop))
		loans, err := mgr.ListLoans(ctx, library.LoanFilter{BookID: drop})
		require.NoError(t, err)
		assert.Empty(t, loans)

		require.NoError(t, mgr.DeleteMember(ctx, alice))
		loans, err = mgr.ListLoans(ctx, library.LoanFilter{})
		require.NoError(t, err)
		require.Len(t, loans, 1)
		assert.Equal(t, bobKeep, loans[0].ID)

		assert.ErrorIs(t, mgr.DeleteBook(ctx, drop), library.ErrNotFound)
		assert.ErrorIs(t, mgr.DeleteMember(ctx, alice), library.ErrNotFound)
	})
}

func TestStats(t *testing.T) {
	backends(t, func(t *testing.T, store library.Store) {
		ctx := context.Background()
		clock := now
		mgr := library.NewLibraryManager(store, library.WithClock(func() time.Time { return clock }))
		bookID := addBook(t, mgr, "123456789X", "Test Book", "Author", 3)
		memberID := addMember(t, mgr, "Alice", "")
		_, err := mgr.Borrow(ctx, bookID, memberID, 1)
		require.NoError(t, err)
		_, err = mgr.Borrow(ctx, bookID, memberID, 30)
		require.NoError(t, err)

		clock = now.AddDate(0, 0, 7)
		s, err := mgr.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, library.Stats{Books: 1, Copies: 3, CopiesOnLoan: 2, Members: 1, OpenLoans: 2, OverdueLoans: 1}, s)

		overdue, err := mgr.ListLoans(ctx, library.LoanFilter{OverdueOnly: true})
		require.NoError(t, err)
		assert.Len(t, overdue, 1)
	})
}

func TestConcurrentBorrowsNeverOverAllocate(t *testing.T) {
	backends(t, func(t *testing.T, store library.Store) {
		ctx := context.Background()
		mgr := newManager(store)
		bookID := addBook(t, mgr, "123456789X", "Test Book", "Author", 3)
		memberID := addMember(t, mgr, "Alice", "")

		const workers = 12
		var (
			wg          sync.WaitGroup
			mu          sync.Mutex
			ok, refused int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := mgr.Borrow(ctx, bookID, memberID, 14)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					ok++
				case errors.Is(err, library.ErrUnavailable):
					refused++
				default:
					t.Errorf("borrow: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 3, ok)
		assert.Equal(t, workers-3, refused)
		assert.Equal(t, 0, available(t, mgr, bookID))

		open, err := mgr.ListLoans(ctx, library.LoanFilter{ActiveOnly: true})
		require.NoError(t, err)
		assert.Len(t, open, 3)
	})
}
