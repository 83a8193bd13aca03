package library

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// LibraryManager enforces the rules that span records: availability never
// drops below zero, a loan closes at most once, and the loan row and the
// availability counter always change together.
type LibraryManager struct {
	store    Store
	logger   Logger
	now      func() time.Time
	loanDays int
}

// Option configures a LibraryManager.
type Option func(*LibraryManager)

// WithLogger sets the structured logger.
func WithLogger(logger Logger) Option {
	return func(lm *LibraryManager) {
		if logger != nil {
			lm.logger = logger
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(lm *LibraryManager) {
		if now != nil {
			lm.now = now
		}
	}
}

// WithLoanDays sets the loan period used when Borrow is called without one.
func WithLoanDays(days int) Option {
	return func(lm *LibraryManager) {
		if days > 0 {
			lm.loanDays = days
		}
	}
}

// NewLibraryManager wraps store with the library's business rules.
func NewLibraryManager(store Store, opts ...Option) *LibraryManager {
	lm := &LibraryManager{
		store:    store,
		logger:   discardLogger,
		now:      time.Now,
		loanDays: DefaultLoanDays,
	}
	for _, opt := range opts {
		opt(lm)
	}
	return lm
}

// Close closes the underlying store.
func (lm *LibraryManager) Close() error { return lm.store.Close() }

// LoanDays reports the default loan period.
func (lm *LibraryManager) LoanDays() int { return lm.loanDays }

// Timestamps are kept at second precision in UTC so stored values compare
// and sort consistently.
func (lm *LibraryManager) timestamp() time.Time {
	return lm.now().UTC().Truncate(time.Second)
}

// ------------------ Book helpers ------------------

// AddBook catalogs a book with all of its copies available.
func (lm *LibraryManager) AddBook(ctx context.Context, nb NewBook) (int64, error) {
	b := Book{
		ISBN:            strings.TrimSpace(nb.ISBN),
		Title:           strings.TrimSpace(nb.Title),
		Author:          strings.TrimSpace(nb.Author),
		Year:            nb.Year,
		TotalCopies:     nb.Copies,
		AvailableCopies: nb.Copies,
		CreatedAt:       lm.timestamp(),
	}
	switch {
	case b.ISBN == "":
		return 0, invalid("isbn", "is required")
	case b.Title == "":
		return 0, invalid("title", "is required")
	case b.Author == "":
		return 0, invalid("author", "is required")
	case b.TotalCopies < 1:
		return 0, invalid("copies", "must be at least 1")
	}

	id, err := lm.store.Repo().InsertBook(ctx, b)
	if err != nil {
		return 0, fmt.Errorf("add book: %w", err)
	}
	lm.logger.Info(logMsgBookAdded, logAttrBookID, id, logAttrAvailable, b.AvailableCopies)
	return id, nil
}

// GetBook fetches a single book.
func (lm *LibraryManager) GetBook(ctx context.Context, id int64) (Book, error) {
	return lm.store.Repo().GetBook(ctx, id)
}

// ListBooks returns books whose ISBN, title or author contains query,
// ignoring case, ordered by title. An empty query lists every book.
func (lm *LibraryManager) ListBooks(ctx context.Context, query string) ([]Book, error) {
	return lm.store.Repo().ListBooks(ctx, query)
}

// UpdateBook changes only the supplied fields. When the total copy count
// changes, availability is recomputed from the open loans; a total below the
// number of copies currently on loan is rejected.
func (lm *LibraryManager) UpdateBook(ctx context.Context, id int64, u BookUpdate) error {
	if err := validateBookUpdate(u); err != nil {
		return err
	}

	err := lm.store.WithinTx(ctx, func(repo Repository) error {
		if _, err := repo.GetBook(ctx, id); err != nil {
			return err
		}
		if u.Empty() {
			return nil
		}

		var available *int
		if u.TotalCopies != nil {
			onLoan, err := repo.CountOpenLoans(ctx, id)
			if err != nil {
				return err
			}
			if *u.TotalCopies < onLoan {
				return invalid("total_copies", fmt.Sprintf("%d copies are on loan", onLoan))
			}
			a := *u.TotalCopies - onLoan
			available = &a
		}
		return repo.UpdateBook(ctx, id, trimBookUpdate(u), available, lm.timestamp())
	})
	if err != nil {
		return fmt.Errorf("update book %d: %w", id, err)
	}
	lm.logger.Info(logMsgBookUpdated, logAttrBookID, id)
	return nil
}

func validateBookUpdate(u BookUpdate) error {
	if u.TotalCopies != nil && *u.TotalCopies < 0 {
		return invalid("total_copies", "must be >= 0")
	}
	for field, v := range map[string]*string{"isbn": u.ISBN, "title": u.Title, "author": u.Author} {
		if v != nil && strings.TrimSpace(*v) == "" {
			return invalid(field, "cannot be empty")
		}
	}
	return nil
}

func trimBookUpdate(u BookUpdate) BookUpdate {
	u.ISBN = trimmed(u.ISBN)
	u.Title = trimmed(u.Title)
	u.Author = trimmed(u.Author)
	return u
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	return &t
}

// DeleteBook removes a book together with its loan history.
func (lm *LibraryManager) DeleteBook(ctx context.Context, id int64) error {
	if err := lm.store.Repo().DeleteBook(ctx, id); err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	lm.logger.Info(logMsgBookDeleted, logAttrBookID, id)
	return nil
}

// ------------------ Member helpers ------------------

// AddMember registers a member. Empty email and phone are stored as absent.
func (lm *LibraryManager) AddMember(ctx context.Context, nm NewMember) (int64, error) {
	m := Member{
		Name:      strings.TrimSpace(nm.Name),
		CreatedAt: lm.timestamp(),
	}
	if m.Name == "" {
		return 0, invalid("name", "is required")
	}
	if email := strings.TrimSpace(nm.Email); email != "" {
		if !strings.Contains(email, "@") {
			return 0, invalid("email", "must contain @")
		}
		m.Email = &email
	}
	if phone := strings.TrimSpace(nm.Phone); phone != "" {
		m.Phone = &phone
	}

	id, err := lm.store.Repo().InsertMember(ctx, m)
	if err != nil {
		return 0, fmt.Errorf("add member: %w", err)
	}
	lm.logger.Info(logMsgMemberAdded, logAttrMemberID, id)
	return id, nil
}

// GetMember fetches a single member.
func (lm *LibraryManager) GetMember(ctx context.Context, id int64) (Member, error) {
	return lm.store.Repo().GetMember(ctx, id)
}

// ListMembers returns members whose name, email or phone contains query,
// ignoring case, ordered by name.
func (lm *LibraryManager) ListMembers(ctx context.Context, query string) ([]Member, error) {
	return lm.store.Repo().ListMembers(ctx, query)
}

// UpdateMember changes only the supplied fields. A supplied empty email or
// phone clears it; a supplied name must not be empty.
func (lm *LibraryManager) UpdateMember(ctx context.Context, id int64, u MemberUpdate) error {
	u.Name, u.Email, u.Phone = trimmed(u.Name), trimmed(u.Email), trimmed(u.Phone)
	if u.Name != nil && *u.Name == "" {
		return invalid("name", "cannot be empty")
	}
	if u.Email != nil && *u.Email != "" && !strings.Contains(*u.Email, "@") {
		return invalid("email", "must contain @")
	}

	repo := lm.store.Repo()
	if u.Empty() {
		_, err := repo.GetMember(ctx, id)
		return err
	}
	if err := repo.UpdateMember(ctx, id, u, lm.timestamp()); err != nil {
		return fmt.Errorf("update member %d: %w", id, err)
	}
	lm.logger.Info(logMsgMemberUpdated, logAttrMemberID, id)
	return nil
}

// DeleteMember removes a member together with their loan history.
func (lm *LibraryManager) DeleteMember(ctx context.Context, id int64) error {
	if err := lm.store.Repo().DeleteMember(ctx, id); err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	lm.logger.Info(logMsgMemberDeleted, logAttrMemberID, id)
	return nil
}

// ------------------ Circulation ------------------

// Borrow lends one copy of a book to a member for days days (the configured
// default when days <= 0) and returns the new loan's id. The loan insert and
// the availability decrement commit together or not at all.
func (lm *LibraryManager) Borrow(ctx context.Context, bookID, memberID int64, days int) (int64, error) {
	if days <= 0 {
		days = lm.loanDays
	}

	var (
		loanID int64
		due    time.Time
	)
	err := lm.store.WithinTx(ctx, func(repo Repository) error {
		book, err := repo.GetBook(ctx, bookID)
		if err != nil {
			return err
		}
		if book.AvailableCopies <= 0 {
			return fmt.Errorf("book %d: %w", bookID, ErrUnavailable)
		}
		if _, err := repo.GetMember(ctx, memberID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("member %d: %w", memberID, ErrInvalidReference)
			}
			return err
		}

		now := lm.timestamp()
		due = now.AddDate(0, 0, days)
		loanID, err = repo.InsertLoan(ctx, Loan{
			BookID:   bookID,
			MemberID: memberID,
			LoanedAt: now,
			DueAt:    due,
		})
		if err != nil {
			return err
		}
		_, err = repo.AdjustAvailableCopies(ctx, bookID, -1)
		return err
	})
	if err != nil {
		lm.logger.Warn(logMsgBorrowRejected, logAttrBookID, bookID, logAttrMemberID, memberID, logAttrError, err)
		return 0, fmt.Errorf("borrow: %w", err)
	}

	lm.logger.Info(logMsgBorrowed, logAttrLoanID, loanID, logAttrBookID, bookID, logAttrMemberID, memberID, logAttrDueAt, due)
	return loanID, nil
}

// Return closes an open loan and puts the copy back on the shelf. Returning
// a loan that is already closed or never existed does nothing and is not an
// error.
func (lm *LibraryManager) Return(ctx context.Context, loanID int64) error {
	var bookID int64
	err := lm.store.WithinTx(ctx, func(repo Repository) error {
		loan, err := repo.GetOpenLoan(ctx, loanID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		closed, err := repo.CloseLoan(ctx, loanID, lm.timestamp())
		if err != nil || !closed {
			return err
		}
		bookID = loan.BookID

		found, err := repo.AdjustAvailableCopies(ctx, loan.BookID, 1)
		if err != nil {
			return err
		}
		if !found {
			lm.logger.Warn(logMsgReturnOrphan, logAttrLoanID, loanID, logAttrBookID, loan.BookID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("return loan %d: %w", loanID, err)
	}

	if bookID == 0 {
		lm.logger.Debug(logMsgReturnNoop, logAttrLoanID, loanID)
		return nil
	}
	lm.logger.Info(logMsgReturned, logAttrLoanID, loanID, logAttrBookID, bookID)
	return nil
}

// GetLoan fetches a single loan regardless of its state.
func (lm *LibraryManager) GetLoan(ctx context.Context, id int64) (Loan, error) {
	return lm.store.Repo().GetLoan(ctx, id)
}

// ListLoans returns loans newest first. With ActiveOnly only open loans are
// returned.
func (lm *LibraryManager) ListLoans(ctx context.Context, f LoanFilter) ([]LoanDetail, error) {
	return lm.store.Repo().ListLoans(ctx, f, lm.timestamp())
}

// Now reports the manager's current time, as used for due dates.
func (lm *LibraryManager) Now() time.Time { return lm.timestamp() }

// Stats summarises the catalog and circulation.
func (lm *LibraryManager) Stats(ctx context.Context) (Stats, error) {
	return lm.store.Repo().Stats(ctx, lm.timestamp())
}
