// Package inmemory keeps the library in a go-memdb database. It honours the
// same contract as the SQLite store, uniqueness, cascades and transactions
// included, and backs tests and throwaway sessions.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-memdb"

	"librarian/library"
)

const (
	tableBooks   = "books"
	tableMembers = "members"
	tableLoans   = "loans"

	indexID       = "id"
	indexISBN     = "isbn"
	indexEmail    = "email"
	indexBookID   = "book_id"
	indexMemberID = "member_id"
)

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableBooks: {
				Name: tableBooks,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.IntFieldIndex{Field: "ID"},
					},
					indexISBN: {
						Name:    indexISBN,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ISBN"},
					},
				},
			},
			tableMembers: {
				Name: tableMembers,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.IntFieldIndex{Field: "ID"},
					},
					indexEmail: {
						Name:         indexEmail,
						Unique:       true,
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "Email"},
					},
				},
			},
			tableLoans: {
				Name: tableLoans,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.IntFieldIndex{Field: "ID"},
					},
					indexBookID: {
						Name:    indexBookID,
						Indexer: &memdb.IntFieldIndex{Field: "BookID"},
					},
					indexMemberID: {
						Name:    indexMemberID,
						Indexer: &memdb.IntFieldIndex{Field: "MemberID"},
					},
				},
			},
		},
	}
}

// Store is an in-memory library.Store.
type Store struct {
	db *memdb.MemDB
	// seq is only touched while the memdb writer lock is held.
	seq map[string]int64
}

// NewStore creates an empty store.
func NewStore() (*Store, error) {
	s := schema()
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("validate in-memory schema: %w", err)
	}
	db, err := memdb.NewMemDB(s)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize in-memory database: %w", err)
	}
	return &Store{db: db, seq: map[string]int64{}}, nil
}

// Repo returns a repository that runs every call in its own transaction.
func (s *Store) Repo() library.Repository { return &repository{store: s} }

// WithinTx runs fn in one write transaction, committed only when fn succeeds.
func (s *Store) WithinTx(ctx context.Context, fn func(library.Repository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	if err := fn(&repository{store: s, txn: txn}); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// Close is a no-op; the data goes away with the Store.
func (s *Store) Close() error { return nil }

func (s *Store) nextID(table string) int64 {
	s.seq[table]++
	return s.seq[table]
}

type repository struct {
	store *Store
	txn   *memdb.Txn
}

func (r *repository) write(ctx context.Context, fn func(*memdb.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.txn != nil {
		return fn(r.txn)
	}
	txn := r.store.db.Txn(true)
	defer txn.Abort()
	if err := fn(txn); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (r *repository) read(ctx context.Context, fn func(*memdb.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.txn != nil {
		return fn(r.txn)
	}
	return fn(r.store.db.Txn(false))
}

func first[T any](txn *memdb.Txn, table, index string, arg any) (*T, error) {
	raw, err := txn.First(table, index, arg)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*T), nil
}

func all[T any](txn *memdb.Txn, table, index string, args ...any) ([]*T, error) {
	it, err := txn.Get(table, index, args...)
	if err != nil {
		return nil, err
	}
	var out []*T
	for obj := it.Next(); obj != nil; obj = it.Next() {
		out = append(out, obj.(*T))
	}
	return out, nil
}

func contains(q string, fields ...string) bool {
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ---------------------------------------------------------------------------
// Books
// ---------------------------------------------------------------------------

func (r *repository) InsertBook(ctx context.Context, b library.Book) (int64, error) {
	err := r.write(ctx, func(txn *memdb.Txn) error {
		if err := checkCopies(b.TotalCopies, b.AvailableCopies); err != nil {
			return err
		}
		dup, err := first[library.Book](txn, tableBooks, indexISBN, b.ISBN)
		if err != nil {
			return err
		}
		if dup != nil {
			return fmt.Errorf("%w (isbn %s)", library.ErrDuplicate, b.ISBN)
		}
		b.ID = r.store.nextID(tableBooks)
		return txn.Insert(tableBooks, &b)
	})
	if err != nil {
		return 0, err
	}
	return b.ID, nil
}

func checkCopies(total, available int) error {
	if total < 0 || available < 0 || available > total {
		return fmt.Errorf("%w: copies out of range (total %d, available %d)", library.ErrValidation, total, available)
	}
	return nil
}

func (r *repository) getBook(txn *memdb.Txn, id int64) (*library.Book, error) {
	b, err := first[library.Book](txn, tableBooks, indexID, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("book %d: %w", id, library.ErrNotFound)
	}
	return b, nil
}

func (r *repository) GetBook(ctx context.Context, id int64) (library.Book, error) {
	var out library.Book
	err := r.read(ctx, func(txn *memdb.Txn) error {
		b, err := r.getBook(txn, id)
		if err != nil {
			return err
		}
		out = *b
		return nil
	})
	return out, err
}

func (r *repository) ListBooks(ctx context.Context, query string) ([]library.Book, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	books := []library.Book{}
	err := r.read(ctx, func(txn *memdb.Txn) error {
		rows, err := all[library.Book](txn, tableBooks, indexID)
		if err != nil {
			return err
		}
		for _, b := range rows {
			if q == "" || contains(q, b.ISBN, b.Title, b.Author) {
				books = append(books, *b)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(books, func(i, j int) bool {
		ti, tj := strings.ToLower(books[i].Title), strings.ToLower(books[j].Title)
		if ti != tj {
			return ti < tj
		}
		return books[i].ID < books[j].ID
	})
	return books, nil
}

func (r *repository) UpdateBook(ctx context.Context, id int64, u library.BookUpdate, available *int, at time.Time) error {
	return r.write(ctx, func(txn *memdb.Txn) error {
		cur, err := r.getBook(txn, id)
		if err != nil {
			return err
		}
		b := *cur
		if u.ISBN != nil && *u.ISBN != b.ISBN {
			dup, err := first[library.Book](txn, tableBooks, indexISBN, *u.ISBN)
			if err != nil {
				return err
			}
			if dup != nil {
				return fmt.Errorf("%w (isbn %s)", library.ErrDuplicate, *u.ISBN)
			}
			b.ISBN = *u.ISBN
		}
		if u.Title != nil {
			b.Title = *u.Title
		}
		if u.Author != nil {
			b.Author = *u.Author
		}
		switch {
		case u.ClearYear:
			b.Year = nil
		case u.Year != nil:
			y := *u.Year
			b.Year = &y
		}
		if u.TotalCopies != nil {
			b.TotalCopies = *u.TotalCopies
		}
		if available != nil {
			b.AvailableCopies = *available
		}
		if err := checkCopies(b.TotalCopies, b.AvailableCopies); err != nil {
			return err
		}
		b.UpdatedAt = &at
		return txn.Insert(tableBooks, &b)
	})
}

func (r *repository) AdjustAvailableCopies(ctx context.Context, id int64, delta int) (bool, error) {
	found := false
	err := r.write(ctx, func(txn *memdb.Txn) error {
		cur, err := first[library.Book](txn, tableBooks, indexID, id)
		if err != nil || cur == nil {
			return err
		}
		found = true
		b := *cur
		b.AvailableCopies = max(0, min(b.TotalCopies, b.AvailableCopies+delta))
		return txn.Insert(tableBooks, &b)
	})
	return found, err
}

func (r *repository) DeleteBook(ctx context.Context, id int64) error {
	return r.write(ctx, func(txn *memdb.Txn) error {
		b, err := r.getBook(txn, id)
		if err != nil {
			return err
		}
		if _, err := txn.DeleteAll(tableLoans, indexBookID, id); err != nil {
			return err
		}
		return txn.Delete(tableBooks, b)
	})
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

func (r *repository) checkEmail(txn *memdb.Txn, id int64, email *string) error {
	if email == nil {
		return nil
	}
	dup, err := first[library.Member](txn, tableMembers, indexEmail, *email)
	if err != nil {
		return err
	}
	if dup != nil && dup.ID != id {
		return fmt.Errorf("%w (email %s)", library.ErrDuplicate, *email)
	}
	return nil
}

func (r *repository) InsertMember(ctx context.Context, m library.Member) (int64, error) {
	err := r.write(ctx, func(txn *memdb.Txn) error {
		if err := r.checkEmail(txn, 0, m.Email); err != nil {
			return err
		}
		m.ID = r.store.nextID(tableMembers)
		return txn.Insert(tableMembers, &m)
	})
	if err != nil {
		return 0, err
	}
	return m.ID, nil
}

func (r *repository) getMember(txn *memdb.Txn, id int64) (*library.Member, error) {
	m, err := first[library.Member](txn, tableMembers, indexID, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("member %d: %w", id, library.ErrNotFound)
	}
	return m, nil
}

func (r *repository) GetMember(ctx context.Context, id int64) (library.Member, error) {
	var out library.Member
	err := r.read(ctx, func(txn *memdb.Txn) error {
		m, err := r.getMember(txn, id)
		if err != nil {
			return err
		}
		out = *m
		return nil
	})
	return out, err
}

func (r *repository) ListMembers(ctx context.Context, query string) ([]library.Member, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	members := []library.Member{}
	err := r.read(ctx, func(txn *memdb.Txn) error {
		rows, err := all[library.Member](txn, tableMembers, indexID)
		if err != nil {
			return err
		}
		for _, m := range rows {
			if q == "" || contains(q, m.Name, deref(m.Email), deref(m.Phone)) {
				members = append(members, *m)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(members, func(i, j int) bool {
		ni, nj := strings.ToLower(members[i].Name), strings.ToLower(members[j].Name)
		if ni != nj {
			return ni < nj
		}
		return members[i].ID < members[j].ID
	})
	return members, nil
}

func optional(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}

func (r *repository) UpdateMember(ctx context.Context, id int64, u library.MemberUpdate, at time.Time) error {
	return r.write(ctx, func(txn *memdb.Txn) error {
		cur, err := r.getMember(txn, id)
		if err != nil {
			return err
		}
		m := *cur
		if u.Name != nil {
			m.Name = *u.Name
		}
		if u.Email != nil {
			m.Email = optional(u.Email)
			if err := r.checkEmail(txn, id, m.Email); err != nil {
				return err
			}
		}
		if u.Phone != nil {
			m.Phone = optional(u.Phone)
		}
		m.UpdatedAt = &at
		return txn.Insert(tableMembers, &m)
	})
}

func (r *repository) DeleteMember(ctx context.Context, id int64) error {
	return r.write(ctx, func(txn *memdb.Txn) error {
		m, err := r.getMember(txn, id)
		if err != nil {
			return err
		}
		if _, err := txn.DeleteAll(tableLoans, indexMemberID, id); err != nil {
			return err
		}
		return txn.Delete(tableMembers, m)
	})
}

// ---------------------------------------------------------------------------
// Loans
// ---------------------------------------------------------------------------

func (r *repository) InsertLoan(ctx context.Context, l library.Loan) (int64, error) {
	err := r.write(ctx, func(txn *memdb.Txn) error {
		b, err := first[library.Book](txn, tableBooks, indexID, l.BookID)
		if err != nil {
			return err
		}
		m, err := first[library.Member](txn, tableMembers, indexID, l.MemberID)
		if err != nil {
			return err
		}
		if b == nil || m == nil {
			return library.ErrInvalidReference
		}
		l.ID = r.store.nextID(tableLoans)
		l.ReturnedAt = nil
		return txn.Insert(tableLoans, &l)
	})
	if err != nil {
		return 0, err
	}
	return l.ID, nil
}

func (r *repository) GetLoan(ctx context.Context, id int64) (library.Loan, error) {
	var out library.Loan
	err := r.read(ctx, func(txn *memdb.Txn) error {
		l, err := first[library.Loan](txn, tableLoans, indexID, id)
		if err != nil {
			return err
		}
		if l == nil {
			return fmt.Errorf("loan %d: %w", id, library.ErrNotFound)
		}
		out = *l
		return nil
	})
	return out, err
}

func (r *repository) GetOpenLoan(ctx context.Context, id int64) (library.Loan, error) {
	l, err := r.GetLoan(ctx, id)
	if err != nil {
		return library.Loan{}, err
	}
	if !l.Open() {
		return library.Loan{}, fmt.Errorf("open loan %d: %w", id, library.ErrNotFound)
	}
	return l, nil
}

func (r *repository) CloseLoan(ctx context.Context, id int64, at time.Time) (bool, error) {
	closed := false
	err := r.write(ctx, func(txn *memdb.Txn) error {
		cur, err := first[library.Loan](txn, tableLoans, indexID, id)
		if err != nil || cur == nil || !cur.Open() {
			return err
		}
		l := *cur
		l.ReturnedAt = &at
		closed = true
		return txn.Insert(tableLoans, &l)
	})
	return closed, err
}

func (r *repository) CountOpenLoans(ctx context.Context, bookID int64) (int, error) {
	n := 0
	err := r.read(ctx, func(txn *memdb.Txn) error {
		loans, err := all[library.Loan](txn, tableLoans, indexBookID, bookID)
		if err != nil {
			return err
		}
		for _, l := range loans {
			if l.Open() {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *repository) ListLoans(ctx context.Context, f library.LoanFilter, now time.Time) ([]library.LoanDetail, error) {
	out := []library.LoanDetail{}
	err := r.read(ctx, func(txn *memdb.Txn) error {
		loans, err := all[library.Loan](txn, tableLoans, indexID)
		if err != nil {
			return err
		}
		for _, l := range loans {
			switch {
			case (f.ActiveOnly || f.OverdueOnly) && !l.Open(),
				f.OverdueOnly && !l.Overdue(now),
				f.BookID != 0 && l.BookID != f.BookID,
				f.MemberID != 0 && l.MemberID != f.MemberID:
				continue
			}
			b, err := r.getBook(txn, l.BookID)
			if err != nil {
				return err
			}
			m, err := r.getMember(txn, l.MemberID)
			if err != nil {
				return err
			}
			out = append(out, library.LoanDetail{
				Loan:       *l,
				BookTitle:  b.Title,
				BookISBN:   b.ISBN,
				MemberName: m.Name,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LoanedAt.Equal(out[j].LoanedAt) {
			return out[i].LoanedAt.After(out[j].LoanedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r *repository) Stats(ctx context.Context, now time.Time) (library.Stats, error) {
	var s library.Stats
	err := r.read(ctx, func(txn *memdb.Txn) error {
		books, err := all[library.Book](txn, tableBooks, indexID)
		if err != nil {
			return err
		}
		for _, b := range books {
			s.Books++
			s.Copies += b.TotalCopies
			s.CopiesOnLoan += b.OnLoan()
		}
		members, err := all[library.Member](txn, tableMembers, indexID)
		if err != nil {
			return err
		}
		s.Members = len(members)
		loans, err := all[library.Loan](txn, tableLoans, indexID)
		if err != nil {
			return err
		}
		for _, l := range loans {
			if l.Open() {
				s.OpenLoans++
			}
			if l.Overdue(now) {
				s.OverdueLoans++
			}
		}
		return nil
	})
	return s, err
}
