package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3" // dialect registration
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"
)

const (
	tableBooks   = "books"
	tableMembers = "members"
	tableLoans   = "loans"

	colID              = "id"
	colISBN            = "isbn"
	colTitle           = "title"
	colAuthor          = "author"
	colYear            = "year"
	colTotalCopies     = "total_copies"
	colAvailableCopies = "available_copies"
	colCreatedAt       = "created_at"
	colUpdatedAt       = "updated_at"
	colName            = "name"
	colEmail           = "email"
	colPhone           = "phone"
	colBookID          = "book_id"
	colMemberID        = "member_id"
	colLoanedAt        = "loaned_at"
	colDueAt           = "due_at"
	colReturnedAt      = "returned_at"
)

// ErrBuildingQuery is returned when goqu cannot render a statement.
var ErrBuildingQuery = errors.New("building query failed")

var (
	dialect = goqu.Dialect("sqlite3")

	bookColumns = []any{
		colID, colISBN, colTitle, colAuthor, colYear,
		colTotalCopies, colAvailableCopies, colCreatedAt, colUpdatedAt,
	}
	memberColumns = []any{colID, colName, colEmail, colPhone, colCreatedAt, colUpdatedAt}
	loanColumns   = []any{colID, colBookID, colMemberID, colLoanedAt, colDueAt, colReturnedAt}
)

type sqlBuilder interface {
	ToSQL() (string, []any, error)
}

// sqlRepository implements Repository on top of either the pool or a
// transaction; both satisfy sqlx.ExtContext.
type sqlRepository struct {
	ext    sqlx.ExtContext
	logger Logger
}

func (r *sqlRepository) build(b sqlBuilder) (string, []any, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return "", nil, errors.Join(ErrBuildingQuery, err)
	}
	r.logger.Debug(logMsgSQL, logAttrQuery, query, logAttrArgs, args)
	return query, args, nil
}

func (r *sqlRepository) exec(ctx context.Context, b sqlBuilder) (sql.Result, error) {
	query, args, err := r.build(b)
	if err != nil {
		return nil, err
	}
	res, err := r.ext.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return res, nil
}

func (r *sqlRepository) insert(ctx context.Context, table string, rec goqu.Record) (int64, error) {
	res, err := r.exec(ctx, dialect.Insert(table).Rows(rec).Prepared(true))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// affected runs an update or delete and reports whether any row matched.
func (r *sqlRepository) affected(ctx context.Context, b sqlBuilder) (bool, error) {
	res, err := r.exec(ctx, b)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *sqlRepository) get(ctx context.Context, dest any, b sqlBuilder) error {
	query, args, err := r.build(b)
	if err != nil {
		return err
	}
	return sqlx.GetContext(ctx, r.ext, dest, query, args...)
}

func (r *sqlRepository) selectAll(ctx context.Context, dest any, b sqlBuilder) error {
	query, args, err := r.build(b)
	if err != nil {
		return err
	}
	return sqlx.SelectContext(ctx, r.ext, dest, query, args...)
}

func notFound(kind string, id int64, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	return err
}

// containsAny matches q as a substring of any of cols. SQLite's LIKE is
// case-insensitive for ASCII.
func containsAny(q string, cols ...string) exp.ExpressionList {
	pattern := "%" + q + "%"
	conds := make([]exp.Expression, 0, len(cols))
	for _, c := range cols {
		conds = append(conds, goqu.C(c).Like(pattern))
	}
	return goqu.Or(conds...)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// value unwraps p so goqu binds NULL rather than a typed nil pointer.
func value[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

// ---------------------------------------------------------------------------
// Books
// ---------------------------------------------------------------------------

func (r *sqlRepository) InsertBook(ctx context.Context, b Book) (int64, error) {
	return r.insert(ctx, tableBooks, goqu.Record{
		colISBN:            b.ISBN,
		colTitle:           b.Title,
		colAuthor:          b.Author,
		colYear:            value(b.Year),
		colTotalCopies:     b.TotalCopies,
		colAvailableCopies: b.AvailableCopies,
		colCreatedAt:       b.CreatedAt,
	})
}

func (r *sqlRepository) GetBook(ctx context.Context, id int64) (Book, error) {
	var b Book
	err := r.get(ctx, &b, dialect.From(tableBooks).
		Select(bookColumns...).
		Where(goqu.C(colID).Eq(id)).
		Prepared(true))
	if err != nil {
		return Book{}, notFound("book", id, err)
	}
	return b, nil
}

// ListBooks matches query against isbn, title and author, ordered by title.
func (r *sqlRepository) ListBooks(ctx context.Context, query string) ([]Book, error) {
	ds := dialect.From(tableBooks).Select(bookColumns...)
	if q := strings.TrimSpace(query); q != "" {
		ds = ds.Where(containsAny(q, colISBN, colTitle, colAuthor))
	}
	ds = ds.Order(goqu.L("title COLLATE NOCASE").Asc(), goqu.C(colID).Asc()).Prepared(true)

	books := []Book{}
	if err := r.selectAll(ctx, &books, ds); err != nil {
		return nil, err
	}
	return books, nil
}

// UpdateBook writes only the supplied columns. available, when non-nil, is
// written in the same statement so the copies check never sees a torn row.
func (r *sqlRepository) UpdateBook(ctx context.Context, id int64, u BookUpdate, available *int, at time.Time) error {
	rec := goqu.Record{colUpdatedAt: at}
	if u.ISBN != nil {
		rec[colISBN] = *u.ISBN
	}
	if u.Title != nil {
		rec[colTitle] = *u.Title
	}
	if u.Author != nil {
		rec[colAuthor] = *u.Author
	}
	switch {
	case u.ClearYear:
		rec[colYear] = nil
	case u.Year != nil:
		rec[colYear] = *u.Year
	}
	if u.TotalCopies != nil {
		rec[colTotalCopies] = *u.TotalCopies
	}
	if available != nil {
		rec[colAvailableCopies] = *available
	}

	ok, err := r.affected(ctx, dialect.Update(tableBooks).
		Set(rec).
		Where(goqu.C(colID).Eq(id)).
		Prepared(true))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("book %d: %w", id, ErrNotFound)
	}
	return nil
}

// AdjustAvailableCopies adds delta to the availability counter, clamped to
// [0, total_copies]. It reports false when the book does not exist.
func (r *sqlRepository) AdjustAvailableCopies(ctx context.Context, id int64, delta int) (bool, error) {
	return r.affected(ctx, dialect.Update(tableBooks).
		Set(goqu.Record{
			colAvailableCopies: goqu.L("MAX(0, MIN(total_copies, available_copies + ?))", delta),
		}).
		Where(goqu.C(colID).Eq(id)).
		Prepared(true))
}

func (r *sqlRepository) DeleteBook(ctx context.Context, id int64) error {
	ok, err := r.affected(ctx, dialect.Delete(tableBooks).Where(goqu.C(colID).Eq(id)).Prepared(true))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("book %d: %w", id, ErrNotFound)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

func (r *sqlRepository) InsertMember(ctx context.Context, m Member) (int64, error) {
	return r.insert(ctx, tableMembers, goqu.Record{
		colName:      m.Name,
		colEmail:     value(m.Email),
		colPhone:     value(m.Phone),
		colCreatedAt: m.CreatedAt,
	})
}

func (r *sqlRepository) GetMember(ctx context.Context, id int64) (Member, error) {
	var m Member
	err := r.get(ctx, &m, dialect.From(tableMembers).
		Select(memberColumns...).
		Where(goqu.C(colID).Eq(id)).
		Prepared(true))
	if err != nil {
		return Member{}, notFound("member", id, err)
	}
	return m, nil
}

// ListMembers matches query against name, email and phone, ordered by name.
func (r *sqlRepository) ListMembers(ctx context.Context, query string) ([]Member, error) {
	ds := dialect.From(tableMembers).Select(memberColumns...)
	if q := strings.TrimSpace(query); q != "" {
		ds = ds.Where(containsAny(q, colName, colEmail, colPhone))
	}
	ds = ds.Order(goqu.L("name COLLATE NOCASE").Asc(), goqu.C(colID).Asc()).Prepared(true)

	members := []Member{}
	if err := r.selectAll(ctx, &members, ds); err != nil {
		return nil, err
	}
	return members, nil
}

func (r *sqlRepository) UpdateMember(ctx context.Context, id int64, u MemberUpdate, at time.Time) error {
	rec := goqu.Record{colUpdatedAt: at}
	if u.Name != nil {
		rec[colName] = *u.Name
	}
	if u.Email != nil {
		rec[colEmail] = nullable(*u.Email)
	}
	if u.Phone != nil {
		rec[colPhone] = nullable(*u.Phone)
	}

	ok, err := r.affected(ctx, dialect.Update(tableMembers).
		Set(rec).
		Where(goqu.C(colID).Eq(id)).
		Prepared(true))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("member %d: %w", id, ErrNotFound)
	}
	return nil
}

func (r *sqlRepository) DeleteMember(ctx context.Context, id int64) error {
	ok, err := r.affected(ctx, dialect.Delete(tableMembers).Where(goqu.C(colID).Eq(id)).Prepared(true))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("member %d: %w", id, ErrNotFound)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Loans
// ---------------------------------------------------------------------------

func (r *sqlRepository) InsertLoan(ctx context.Context, l Loan) (int64, error) {
	return r.insert(ctx, tableLoans, goqu.Record{
		colBookID:   l.BookID,
		colMemberID: l.MemberID,
		colLoanedAt: l.LoanedAt,
		colDueAt:    l.DueAt,
	})
}

func (r *sqlRepository) GetLoan(ctx context.Context, id int64) (Loan, error) {
	var l Loan
	err := r.get(ctx, &l, dialect.From(tableLoans).
		Select(loanColumns...).
		Where(goqu.C(colID).Eq(id)).
		Prepared(true))
	if err != nil {
		return Loan{}, notFound("loan", id, err)
	}
	return l, nil
}

// GetOpenLoan returns the loan only while it has not been returned.
func (r *sqlRepository) GetOpenLoan(ctx context.Context, id int64) (Loan, error) {
	var l Loan
	err := r.get(ctx, &l, dialect.From(tableLoans).
		Select(loanColumns...).
		Where(goqu.C(colID).Eq(id), goqu.C(colReturnedAt).IsNull()).
		Prepared(true))
	if err != nil {
		return Loan{}, notFound("open loan", id, err)
	}
	return l, nil
}

// CloseLoan stamps returned_at once; it reports false if the loan was
// already closed or does not exist.
func (r *sqlRepository) CloseLoan(ctx context.Context, id int64, at time.Time) (bool, error) {
	return r.affected(ctx, dialect.Update(tableLoans).
		Set(goqu.Record{colReturnedAt: at}).
		Where(goqu.C(colID).Eq(id), goqu.C(colReturnedAt).IsNull()).
		Prepared(true))
}

func (r *sqlRepository) CountOpenLoans(ctx context.Context, bookID int64) (int, error) {
	var n int
	err := r.get(ctx, &n, dialect.From(tableLoans).
		Select(goqu.COUNT("*")).
		Where(goqu.C(colBookID).Eq(bookID), goqu.C(colReturnedAt).IsNull()).
		Prepared(true))
	return n, err
}

// ListLoans returns loans joined with their book and member, newest first.
func (r *sqlRepository) ListLoans(ctx context.Context, f LoanFilter, now time.Time) ([]LoanDetail, error) {
	col := func(alias, name string) exp.IdentifierExpression {
		return goqu.I(alias + "." + name)
	}

	ds := dialect.From(goqu.T(tableLoans).As("l")).
		Join(goqu.T(tableBooks).As("b"), goqu.On(col("b", colID).Eq(col("l", colBookID)))).
		Join(goqu.T(tableMembers).As("m"), goqu.On(col("m", colID).Eq(col("l", colMemberID)))).
		Select(
			col("l", colID), col("l", colBookID), col("l", colMemberID),
			col("l", colLoanedAt), col("l", colDueAt), col("l", colReturnedAt),
			col("b", colTitle).As("book_title"),
			col("b", colISBN).As("book_isbn"),
			col("m", colName).As("member_name"),
		)

	var where []exp.Expression
	if f.ActiveOnly || f.OverdueOnly {
		where = append(where, col("l", colReturnedAt).IsNull())
	}
	if f.OverdueOnly {
		where = append(where, col("l", colDueAt).Lt(now))
	}
	if f.BookID != 0 {
		where = append(where, col("l", colBookID).Eq(f.BookID))
	}
	if f.MemberID != 0 {
		where = append(where, col("l", colMemberID).Eq(f.MemberID))
	}
	if len(where) > 0 {
		ds = ds.Where(where...)
	}
	ds = ds.Order(col("l", colLoanedAt).Desc(), col("l", colID).Desc()).Prepared(true)

	loans := []LoanDetail{}
	if err := r.selectAll(ctx, &loans, ds); err != nil {
		return nil, err
	}
	return loans, nil
}

const statsQuery = `
SELECT
    (SELECT COUNT(*) FROM books) AS books,
    (SELECT COALESCE(SUM(total_copies), 0) FROM books) AS copies,
    (SELECT COALESCE(SUM(total_copies - available_copies), 0) FROM books) AS copies_on_loan,
    (SELECT COUNT(*) FROM members) AS members,
    (SELECT COUNT(*) FROM loans WHERE returned_at IS NULL) AS open_loans,
    (SELECT COUNT(*) FROM loans WHERE returned_at IS NULL AND due_at < ?) AS overdue_loans`

func (r *sqlRepository) Stats(ctx context.Context, now time.Time) (Stats, error) {
	var s Stats
	r.logger.Debug(logMsgSQL, logAttrQuery, statsQuery)
	if err := sqlx.GetContext(ctx, r.ext, &s, statsQuery, now); err != nil {
		return Stats{}, err
	}
	return s, nil
}
