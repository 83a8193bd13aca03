package library

//go:generate mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks

import (
	"context"
	"time"
)

// Repository is the record access layer. Implementations map every method to
// one statement or a short fixed sequence and enforce no business rules.
type Repository interface {
	InsertBook(ctx context.Context, b Book) (int64, error)
	GetBook(ctx context.Context, id int64) (Book, error)
	ListBooks(ctx context.Context, query string) ([]Book, error)
	UpdateBook(ctx context.Context, id int64, u BookUpdate, available *int, at time.Time) error
	AdjustAvailableCopies(ctx context.Context, id int64, delta int) (bool, error)
	DeleteBook(ctx context.Context, id int64) error

	InsertMember(ctx context.Context, m Member) (int64, error)
	GetMember(ctx context.Context, id int64) (Member, error)
	ListMembers(ctx context.Context, query string) ([]Member, error)
	UpdateMember(ctx context.Context, id int64, u MemberUpdate, at time.Time) error
	DeleteMember(ctx context.Context, id int64) error

	InsertLoan(ctx context.Context, l Loan) (int64, error)
	GetLoan(ctx context.Context, id int64) (Loan, error)
	GetOpenLoan(ctx context.Context, id int64) (Loan, error)
	CloseLoan(ctx context.Context, id int64, at time.Time) (bool, error)
	CountOpenLoans(ctx context.Context, bookID int64) (int, error)
	ListLoans(ctx context.Context, f LoanFilter, now time.Time) ([]LoanDetail, error)

	Stats(ctx context.Context, now time.Time) (Stats, error)
}

// Store hands out repositories. WithinTx runs fn against a repository bound
// to a single transaction that is committed when fn returns nil and rolled
// back on any error or panic.
type Store interface {
	Repo() Repository
	WithinTx(ctx context.Context, fn func(Repository) error) error
	Close() error
}
