package library_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matryer/is"
	gomock "go.uber.org/mock/gomock"

	"librarian/library"
	librarymock "librarian/library/mocks"
)

func mockedManager(t *testing.T) (*library.LibraryManager, *librarymock.MockRepository) {
	ctrl := gomock.NewController(t)
	store := librarymock.NewMockStore(ctrl)
	repo := librarymock.NewMockRepository(ctrl)
	store.EXPECT().Repo().Return(repo).AnyTimes()
	store.EXPECT().WithinTx(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, fn func(library.Repository) error) error {
			return fn(repo)
		}).AnyTimes()
	return library.NewLibraryManager(store, library.WithClock(func() time.Time { return now })), repo
}

func TestBorrowOrchestration(t *testing.T) {
	t.Run("inserts the loan then decrements", func(t *testing.T) {
		is := is.New(t)
		mgr, repo := mockedManager(t)

		gomock.InOrder(
			repo.EXPECT().GetBook(gomock.Any(), int64(1)).Return(library.Book{ID: 1, TotalCopies: 1, AvailableCopies: 1}, nil),
			repo.EXPECT().GetMember(gomock.Any(), int64(2)).Return(library.Member{ID: 2}, nil),
			repo.EXPECT().InsertLoan(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, l library.Loan) (int64, error) {
				is.Equal(l.BookID, int64(1))
				is.Equal(l.MemberID, int64(2))
				is.True(l.LoanedAt.Equal(now))
				is.True(l.DueAt.Equal(now.AddDate(0, 0, 7)))
				return 10, nil
			}),
			repo.EXPECT().AdjustAvailableCopies(gomock.Any(), int64(1), -1).Return(true, nil),
		)

		id, err := mgr.Borrow(context.Background(), 1, 2, 7)
		is.NoErr(err)
		is.Equal(id, int64(10))
	})

	t.Run("no writes when unavailable", func(t *testing.T) {
		is := is.New(t)
		mgr, repo := mockedManager(t)

		repo.EXPECT().GetBook(gomock.Any(), int64(1)).Return(library.Book{ID: 1, TotalCopies: 1}, nil)

		_, err := mgr.Borrow(context.Background(), 1, 2, 7)
		is.True(errors.Is(err, library.ErrUnavailable))
	})

	t.Run("decrement failure is surfaced", func(t *testing.T) {
		is := is.New(t)
		mgr, repo := mockedManager(t)
		boom := errors.New("disk full")

		repo.EXPECT().GetBook(gomock.Any(), int64(1)).Return(library.Book{ID: 1, TotalCopies: 1, AvailableCopies: 1}, nil)
		repo.EXPECT().GetMember(gomock.Any(), int64(2)).Return(library.Member{ID: 2}, nil)
		repo.EXPECT().InsertLoan(gomock.Any(), gomock.Any()).Return(int64(10), nil)
		repo.EXPECT().AdjustAvailableCopies(gomock.Any(), int64(1), -1).Return(false, boom)

		_, err := mgr.Borrow(context.Background(), 1, 2, 7)
		is.True(errors.Is(err, boom))
	})
}

func TestReturnOrchestration(t *testing.T) {
	t.Run("closed loan is a no-op", func(t *testing.T) {
		is := is.New(t)
		mgr, repo := mockedManager(t)

		repo.EXPECT().GetOpenLoan(gomock.Any(), int64(5)).Return(library.Loan{}, library.ErrNotFound)

		is.NoErr(mgr.Return(context.Background(), 5))
	})

	t.Run("deleted book skips the increment", func(t *testing.T) {
		is := is.New(t)
		mgr, repo := mockedManager(t)

		repo.EXPECT().GetOpenLoan(gomock.Any(), int64(5)).Return(library.Loan{ID: 5, BookID: 3}, nil)
		repo.EXPECT().CloseLoan(gomock.Any(), int64(5), now).Return(true, nil)
		repo.EXPECT().AdjustAvailableCopies(gomock.Any(), int64(3), 1).Return(false, nil)

		is.NoErr(mgr.Return(context.Background(), 5))
	})

	t.Run("lost race closes nothing", func(t *testing.T) {
		is := is.New(t)
		mgr, repo := mockedManager(t)

		repo.EXPECT().GetOpenLoan(gomock.Any(), int64(5)).Return(library.Loan{ID: 5, BookID: 3}, nil)
		repo.EXPECT().CloseLoan(gomock.Any(), int64(5), now).Return(false, nil)

		is.NoErr(mgr.Return(context.Background(), 5))
	})
}
