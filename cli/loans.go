package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"librarian/library"
)

func (a *app) loanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "loan",
		Aliases: []string{"loans"},
		Short:   "Lend and return books",
	}
	cmd.AddCommand(
		a.loanBorrowCommand(),
		a.loanReturnCommand(),
		a.loanListCommand(),
	)
	return cmd
}

func (a *app) loanBorrowCommand() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "borrow <book-id> <member-id>",
		Short: "Lend one copy of a book to a member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bookID, err := parseID("book", args[0])
			if err != nil {
				return err
			}
			memberID, err := parseID("member", args[1])
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("days") && days < 1 {
				return &library.ValidationError{Field: "days", Reason: "must be at least 1"}
			}

			mgr, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			loanID, err := mgr.Borrow(cmd.Context(), bookID, memberID, days)
			if err != nil {
				return err
			}
			loan, err := mgr.GetLoan(cmd.Context(), loanID)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return writeJSON(cmd.OutOrStdout(), loan)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Loan %d: book %d to member %d, due %s\n", loan.ID, bookID, memberID, date(loan.DueAt))
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "loan period in days (default from config)")
	return cmd
}

func (a *app) loanReturnCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "return <loan-id>",
		Short: "Return a loaned copy; returning a closed or unknown loan does nothing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loanID, err := parseID("loan", args[0])
			if err != nil {
				return err
			}
			mgr, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}

			before, err := mgr.GetLoan(cmd.Context(), loanID)
			wasOpen := err == nil && before.Open()
			if err != nil && !errors.Is(err, library.ErrNotFound) {
				return err
			}
			if err := mgr.Return(cmd.Context(), loanID); err != nil {
				return err
			}

			if a.jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"loan_id": loanID, "returned": wasOpen})
			}
			if wasOpen {
				fmt.Fprintf(cmd.OutOrStdout(), "Returned loan %d.\n", loanID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Loan %d is not open; nothing to do.\n", loanID)
			}
			return nil
		},
	}
}

func (a *app) loanListCommand() *cobra.Command {
	var (
		f                library.LoanFilter
		bookID, memberID int64
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List loans, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f.BookID, f.MemberID = bookID, memberID
			mgr, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			loans, err := mgr.ListLoans(cmd.Context(), f)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return writeJSON(cmd.OutOrStdout(), loans)
			}
			renderLoans(cmd.OutOrStdout(), loans, mgr.Now())
			return nil
		},
	}
	fl := cmd.Flags()
	fl.BoolVar(&f.ActiveOnly, "active", false, "only loans not yet returned")
	fl.BoolVar(&f.OverdueOnly, "overdue", false, "only open loans past their due date")
	fl.Int64Var(&bookID, "book", 0, "only loans of this book")
	fl.Int64Var(&memberID, "member", 0, "only loans of this member")
	return cmd
}

func (a *app) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarise the catalog and circulation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			s, err := mgr.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOut {
				return writeJSON(cmd.OutOrStdout(), s)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Books:    %d titles, %d copies (%d on loan)\n", s.Books, s.Copies, s.CopiesOnLoan)
			fmt.Fprintf(w, "Members:  %d\n", s.Members)
			fmt.Fprintf(w, "Loans:    %d open, %d overdue\n", s.OpenLoans, s.OverdueLoans)
			return nil
		},
	}
}
