package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"librarian/library"
)

func (a *app) bookCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "book",
		Aliases: []string{"books"},
		Short:   "Manage the catalog",
	}
	cmd.AddCommand(
		a.bookAddCommand(),
		a.bookListCommand(),
		a.bookShowCommand(),
		a.bookUpdateCommand(),
		a.bookDeleteCommand(),
	)
	return cmd
}

// checkISBN validates the format and returns the normalized form.
func checkISBN(s string) (string, error) {
	if !library.ValidISBN(s) {
		return "", &library.ValidationError{Field: "isbn", Reason: fmt.Sprintf("%q is not an ISBN-10 or ISBN-13", s)}
	}
	return library.NormalizeISBN(s), nil
}

func (a *app) bookAddCommand() *cobra.Command {
	var (
		nb   library.NewBook
		year int
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Catalog a new book",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			isbn, err := checkISBN(nb.ISBN)
			if err != nil {
				return err
			}
			nb.ISBN = isbn
			if cmd.Flags().Changed("year") {
				nb.Year = &year
			}

			mgr, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			id, err := mgr.AddBook(cmd.Context(), nb)
			if err != nil {
				return err
			}
			if a.jsonOut {
				b, err := mgr.GetBook(cmd.Context(), id)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), b)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added book %d: %s (%d copies)\n", id, strings.TrimSpace(nb.Title), nb.Copies)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&nb.ISBN, "isbn", "", "ISBN-10 or ISBN-13 (hyphens allowed)")
	f.StringVar(&nb.Title, "title", "", "title")
	f.StringVar(&nb.Author, "author", "", "author")
	f.IntVar(&year, "year", 0, "publication year")
	f.IntVar(&nb.Copies, "copies", 1, "number of copies")
	for _, name := range []string{"isbn", "title", "author"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func (a *app) bookListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list [query]",
		Short: "List books, optionally matching ISBN, title or author",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			books, err := mgr.ListBooks(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if a.jsonOut {
				return writeJSON(cmd.OutOrStdout(), books)
			}
			if len(books) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No books found.")
				return nil
			}
			t := newTable("ID", "ISBN", "Title", "Author", "Year", "Available")
			for _, b := range books {
				t.add(
					strconv.FormatInt(b.ID, 10),
					b.ISBN,
					b.Title,
					b.Author,
					year(b.Year),
					fmt.Sprintf("%d/%d", b.AvailableCopies, b.TotalCopies),
				)
			}
			t.render(cmd.OutOrStdout())
			return nil
		},
	}
}

func (a *app) bookShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a book and its loan history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("book", args[0])
			if err != nil {
				return err
			}
			mgr, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			b, err := mgr.GetBook(cmd.Context(), id)
			if err != nil {
				return err
			}
			loans, err := mgr.ListLoans(cmd.Context(), library.LoanFilter{BookID: id})
			if err != nil {
				return err
			}
			if a.jsonOut {
				return writeJSON(cmd.OutOrStdout(), struct {
					library.Book
					Loans []library.LoanDetail `json:"loans"`
				}{b, loans})
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Book %d\n", b.ID)
			fmt.Fprintf(w, "  ISBN:      %s\n", b.ISBN)
			fmt.Fprintf(w, "  Title:     %s\n", b.Title)
			fmt.Fprintf(w, "  Author:    %s\n", b.Author)
			fmt.Fprintf(w, "  Year:      %s\n", year(b.Year))
			fmt.Fprintf(w, "  Copies:    %d available of %d\n", b.AvailableCopies, b.TotalCopies)
			fmt.Fprintf(w, "  Added:     %s\n", date(b.CreatedAt))
			fmt.Fprintln(w)
			renderLoans(w, loans, mgr.Now())
			return nil
		},
	}
}

func (a *app) bookUpdateCommand() *cobra.Command {
	var (
		isbn, title, author string
		yr, copies          int
		clearYear           bool
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change selected fields of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("book", args[0])
			if err != nil {
				return err
			}

			f := cmd.Flags()
			var u library.BookUpdate
			if f.Changed("isbn") {
				n, err := checkISBN(isbn)
				if err != nil {
					return err
				}
				u.ISBN = &n
			}
			if f.Changed("title") {
				u.Title = &title
			}
			if f.Changed("author") {
				u.Author = &author
			}
			if f.Changed("year") {
				u.Year = &yr
			}
			u.ClearYear = clearYear
			if f.Changed("copies") {
				u.TotalCopies = &copies
			}
			if u.Empty() {
				return fmt.Errorf("nothing to update; pass at least one field flag")
			}

			mgr, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			if err := mgr.UpdateBook(cmd.Context(), id, u); err != nil {
				return err
			}
			b, err := mgr.GetBook(cmd.Context(), id)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return writeJSON(cmd.OutOrStdout(), b)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated book %d: %s (%d/%d available)\n", b.ID, b.Title, b.AvailableCopies, b.TotalCopies)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&isbn, "isbn", "", "new ISBN")
	f.StringVar(&title, "title", "", "new title")
	f.StringVar(&author, "author", "", "new author")
	f.IntVar(&yr, "year", 0, "new publication year")
	f.BoolVar(&clearYear, "clear-year", false, "remove the publication year")
	f.IntVar(&copies, "copies", 0, "new total number of copies")
	cmd.MarkFlagsMutuallyExclusive("year", "clear-year")
	return cmd
}

func (a *app) bookDeleteCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a book and its loan history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("book", args[0])
			if err != nil {
				return err
			}
			mgr, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			b, err := mgr.GetBook(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !yes {
				ok, err := confirm(cmd.InOrStdin(), cmd.OutOrStdout(), fmt.Sprintf("Delete book %d %q and its loan history?", id, b.Title))
				if err != nil || !ok {
					return err
				}
			}
			if err := mgr.DeleteBook(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted book %d.\n", id)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}
