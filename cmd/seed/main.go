// Command seed recreates a database filled with a small demo catalog,
// a few members and some open loans, for trying out librarian.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"librarian/library"
)

type demoBook struct {
	isbn, title, author string
	year, copies        int
}

var demoBooks = []demoBook{
	{"9780451524935", "1984", "George Orwell", 1949, 3},
	{"9780451526342", "Animal Farm", "George Orwell", 1945, 2},
	{"9780553296983", "The Diary of a Young Girl", "Anne Frank", 1947, 1},
	{"9781590302255", "The Art of War", "Sun Tzu", 0, 1},
	{"9780547928210", "The Fellowship of the Ring", "J.R.R. Tolkien", 1954, 2},
	{"9780547928203", "The Two Towers", "J.R.R. Tolkien", 1954, 2},
	{"9780547928197", "The Return of the King", "J.R.R. Tolkien", 1955, 2},
	{"9780743477116", "Romeo and Juliet", "William Shakespeare", 1597, 1},
	{"9780140449266", "The Three Musketeers", "Alexandre Dumas", 1844, 1},
}

var demoMembers = []library.NewMember{
	{Name: "Ada Lovelace", Email: "ada@example.org", Phone: "555-0101"},
	{Name: "Alan Turing", Email: "alan@example.org"},
	{Name: "Grace Hopper", Phone: "555-0199"},
}

func main() {
	os.Exit(run())
}

func run() int {
	dbPath := pflag.String("db", "library.db", "database file to recreate")
	keep := pflag.Bool("keep", false, "add to an existing database instead of recreating it")
	pflag.Parse()

	if !*keep {
		fmt.Println("Cleaning up existing database files...")
		for _, file := range []string{*dbPath, *dbPath + "-shm", *dbPath + "-wal"} {
			if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
				fmt.Printf("Warning: Could not remove %s: %v\n", file, err)
			}
		}
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	db, err := library.NewDatabase(ctx, *dbPath, library.WithDatabaseLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating database: %v\n", err)
		return 1
	}
	mgr := library.NewLibraryManager(db, library.WithLogger(logger))
	defer mgr.Close()

	var bookIDs, memberIDs []int64
	errorCount := 0
	for _, b := range demoBooks {
		nb := library.NewBook{ISBN: b.isbn, Title: b.title, Author: b.author, Copies: b.copies}
		if b.year != 0 {
			nb.Year = &b.year
		}
		fmt.Printf("Adding: %s by %s... ", b.title, b.author)
		id, err := mgr.AddBook(ctx, nb)
		if err != nil {
			fmt.Printf("ERROR - %v\n", err)
			errorCount++
			continue
		}
		fmt.Printf("OK (ID: %d)\n", id)
		bookIDs = append(bookIDs, id)
	}

	for _, m := range demoMembers {
		id, err := mgr.AddMember(ctx, m)
		if err != nil {
			fmt.Printf("Member %s: ERROR - %v\n", m.Name, err)
			errorCount++
			continue
		}
		memberIDs = append(memberIDs, id)
	}

	// Lend every other book round-robin so the loan views have something to show.
	loans := 0
	for i := 0; i < len(bookIDs) && len(memberIDs) > 0; i += 2 {
		if _, err := mgr.Borrow(ctx, bookIDs[i], memberIDs[(i/2)%len(memberIDs)], 0); err != nil {
			fmt.Printf("Loan of book %d: ERROR - %v\n", bookIDs[i], err)
			errorCount++
			continue
		}
		loans++
	}

	fmt.Printf("\nSeed complete: %d books, %d members, %d loans, %d errors\n", len(bookIDs), len(memberIDs), loans, errorCount)

	books, err := mgr.ListBooks(ctx, "")
	if err != nil {
		fmt.Printf("Error retrieving books: %v\n", err)
		return 1
	}
	fmt.Printf("\n%-3s %-40s %-25s %s\n", "ID", "Title", "Author", "Available")
	fmt.Println(strings.Repeat("-", 80))
	for _, b := range books {
		fmt.Printf("%-3d %-40s %-25s %d/%d\n", b.ID, truncateString(b.Title, 40), truncateString(b.Author, 25), b.AvailableCopies, b.TotalCopies)
	}
	if errorCount > 0 {
		return 1
	}
	return 0
}

func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
