package library

import "time"

// DefaultLoanDays is the loan period used when a caller does not supply one.
const DefaultLoanDays = 14

// Book represents a catalog entry and the availability of its copies.
type Book struct {
	ID              int64      `db:"id" json:"id"`
	ISBN            string     `db:"isbn" json:"isbn"`
	Title           string     `db:"title" json:"title"`
	Author          string     `db:"author" json:"author"`
	Year            *int       `db:"year" json:"year,omitempty"`
	TotalCopies     int        `db:"total_copies" json:"total_copies"`
	AvailableCopies int        `db:"available_copies" json:"available_copies"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// OnLoan reports how many copies are currently lent out.
func (b *Book) OnLoan() int { return b.TotalCopies - b.AvailableCopies }

// Member represents a registered library member.
type Member struct {
	ID        int64      `db:"id" json:"id"`
	Name      string     `db:"name" json:"name"`
	Email     *string    `db:"email" json:"email,omitempty"`
	Phone     *string    `db:"phone" json:"phone,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// Loan records one copy of a book lent to a member.
// A loan is open while ReturnedAt is nil.
type Loan struct {
	ID         int64      `db:"id" json:"id"`
	BookID     int64      `db:"book_id" json:"book_id"`
	MemberID   int64      `db:"member_id" json:"member_id"`
	LoanedAt   time.Time  `db:"loaned_at" json:"loaned_at"`
	DueAt      time.Time  `db:"due_at" json:"due_at"`
	ReturnedAt *time.Time `db:"returned_at" json:"returned_at,omitempty"`
}

// Open reports whether the loan has not been returned yet.
func (l *Loan) Open() bool { return l.ReturnedAt == nil }

// Overdue reports whether the loan is open and past its due date at now.
func (l *Loan) Overdue(now time.Time) bool {
	return l.Open() && l.DueAt.Before(now)
}

// LoanDetail is a loan joined with the book and member it refers to, for listings.
type LoanDetail struct {
	Loan
	BookTitle  string `db:"book_title" json:"book_title"`
	BookISBN   string `db:"book_isbn" json:"book_isbn"`
	MemberName string `db:"member_name" json:"member_name"`
}

// NewBook carries the fields needed to catalog a book.
type NewBook struct {
	ISBN   string
	Title  string
	Author string
	Year   *int
	Copies int
}

// NewMember carries the fields needed to register a member.
type NewMember struct {
	Name  string
	Email string
	Phone string
}

// BookUpdate lists the book columns a caller wants to change.
// Nil fields are left untouched.
type BookUpdate struct {
	ISBN        *string
	Title       *string
	Author      *string
	Year        *int
	ClearYear   bool
	TotalCopies *int
}

// Empty reports whether the update changes nothing.
func (u BookUpdate) Empty() bool {
	return u.ISBN == nil && u.Title == nil && u.Author == nil &&
		u.Year == nil && !u.ClearYear && u.TotalCopies == nil
}

// MemberUpdate lists the member columns a caller wants to change.
// A non-nil empty Email or Phone clears the column.
type MemberUpdate struct {
	Name  *string
	Email *string
	Phone *string
}

// Empty reports whether the update changes nothing.
func (u MemberUpdate) Empty() bool {
	return u.Name == nil && u.Email == nil && u.Phone == nil
}

// LoanFilter narrows a loan listing. The zero value lists every loan.
type LoanFilter struct {
	ActiveOnly  bool
	OverdueOnly bool
	BookID      int64
	MemberID    int64
}

// Stats summarises the state of the library.
type Stats struct {
	Books        int `db:"books" json:"books"`
	Copies       int `db:"copies" json:"copies"`
	CopiesOnLoan int `db:"copies_on_loan" json:"copies_on_loan"`
	Members      int `db:"members" json:"members"`
	OpenLoans    int `db:"open_loans" json:"open_loans"`
	OverdueLoans int `db:"overdue_loans" json:"overdue_loans"`
}
