package library

import (
	"io"
	"log/slog"
)

// Logger receives SQL at Debug, mutations at Info and rejected operations at
// Warn. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

const (
	logMsgSQL            = "executing sql"
	logMsgMigrated       = "schema migrated"
	logMsgSchemaCurrent  = "schema up to date"
	logMsgBookAdded      = "book added"
	logMsgBookUpdated    = "book updated"
	logMsgBookDeleted    = "book deleted"
	logMsgMemberAdded    = "member added"
	logMsgMemberUpdated  = "member updated"
	logMsgMemberDeleted  = "member deleted"
	logMsgBorrowed       = "book borrowed"
	logMsgBorrowRejected = "borrow rejected"
	logMsgReturned       = "loan returned"
	logMsgReturnNoop     = "return ignored, no open loan"
	logMsgReturnOrphan   = "returned loan has no book, availability untouched"
	logAttrError         = "error"
	logAttrQuery         = "query"
	logAttrArgs          = "args"
	logAttrPath          = "path"
	logAttrVersion       = "version"
	logAttrBookID        = "book_id"
	logAttrMemberID      = "member_id"
	logAttrLoanID        = "loan_id"
	logAttrAvailable     = "available_copies"
	logAttrDueAt         = "due_at"
)

var discardLogger Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
