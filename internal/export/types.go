// Package export renders conversation transcripts and meeting notes as
// PDF or DOCX downloads.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// Kind selects what is being exported.
type Kind string

const (
	KindTranscript Kind = "transcript"
	KindNotes      Kind = "notes"
)

// Request contains parameters for an export operation
type Request struct {
	Kind           Kind
	ChannelID      string
	DMID           string
	Format         Format
	IncludeThreads bool
	// Notes is the AI-generated summary; required for KindNotes.
	Notes *Notes
}

// Notes is a meeting-notes summary of a conversation.
type Notes struct {
	Title       string
	Summary     string
	KeyPoints   []string
	ActionItems []string
	GeneratedAt time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrConversationUnavailable indicates the conversation could not be loaded.
	ErrConversationUnavailable = errors.New("export conversation unavailable")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
