// Package export renders posts to downloadable PDF and DOCX files.
package export

import (
	"errors"
	"time"
)

// Format is the export output format.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// Request names the post and format to export.
type Request struct {
	PostID          int64
	Format          Format
	IncludeComments bool
}

// Result is the rendered file handed back to the HTTP layer.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// Post is the exportable view of a post.
type Post struct {
	ID        int64
	Title     string
	Body      string
	Author    string
	Tags      []string
	UpdatedAt time.Time
}

// Comment is a comment with its replies, flattened for rendering.
type Comment struct {
	Author    string
	Message   string
	CreatedAt time.Time
	Replies   []Reply
}

// Reply is a nested reply under a comment.
type Reply struct {
	Author    string
	Message   string
	CreatedAt time.Time
}

var (
	// ErrPDFDependencyMissing indicates headless Chrome is not installed.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates pandoc is not installed.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
