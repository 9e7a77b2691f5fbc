package core

import (
	"strings"
	"time"
)

// FileRef is what a short code resolves to: the blob that holds the bytes
// and how to present them.
type FileRef struct {
	ContentHash   string `json:"hash"`
	ContentType   string `json:"content_type"`
	FileExtension string `json:"extension"`
}

// Entry is one catalog row.
// A code maps to exactly one content hash; several codes may share a hash.
type Entry struct {
	Code          string    `json:"code"`
	ContentHash   string    `json:"hash"`
	ContentType   string    `json:"content_type"`
	FileExtension string    `json:"extension"`
	Views         uint64    `json:"views"`
	LastViewedAt  time.Time `json:"last_viewed_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// Ref returns the lookup view of the entry
func (e Entry) Ref() FileRef {
	return FileRef{
		ContentHash:   e.ContentHash,
		ContentType:   e.ContentType,
		FileExtension: e.FileExtension,
	}
}

// Filename returns the name a download should be saved under
func (r FileRef) Filename(code string) string {
	if r.FileExtension == "" {
		return code
	}
	return code + "." + strings.TrimPrefix(r.FileExtension, ".")
}
