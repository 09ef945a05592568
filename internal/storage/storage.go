// Package storage moves a submission out of the process: attachments go to a
// file store, the assembled row goes to the category's spreadsheet.
package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/nrc-it/staffforms/internal/forms"
	"go.uber.org/zap"
)

type FileStore interface {
	// Upload stores one attachment and returns a link a reader can open.
	Upload(ctx context.Context, category string, a *forms.Attachment) (string, error)
}

type SheetStore interface {
	AppendRow(ctx context.Context, c forms.Category, row []any) error
}

// UploadResult is the outcome for one position of an upload batch. A
// skipped result stands for an absent input.
type UploadResult struct {
	Name    string
	Link    string
	Skipped bool
	Err     error
}

// UploadAll uploads attachments one at a time and returns exactly one result
// per input, in input order. A failed upload is recorded in place and the
// remaining files are still attempted.
func UploadAll(ctx context.Context, store FileStore, category string, files []*forms.Attachment, logger *zap.Logger) []UploadResult {
	if logger == nil {
		logger = zap.NewNop()
	}
	results := make([]UploadResult, len(files))
	for i, f := range files {
		if f == nil {
			results[i] = UploadResult{Skipped: true}
			continue
		}
		results[i].Name = f.Name
		link, err := store.Upload(ctx, category, f)
		if err != nil {
			logger.Warn("attachment upload failed",
				zap.String("category", category),
				zap.String("file", f.Name),
				zap.Int("position", i),
				zap.Error(err))
			results[i].Err = err
			continue
		}
		results[i].Link = link
	}
	return results
}

// Links flattens results into the positional link slice expected by
// forms.BuildRow. Skipped and failed positions become empty strings.
func Links(results []UploadResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		if r.Err == nil && !r.Skipped {
			out[i] = r.Link
		}
	}
	return out
}

// Failures returns "<file> - <error>" for every failed upload, in order.
func Failures(results []UploadResult) []string {
	var out []string
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r.Name+" - "+r.Err.Error())
		}
	}
	return out
}

var ErrUnknownBackend = errors.New("unknown storage backend")

const (
	BackendGoogle = "google"
	BackendLocal  = "local"
)

func normalizeBackend(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
