package storage

import (
	"context"
	"fmt"
)

type Options struct {
	Backend  string
	LocalDir string
	Google   GoogleOptions
}

// Open returns the file and sheet stores for the configured backend.
func Open(ctx context.Context, opts Options) (FileStore, SheetStore, error) {
	switch normalizeBackend(opts.Backend) {
	case BackendGoogle:
		files, sheets, err := OpenGoogle(ctx, opts.Google)
		if err != nil {
			return nil, nil, err
		}
		return files, sheets, nil
	case BackendLocal, "":
		dir := opts.LocalDir
		if dir == "" {
			dir = "data"
		}
		return NewDirStore(dir), NewWorkbookStore(dir), nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}
