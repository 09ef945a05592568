// Package backup archives the local storage directory as a tar.xz stream.
package backup

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
)

type Entry struct {
	Name string
	Size int64
}

// Write streams every regular file under dir into w. Names in the archive
// are slash separated and relative to dir.
func Write(w io.Writer, dir string) ([]Entry, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	xw, err := xz.NewWriter(w)
	if err != nil {
		return nil, fmt.Errorf("create xz writer: %w", err)
	}
	tw := tar.NewWriter(xw)

	var entries []Entry
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(fi, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		n, err := io.Copy(tw, f)
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("copy %s: %w", rel, err)
		}
		entries = append(entries, Entry{Name: hdr.Name, Size: n})
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar: %w", err)
	}
	if err := xw.Close(); err != nil {
		return nil, fmt.Errorf("close xz: %w", err)
	}
	return entries, nil
}

// List reads the table of contents of an archive made by Write.
func List(r io.Reader) ([]Entry, error) {
	xr, err := xz.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open xz: %w", err)
	}
	tr := tar.NewReader(xr)
	var entries []Entry
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read tar: %w", err)
		}
		entries = append(entries, Entry{Name: hdr.Name, Size: hdr.Size})
	}
}

// Restore unpacks an archive made by Write into dir. Entries that would
// escape dir are rejected.
func Restore(r io.Reader, dir string) ([]Entry, error) {
	xr, err := xz.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open xz: %w", err)
	}
	tr := tar.NewReader(xr)
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		target := filepath.Join(root, filepath.FromSlash(hdr.Name))
		if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
			return nil, fmt.Errorf("archive entry %q escapes %s", hdr.Name, dir)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return nil, err
		}
		n, err := io.Copy(f, tr)
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return nil, fmt.Errorf("write %s: %w", hdr.Name, err)
		}
		entries = append(entries, Entry{Name: hdr.Name, Size: n})
	}
}
