package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/nrc-it/staffforms/internal/forms"
	"github.com/xuri/excelize/v2"
)

// DirStore keeps attachments on the local filesystem. It backs development
// setups and hosts without Google credentials.
type DirStore struct {
	dir string
}

func NewDirStore(dir string) *DirStore {
	return &DirStore{dir: dir}
}

func (s *DirStore) Upload(ctx context.Context, category string, a *forms.Attachment) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	target := filepath.Join(s.dir, "files", category)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", fmt.Errorf("create attachment directory: %w", err)
	}
	name := uuid.NewString() + "-" + safeFileName(a.Name)
	path := filepath.Join(target, name)
	if err := os.WriteFile(path, a.Data, 0o600); err != nil {
		return "", fmt.Errorf("write attachment: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

func safeFileName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "attachment.bin"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
}

// WorkbookStore appends rows to one .xlsx workbook per category. The first
// row of a new workbook carries the category's column labels.
type WorkbookStore struct {
	dir string
	mu  sync.Mutex
}

func NewWorkbookStore(dir string) *WorkbookStore {
	return &WorkbookStore{dir: dir}
}

func (s *WorkbookStore) Path(c forms.Category) string {
	return filepath.Join(s.dir, c.Slug+".xlsx")
}

func (s *WorkbookStore) AppendRow(ctx context.Context, c forms.Category, row []any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create workbook directory: %w", err)
	}
	file, err := s.open(c)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	sheet := file.GetSheetName(0)
	rows, err := file.GetRows(sheet)
	if err != nil {
		return fmt.Errorf("read %s: %w", sheet, err)
	}
	cell, err := excelize.CoordinatesToCellName(1, len(rows)+1)
	if err != nil {
		return err
	}
	if err := file.SetSheetRow(sheet, cell, &row); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	if err := file.SaveAs(s.Path(c)); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func (s *WorkbookStore) open(c forms.Category) (*excelize.File, error) {
	path := s.Path(c)
	if _, err := os.Stat(path); err == nil {
		file, err := excelize.OpenFile(path)
		if err != nil {
			return nil, fmt.Errorf("open workbook: %w", err)
		}
		return file, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	file := excelize.NewFile()
	sheet := file.GetSheetName(0)
	if name := workbookSheetName(c.SheetName); name != "" && name != sheet {
		if err := file.SetSheetName(sheet, name); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("name worksheet: %w", err)
		}
		sheet = name
	}
	header := make([]any, 0, len(c.Columns()))
	for _, col := range c.Columns() {
		header = append(header, col)
	}
	if err := file.SetSheetRow(sheet, "A1", &header); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}
	return file, nil
}

// Rows returns every row of the category workbook, header included.
func (s *WorkbookStore) Rows(c forms.Category) ([][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, err := excelize.OpenFile(s.Path(c))
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()
	return file.GetRows(file.GetSheetName(0))
}

// workbookSheetName trims to Excel's 31 character limit.
func workbookSheetName(name string) string {
	runes := []rune(strings.TrimSpace(name))
	if len(runes) > 31 {
		runes = runes[:31]
	}
	return string(runes)
}
