package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/nrc-it/staffforms/internal/forms"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const spreadsheetMimeType = "application/vnd.google-apps.spreadsheet"

// GoogleOptions configures the Drive and Sheets backends. Spreadsheets maps
// a category slug to a spreadsheet id; categories without an id are looked
// up on Drive by their sheet name.
type GoogleOptions struct {
	CredentialsFile string
	CredentialsJSON string
	FolderID        string
	Spreadsheets    map[string]string
}

func googleClientOptions(ctx context.Context, opts GoogleOptions) ([]option.ClientOption, error) {
	raw := []byte(strings.TrimSpace(opts.CredentialsJSON))
	if len(raw) == 0 {
		if opts.CredentialsFile == "" {
			return nil, errors.New("google credentials are not configured")
		}
		data, err := os.ReadFile(opts.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read google credentials: %w", err)
		}
		raw = data
	}
	creds, err := google.CredentialsFromJSON(ctx, raw, drive.DriveScope, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse google credentials: %w", err)
	}
	return []option.ClientOption{option.WithCredentials(creds)}, nil
}

type DriveStore struct {
	svc      *drive.Service
	folderID string
}

func NewDriveStore(svc *drive.Service, folderID string) *DriveStore {
	return &DriveStore{svc: svc, folderID: strings.TrimSpace(folderID)}
}

// Upload creates the file on Drive, opens it to anyone holding the link and
// returns its web view link.
func (s *DriveStore) Upload(ctx context.Context, category string, a *forms.Attachment) (string, error) {
	meta := &drive.File{Name: a.Name, MimeType: a.ContentType}
	if s.folderID != "" {
		meta.Parents = []string{s.folderID}
	}
	created, err := s.svc.Files.Create(meta).
		Media(bytes.NewReader(a.Data), googleapi.ContentType(a.ContentType)).
		Fields("id", "webViewLink").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("create drive file: %w", err)
	}
	_, err = s.svc.Permissions.Create(created.Id, &drive.Permission{Type: "anyone", Role: "reader"}).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("share drive file: %w", err)
	}
	return created.WebViewLink, nil
}

type SheetsStore struct {
	sheets *sheets.Service
	drive  *drive.Service

	mu  sync.Mutex
	ids map[string]string
}

func NewSheetsStore(sheetsSvc *sheets.Service, driveSvc *drive.Service, ids map[string]string) *SheetsStore {
	known := map[string]string{}
	for slug, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			known[slug] = id
		}
	}
	return &SheetsStore{sheets: sheetsSvc, drive: driveSvc, ids: known}
}

// AppendRow appends below the last data row of the first worksheet.
func (s *SheetsStore) AppendRow(ctx context.Context, c forms.Category, row []any) error {
	id, err := s.spreadsheetID(ctx, c)
	if err != nil {
		return err
	}
	_, err = s.sheets.Spreadsheets.Values.Append(id, "A1", &sheets.ValueRange{Values: [][]interface{}{row}}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append row to %s: %w", c.SheetName, err)
	}
	return nil
}

func (s *SheetsStore) spreadsheetID(ctx context.Context, c forms.Category) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.ids[c.Slug]; ok {
		return id, nil
	}
	if s.drive == nil {
		return "", fmt.Errorf("no spreadsheet configured for %s", c.Slug)
	}
	q := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false", escapeDriveQuery(c.SheetName), spreadsheetMimeType)
	list, err := s.drive.Files.List().
		Q(q).
		Fields("files(id, name)").
		PageSize(2).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("find spreadsheet %q: %w", c.SheetName, err)
	}
	if len(list.Files) == 0 {
		return "", fmt.Errorf("spreadsheet %q not found", c.SheetName)
	}
	s.ids[c.Slug] = list.Files[0].Id
	return list.Files[0].Id, nil
}

func escapeDriveQuery(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	return strings.ReplaceAll(value, `'`, `\'`)
}

// OpenGoogle builds both Google-backed stores from one set of credentials.
func OpenGoogle(ctx context.Context, opts GoogleOptions, extra ...option.ClientOption) (*DriveStore, *SheetsStore, error) {
	clientOpts := extra
	if len(clientOpts) == 0 {
		var err error
		clientOpts, err = googleClientOptions(ctx, opts)
		if err != nil {
			return nil, nil, err
		}
	}
	driveSvc, err := drive.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create drive client: %w", err)
	}
	sheetsSvc, err := sheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create sheets client: %w", err)
	}
	return NewDriveStore(driveSvc, opts.FolderID), NewSheetsStore(sheetsSvc, driveSvc, opts.Spreadsheets), nil
}
