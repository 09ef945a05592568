package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/nrc-it/staffforms/internal/forms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type flakyStore struct {
	failOn map[string]bool
	calls  []string
}

func (s *flakyStore) Upload(_ context.Context, _ string, a *forms.Attachment) (string, error) {
	s.calls = append(s.calls, a.Name)
	if s.failOn[a.Name] {
		return "", errors.New("quota exceeded")
	}
	return "https://files.example/" + a.Name, nil
}

func att(name string) *forms.Attachment {
	return &forms.Attachment{Name: name, ContentType: "image/png", Data: []byte{1, 2, 3}}
}

func TestUploadAllKeepsPositionsAndContinuesAfterFailure(t *testing.T) {
	store := &flakyStore{failOn: map[string]bool{"b.png": true}}
	files := []*forms.Attachment{nil, att("a.png"), att("b.png"), nil, att("c.png")}

	results := UploadAll(context.Background(), store, "employees", files, nil)

	require.Len(t, results, len(files))
	assert.True(t, results[0].Skipped)
	assert.Equal(t, "https://files.example/a.png", results[1].Link)
	require.Error(t, results[2].Err)
	assert.Equal(t, "b.png", results[2].Name)
	assert.True(t, results[3].Skipped)
	assert.Equal(t, "https://files.example/c.png", results[4].Link)
	assert.Equal(t, []string{"a.png", "b.png", "c.png"}, store.calls)

	assert.Equal(t, []string{"", "https://files.example/a.png", "", "", "https://files.example/c.png"}, Links(results))
	assert.Equal(t, []string{"b.png - quota exceeded"}, Failures(results))
}

func TestDirStoreWritesAttachment(t *testing.T) {
	dir := t.TempDir()
	store := NewDirStore(dir)

	link, err := store.Upload(context.Background(), "service", &forms.Attachment{Name: "../../id card.png", Data: []byte("data")})
	require.NoError(t, err)

	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "file", u.Scheme)
	assert.True(t, strings.HasSuffix(u.Path, "-id card.png"))

	data, err := os.ReadFile(u.Path)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}

func TestWorkbookStoreAppendsBelowHeader(t *testing.T) {
	dir := t.TempDir()
	store := NewWorkbookStore(dir)
	c, _ := forms.Lookup(forms.SlugService)

	first := []any{"c1", "d", "f", "m", "1980-01-01", "a", "n", "2023-01-01", int64(6), "", "p", "", "", "", "", "", "mob", "e"}
	second := []any{"c2", "d", "f", "m", "1981-01-01", "a", "n", "2023-02-01", int64(2), "l", "p", "", "", "", "", "", "mob", "e"}
	require.NoError(t, store.AppendRow(context.Background(), c, first))
	require.NoError(t, store.AppendRow(context.Background(), c, second))

	rows, err := store.Rows(c)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, c.Columns(), rows[0])
	assert.Equal(t, "c1", rows[1][0])
	assert.Equal(t, "6", rows[1][8])
	assert.Equal(t, "c2", rows[2][0])
	assert.Equal(t, "l", rows[2][9])
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, _, err := Open(context.Background(), Options{Backend: "ftp"})
	assert.ErrorIs(t, err, ErrUnknownBackend)

	files, sheets, err := Open(context.Background(), Options{Backend: "local", LocalDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &DirStore{}, files)
	assert.IsType(t, &WorkbookStore{}, sheets)
}

func TestSheetsStoreResolvesByNameAndAppends(t *testing.T) {
	var appended struct {
		Values [][]any `json:"values"`
	}
	var appendPath, appendQuery, listQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/files"):
			listQuery = r.URL.Query().Get("q")
			_, _ = w.Write([]byte(`{"files":[{"id":"sheet-123","name":"بيانات العقود"}]}`))
		case r.Method == http.MethodPost && strings.Contains(r.URL.Path, ":append"):
			appendPath = r.URL.Path
			appendQuery = r.URL.RawQuery
			_ = json.NewDecoder(r.Body).Decode(&appended)
			_, _ = w.Write([]byte(`{"spreadsheetId":"sheet-123"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	_, sheets, err := OpenGoogle(context.Background(), GoogleOptions{},
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)

	c, _ := forms.Lookup(forms.SlugContracts)
	require.NoError(t, sheets.AppendRow(context.Background(), c, []any{"1", "", int64(3)}))

	assert.Contains(t, listQuery, "name = 'بيانات العقود'")
	assert.Contains(t, appendPath, "sheet-123")
	assert.Contains(t, appendQuery, "valueInputOption=RAW")
	require.Len(t, appended.Values, 1)
	assert.Equal(t, []any{"1", "", float64(3)}, appended.Values[0])

	// second append uses the memoised id
	listQuery = ""
	require.NoError(t, sheets.AppendRow(context.Background(), c, []any{"2"}))
	assert.Empty(t, listQuery)
}

func TestDriveStoreUploadsAndShares(t *testing.T) {
	var uploadQuery, uploadBody, permissionPath string
	var permission map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && strings.Contains(r.URL.Path, "/upload/"):
			uploadQuery = r.URL.RawQuery
			raw, _ := io.ReadAll(r.Body)
			uploadBody = string(raw)
			_, _ = w.Write([]byte(`{"id":"file-9","webViewLink":"https://drive.example/file-9/view"}`))
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/permissions"):
			permissionPath = r.URL.Path
			_ = json.NewDecoder(r.Body).Decode(&permission)
			_, _ = w.Write([]byte(`{"id":"perm-1"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	files, _, err := OpenGoogle(context.Background(), GoogleOptions{FolderID: "folder-1"},
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)

	link, err := files.Upload(context.Background(), forms.SlugEmployees, att("permit.png"))
	require.NoError(t, err)
	assert.Equal(t, "https://drive.example/file-9/view", link)
	assert.Contains(t, uploadQuery, "uploadType=multipart")
	assert.Contains(t, uploadBody, `"permit.png"`)
	assert.Contains(t, uploadBody, `"folder-1"`)
	assert.Contains(t, permissionPath, "file-9")
	assert.Equal(t, "anyone", permission["type"])
	assert.Equal(t, "reader", permission["role"])
}

func TestDriveStoreReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"storage quota exceeded"}}`))
	}))
	defer srv.Close()

	files, _, err := OpenGoogle(context.Background(), GoogleOptions{},
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)

	_, err = files.Upload(context.Background(), forms.SlugService, att("id.png"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create drive file")
}

func TestEscapeDriveQuery(t *testing.T) {
	assert.Equal(t, `it\'s \\ here`, escapeDriveQuery(`it's \ here`))
}
