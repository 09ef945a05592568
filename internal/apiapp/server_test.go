package apiapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nrc-it/staffforms/internal/forms"
	"github.com/nrc-it/staffforms/internal/gate"
	"github.com/nrc-it/staffforms/internal/pdfrender"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memFiles struct {
	mu      sync.Mutex
	failOn  map[string]bool
	uploads []string
}

func (m *memFiles) Upload(_ context.Context, category string, a *forms.Attachment) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn[a.Name] {
		return "", errors.New("drive quota exceeded")
	}
	m.uploads = append(m.uploads, a.Name)
	return "https://files.test/" + category + "/" + a.Name, nil
}

type memSheets struct {
	mu   sync.Mutex
	rows map[string][][]any
	err  error
}

func (m *memSheets) AppendRow(_ context.Context, c forms.Category, row []any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.rows == nil {
		m.rows = map[string][][]any{}
	}
	m.rows[c.Slug] = append(m.rows[c.Slug], row)
	return nil
}

type harness struct {
	srv    *Server
	ts     *httptest.Server
	files  *memFiles
	sheets *memSheets
}

func newHarness(t *testing.T, attempts int) *harness {
	t.Helper()
	store, err := gate.Open(context.Background(), filepath.Join(t.TempDir(), "gate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	renderer, err := pdfrender.New(pdfrender.Options{})
	require.NoError(t, err)

	h := &harness{files: &memFiles{}, sheets: &memSheets{}}
	h.srv, err = New(Deps{
		Gate:      store,
		Limiter:   gate.NewLimiter(attempts),
		Files:     h.files,
		Sheets:    h.sheets,
		Renderer:  renderer,
		Passwords: []string{"77665", "66554"},
		GateTTL:   time.Hour,
		Now:       func() time.Time { return time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	h.ts = httptest.NewServer(h.srv.Handler())
	t.Cleanup(h.ts.Close)
	return h
}

func (h *harness) unlock(t *testing.T, password string) (*http.Response, *http.Cookie) {
	t.Helper()
	body := strings.NewReader(`{"password":"` + password + `","category":"employees"}`)
	resp, err := http.Post(h.ts.URL+"/api/gate", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	for _, c := range resp.Cookies() {
		if c.Name == gateCookieName && c.Value != "" {
			return resp, c
		}
	}
	return resp, nil
}

func (h *harness) post(t *testing.T, path string, cookie *http.Cookie, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.ts.URL+path, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func pngData(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 4))))
	return buf.Bytes()
}

type multipartForm struct {
	values map[string]string
	files  map[string][]byte
}

func (f multipartForm) encode(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range f.values {
		require.NoError(t, mw.WriteField(k, v))
	}
	for k, data := range f.files {
		part, err := mw.CreateFormFile(k, k+".png")
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func validEmployee(t *testing.T, married bool) multipartForm {
	img := pngData(t)
	f := multipartForm{
		values: map[string]string{
			"computer_no":      "1001",
			"badge_no":         "B-7",
			"department":       "الصيانة",
			"full_name":        "علي حسن محمد جاسم",
			"mother_name":      "فاطمة علي حسين",
			"birth_date":       "1990-05-01",
			"marital_status":   forms.No,
			"family_count":     "3",
			"address":          "بيجي",
			"nearby_landmark":  "قرب المستشفى",
			"appointment_date": "2015-01-01",
			"permit_number":    "P-55",
			"mobile":           "07700000000",
			"data_entry_name":  "أحمد",
		},
		files: map[string][]byte{
			"administrative_order": img,
			"permit_copy":          img,
			"national_id_front":    img,
			"national_id_back":     img,
			"housing_card_front":   img,
			"housing_card_back":    img,
		},
	}
	if married {
		f.values["marital_status"] = forms.Yes
		f.files["marriage_contract"] = img
	}
	return f
}

func decode(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
}

func TestHealthAndForms(t *testing.T) {
	h := newHarness(t, 10)

	resp, err := http.Get(h.ts.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, err = http.Get(h.ts.URL + "/api/forms")
	require.NoError(t, err)
	defer resp.Body.Close()
	var payload struct {
		Forms []struct {
			Slug    string        `json:"slug"`
			Title   string        `json:"title"`
			Fields  []forms.Field `json:"fields"`
			Columns []string      `json:"columns"`
			Accept  string        `json:"accept"`
		} `json:"forms"`
	}
	decode(t, resp, &payload)
	require.Len(t, payload.Forms, 3)
	assert.Equal(t, forms.SlugEmployees, payload.Forms[0].Slug)
	assert.Len(t, payload.Forms[0].Fields, 25)
	assert.Len(t, payload.Forms[2].Columns, 18)
	assert.Contains(t, payload.Forms[0].Accept, "pdf")

	resp, err = http.Get(h.ts.URL + "/api/forms/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGateFlow(t *testing.T) {
	h := newHarness(t, 10)

	resp, cookie := h.unlock(t, "12345")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Nil(t, cookie)

	resp, cookie = h.unlock(t, "66554")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	req, _ := http.NewRequest(http.MethodGet, h.ts.URL+"/api/gate", nil)
	req.AddCookie(cookie)
	status, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer status.Body.Close()
	assert.Equal(t, http.StatusOK, status.StatusCode)

	closed := h.post(t, "/api/gate/close", cookie, nil, "application/json")
	assert.Equal(t, http.StatusOK, closed.StatusCode)

	req, _ = http.NewRequest(http.MethodGet, h.ts.URL+"/api/gate", nil)
	req.AddCookie(cookie)
	status, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer status.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, status.StatusCode)
}

func TestGateRateLimit(t *testing.T) {
	h := newHarness(t, 2)

	for i := 0; i < 2; i++ {
		resp, _ := h.unlock(t, "00000")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	resp, cookie := h.unlock(t, "77665")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Nil(t, cookie, "a correct password is refused while limited")
}

func TestPasswordHotSwap(t *testing.T) {
	h := newHarness(t, 10)
	require.NoError(t, h.srv.SetPasswords([]string{"99999"}))

	resp, _ := h.unlock(t, "77665")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = h.unlock(t, "99999")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Error(t, h.srv.SetPasswords([]string{" "}))
}

func TestSubmitRequiresGate(t *testing.T) {
	h := newHarness(t, 10)
	body, ct := validEmployee(t, false).encode(t)
	resp := h.post(t, "/api/forms/employees", nil, body, ct)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, h.files.uploads)
}

func TestSubmitNamesEveryMissingField(t *testing.T) {
	h := newHarness(t, 10)
	_, cookie := h.unlock(t, "77665")

	body, ct := multipartForm{}.encode(t)
	resp := h.post(t, "/api/forms/employees", cookie, body, ct)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var out validationResponse
	decode(t, resp, &out)
	assert.Len(t, out.Missing, 20)
	assert.Equal(t, "رقم الحاسبة", out.Missing[0])
	assert.NotContains(t, out.Missing, "اول طفل")
	assert.NotContains(t, out.Missing, "ارفاق عقد الزواج")
	assert.Empty(t, out.Invalid)
	assert.Contains(t, out.Error, "رقم الحاسبة")
	assert.Empty(t, h.sheets.rows)
}

func TestSubmitMarriedNeedsContract(t *testing.T) {
	h := newHarness(t, 10)
	_, cookie := h.unlock(t, "77665")

	f := validEmployee(t, true)
	delete(f.files, "marriage_contract")
	body, ct := f.encode(t)
	resp := h.post(t, "/api/forms/employees", cookie, body, ct)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var out validationResponse
	decode(t, resp, &out)
	assert.Equal(t, []string{"ارفاق عقد الزواج"}, out.Missing)
}

func TestSubmitRejectsUnsupportedAttachment(t *testing.T) {
	h := newHarness(t, 10)
	_, cookie := h.unlock(t, "77665")

	f := validEmployee(t, false)
	f.files["permit_copy"] = []byte("just some plain text, not an image")
	body, ct := f.encode(t)
	resp := h.post(t, "/api/forms/employees", cookie, body, ct)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var out validationResponse
	decode(t, resp, &out)
	assert.Empty(t, out.Missing)
	require.Len(t, out.Invalid, 1)
	assert.True(t, strings.HasPrefix(out.Invalid[0], "ارفاق نسخة من التصريح: "))
}

func TestSubmitAppendsRow(t *testing.T) {
	h := newHarness(t, 10)
	_, cookie := h.unlock(t, "77665")

	body, ct := validEmployee(t, false).encode(t)
	resp := h.post(t, "/api/forms/employees", cookie, body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out submitResponse
	decode(t, resp, &out)
	assert.Equal(t, msgSaved, out.Message)
	assert.NotEmpty(t, out.SubmissionID)
	assert.Empty(t, out.UploadErrors)

	assert.Len(t, h.files.uploads, 6)
	rows := h.sheets.rows[forms.SlugEmployees]
	require.Len(t, rows, 1)
	row := rows[0]
	require.Len(t, row, 25)
	assert.Equal(t, "1001", row[0])
	assert.Equal(t, forms.No, row[6])
	assert.Equal(t, "", row[7], "no marriage contract link for a single employee")
	assert.Equal(t, int64(3), row[8])
	assert.Equal(t, "https://files.test/employees/administrative_order.png", row[16])
	assert.Equal(t, "https://files.test/employees/housing_card_back.png", row[22])
}

func TestSubmitReportsUploadFailuresInPlace(t *testing.T) {
	h := newHarness(t, 10)
	h.files.failOn = map[string]bool{"permit_copy.png": true}
	_, cookie := h.unlock(t, "77665")

	body, ct := validEmployee(t, true).encode(t)
	resp := h.post(t, "/api/forms/employees", cookie, body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out submitResponse
	decode(t, resp, &out)
	assert.Equal(t, []string{"فشل رفع الملف: permit_copy.png - drive quota exceeded"}, out.UploadErrors)

	row := h.sheets.rows[forms.SlugEmployees][0]
	assert.Equal(t, "https://files.test/employees/marriage_contract.png", row[7])
	assert.Equal(t, "", row[18], "failed upload leaves its column empty")
	assert.Equal(t, "https://files.test/employees/national_id_front.png", row[19])
}

func TestSubmitSheetFailure(t *testing.T) {
	h := newHarness(t, 10)
	h.sheets.err = errors.New("sheets unavailable")
	_, cookie := h.unlock(t, "77665")

	body, ct := validEmployee(t, false).encode(t)
	resp := h.post(t, "/api/forms/employees", cookie, body, ct)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestExportPDF(t *testing.T) {
	h := newHarness(t, 10)
	_, cookie := h.unlock(t, "77665")

	body, ct := validEmployee(t, true).encode(t)
	resp := h.post(t, "/api/forms/employees/pdf", cookie, body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "employees-1001.pdf")
	assert.Equal(t, "8", resp.Header.Get("X-PDF-Pages"))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
	assert.Empty(t, h.sheets.rows, "export does not save")
}

func TestUnknownCategoryWithGate(t *testing.T) {
	h := newHarness(t, 10)
	_, cookie := h.unlock(t, "77665")
	body, ct := multipartForm{}.encode(t)
	resp := h.post(t, "/api/forms/visitors", cookie, body, ct)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
