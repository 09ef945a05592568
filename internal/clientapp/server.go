package clientapp

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nrc-it/staffforms/internal/forms"
	"github.com/nrc-it/staffforms/internal/middleware"
	"go.uber.org/zap"
)

const (
	gateCookieName = "staffforms_gate"

	siteTitle    = "إضافة بيانات العاملين في شركة مصافي الشمال"
	footerCredit = "تم أعداد وتصميم الاستمارة"
	footerAuthor = "Ali.H.gma"

	msgBadForm      = "تعذر قراءة بيانات الاستمارة."
	msgUnavailable  = "الخدمة غير متاحة حالياً. يرجى المحاولة لاحقاً."
	msgUnlockFailed = "تعذر فتح الاستمارة."
	msgSaveFailed   = "تعذر حفظ البيانات."
	msgPDFFailed    = "تعذر إنشاء ملف PDF."

	// Attachments are re-encoded in memory before they are forwarded.
	maxUploadBytes = 80 << 20
)

type Config struct {
	Addr         string
	APIBaseURL   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	APITimeout   time.Duration
}

type pageData struct {
	SiteTitle    string
	FooterCredit string
	FooterAuthor string
	Error        string
	Message      string
	Notices      []string

	Categories []forms.Category
	Category   *forms.Category
	Fields     []fieldView
	Accept     string
}

type fieldView struct {
	Key         string
	Label       string
	Kind        string
	Required    bool
	Conditional bool
	Condition   string
	Options     []string
	Min         string
	Max         string
}

type apiErrorResponse struct {
	Error   string   `json:"error"`
	Missing []string `json:"missing"`
	Invalid []string `json:"invalid"`
}

type apiSubmitResponse struct {
	SubmissionID string   `json:"submissionId"`
	Message      string   `json:"message"`
	UploadErrors []string `json:"uploadErrors"`
}

//go:embed templates/home.html templates/gate.html templates/form.html assets/app.css assets/logo.svg
var templatesFS embed.FS

type Server struct {
	apiBaseURL string
	apiClient  *http.Client
	logger     *zap.Logger
	now        func() time.Time

	homeTmpl *template.Template
	gateTmpl *template.Template
	formTmpl *template.Template
}

func New(cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.APITimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Server{
		apiBaseURL: strings.TrimRight(cfg.APIBaseURL, "/"),
		apiClient:  &http.Client{Timeout: timeout},
		logger:     logger,
		now:        time.Now,
		homeTmpl:   template.Must(template.ParseFS(templatesFS, "templates/home.html")),
		gateTmpl:   template.Must(template.ParseFS(templatesFS, "templates/gate.html")),
		formTmpl:   template.Must(template.ParseFS(templatesFS, "templates/form.html")),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.homePage)
	mux.HandleFunc("GET /forms/{category}", s.formPage)
	mux.HandleFunc("POST /forms/{category}/unlock", s.unlock)
	mux.HandleFunc("POST /forms/{category}/lock", s.lock)
	mux.HandleFunc("POST /forms/{category}", s.submit)
	mux.HandleFunc("POST /forms/{category}/pdf", s.exportPDF)
	mux.HandleFunc("GET /assets/app.css", s.assetFile("assets/app.css", "text/css; charset=utf-8"))
	mux.HandleFunc("GET /assets/logo.svg", s.assetFile("assets/logo.svg", "image/svg+xml"))

	csp := strings.Join([]string{
		"default-src 'self'",
		"style-src 'self'",
		"img-src 'self' data:",
		"form-action 'self'",
		"frame-ancestors 'none'",
	}, "; ")

	return middleware.Chain(
		mux,
		middleware.RequestID,
		middleware.AccessLog(s.logger),
		middleware.SecurityHeaders(middleware.SecurityHeadersConfig{ContentSecurityPolicy: csp}),
	)
}

func Run(ctx context.Context, cfg Config, logger *zap.Logger) error {
	s := New(cfg, logger)
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("client listening", zap.String("addr", cfg.Addr), zap.String("api", s.apiBaseURL))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) basePage(r *http.Request) pageData {
	q := r.URL.Query()
	return pageData{
		SiteTitle:    siteTitle,
		FooterCredit: footerCredit,
		FooterAuthor: footerAuthor,
		Error:        q.Get("error"),
		Message:      q.Get("message"),
		Notices:      q["notice"],
		Categories:   forms.All(),
	}
}

func (s *Server) homePage(w http.ResponseWriter, r *http.Request) {
	s.render(w, s.homeTmpl, s.basePage(r))
}

func (s *Server) formPage(w http.ResponseWriter, r *http.Request) {
	c, ok := forms.Lookup(r.PathValue("category"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	data := s.basePage(r)
	data.Category = &c

	if !s.gateIsOpen(r) {
		s.render(w, s.gateTmpl, data)
		return
	}
	data.Fields = s.fieldViews(c)
	data.Accept = acceptAttribute()
	s.render(w, s.formTmpl, data)
}

func (s *Server) fieldViews(c forms.Category) []fieldView {
	today := s.now().Format("2006-01-02")
	views := make([]fieldView, 0, len(c.Fields))
	for _, f := range c.Fields {
		v := fieldView{
			Key:      f.Key,
			Label:    f.Label,
			Kind:     string(f.Kind),
			Required: f.Required,
			Options:  f.Options,
		}
		if f.RequiredWhen != nil {
			v.Conditional = true
			v.Condition = f.RequiredWhen.Value
		}
		switch f.Kind {
		case forms.KindNumber:
			v.Min = strconv.FormatInt(f.Min, 10)
		case forms.KindDate:
			if f.Bounded {
				v.Min = forms.MinDate
				v.Max = today
			}
		}
		views = append(views, v)
	}
	return views
}

func acceptAttribute() string {
	parts := strings.Split(forms.AcceptedAttachmentTypes(), ",")
	for i, p := range parts {
		parts[i] = "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ",")
}

func (s *Server) unlock(w http.ResponseWriter, r *http.Request) {
	c, ok := forms.Lookup(r.PathValue("category"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	formURL := "/forms/" + c.Slug
	if err := r.ParseForm(); err != nil {
		redirectWith(w, r, formURL, "error", msgBadForm)
		return
	}

	bodyBytes, _ := json.Marshal(map[string]string{"password": r.FormValue("password"), "category": c.Slug})
	apiReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, s.apiBaseURL+"/api/gate", bytes.NewReader(bodyBytes))
	if err != nil {
		redirectWith(w, r, formURL, "error", msgUnavailable)
		return
	}
	apiReq.Header.Set("Content-Type", "application/json")
	forwardClient(r, apiReq)

	apiResp, err := s.apiClient.Do(apiReq)
	if err != nil {
		s.logger.Warn("gate request failed", zap.Error(err))
		redirectWith(w, r, formURL, "error", msgUnavailable)
		return
	}
	defer apiResp.Body.Close()

	if apiResp.StatusCode != http.StatusOK {
		redirectWith(w, r, formURL, "error", apiErrorMessage(apiResp.Body, msgUnlockFailed))
		return
	}
	for _, setCookie := range apiResp.Header.Values("Set-Cookie") {
		w.Header().Add("Set-Cookie", setCookie)
	}
	http.Redirect(w, r, formURL, http.StatusFound)
}

func (s *Server) lock(w http.ResponseWriter, r *http.Request) {
	apiReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, s.apiBaseURL+"/api/gate/close", nil)
	if err == nil {
		copyGateCookieHeader(r, apiReq)
		if apiResp, err := s.apiClient.Do(apiReq); err == nil {
			for _, setCookie := range apiResp.Header.Values("Set-Cookie") {
				w.Header().Add("Set-Cookie", setCookie)
			}
			_ = apiResp.Body.Close()
		}
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	c, ok := forms.Lookup(r.PathValue("category"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	formURL := "/forms/" + c.Slug
	apiResp, ok := s.forwardForm(w, r, "/api/forms/"+c.Slug, formURL)
	if !ok {
		return
	}
	defer apiResp.Body.Close()

	if apiResp.StatusCode != http.StatusOK {
		redirectWith(w, r, formURL, "error", apiErrorMessage(apiResp.Body, msgSaveFailed))
		return
	}
	var payload apiSubmitResponse
	if err := json.NewDecoder(apiResp.Body).Decode(&payload); err != nil {
		redirectWith(w, r, formURL, "error", msgUnavailable)
		return
	}
	q := url.Values{}
	q.Set("message", payload.Message)
	for _, notice := range payload.UploadErrors {
		q.Add("notice", notice)
	}
	http.Redirect(w, r, formURL+"?"+q.Encode(), http.StatusFound)
}

func (s *Server) exportPDF(w http.ResponseWriter, r *http.Request) {
	c, ok := forms.Lookup(r.PathValue("category"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	formURL := "/forms/" + c.Slug
	apiResp, ok := s.forwardForm(w, r, "/api/forms/"+c.Slug+"/pdf", formURL)
	if !ok {
		return
	}
	defer apiResp.Body.Close()

	if apiResp.StatusCode != http.StatusOK {
		redirectWith(w, r, formURL, "error", apiErrorMessage(apiResp.Body, msgPDFFailed))
		return
	}
	for _, key := range []string{"Content-Type", "Content-Disposition", "Content-Length"} {
		if v := apiResp.Header.Get(key); v != "" {
			w.Header().Set(key, v)
		}
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, apiResp.Body); err != nil {
		s.logger.Warn("stream pdf", zap.Error(err))
	}
}

// forwardForm re-encodes the browser's multipart form and posts it to the
// API with the gate cookie. On failure it redirects back to formURL and
// returns ok=false.
func (s *Server) forwardForm(w http.ResponseWriter, r *http.Request, apiPath, formURL string) (*http.Response, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		redirectWith(w, r, formURL, "error", msgBadForm)
		return nil, false
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, items := range r.MultipartForm.Value {
		for _, item := range items {
			_ = writer.WriteField(key, strings.TrimSpace(item))
		}
	}
	for key, files := range r.MultipartForm.File {
		for _, header := range files {
			if header == nil || header.Size == 0 {
				continue
			}
			src, err := header.Open()
			if err != nil {
				redirectWith(w, r, formURL, "error", msgBadForm)
				return nil, false
			}
			part, err := writer.CreateFormFile(key, header.Filename)
			if err == nil {
				_, err = io.Copy(part, src)
			}
			_ = src.Close()
			if err != nil {
				redirectWith(w, r, formURL, "error", msgBadForm)
				return nil, false
			}
		}
	}
	if err := writer.Close(); err != nil {
		redirectWith(w, r, formURL, "error", msgBadForm)
		return nil, false
	}

	apiReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, s.apiBaseURL+apiPath, &body)
	if err != nil {
		redirectWith(w, r, formURL, "error", msgUnavailable)
		return nil, false
	}
	apiReq.Header.Set("Content-Type", writer.FormDataContentType())
	copyGateCookieHeader(r, apiReq)
	forwardClient(r, apiReq)
	if id := middleware.RequestIDFromContext(r.Context()); id != "" {
		apiReq.Header.Set(middleware.RequestIDHeader, id)
	}

	apiResp, err := s.apiClient.Do(apiReq)
	if err != nil {
		s.logger.Warn("form request failed", zap.String("path", apiPath), zap.Error(err))
		redirectWith(w, r, formURL, "error", msgUnavailable)
		return nil, false
	}
	return apiResp, true
}

func (s *Server) gateIsOpen(r *http.Request) bool {
	if _, err := r.Cookie(gateCookieName); err != nil {
		return false
	}
	apiReq, err := http.NewRequestWithContext(r.Context(), http.MethodGet, s.apiBaseURL+"/api/gate", nil)
	if err != nil {
		return false
	}
	copyGateCookieHeader(r, apiReq)

	apiResp, err := s.apiClient.Do(apiReq)
	if err != nil {
		return false
	}
	defer apiResp.Body.Close()
	return apiResp.StatusCode == http.StatusOK
}

func (s *Server) assetFile(name, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := templatesFS.ReadFile(name)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "private, max-age=300")
		_, _ = w.Write(data)
	}
}

func (s *Server) render(w http.ResponseWriter, tmpl *template.Template, data pageData) {
	if err := renderHTMLTemplate(w, tmpl, data); err != nil {
		http.Error(w, "template render failed", http.StatusInternalServerError)
		s.logger.Error("template render failed", zap.String("template", tmpl.Name()), zap.Error(err))
	}
}

func renderHTMLTemplate(w http.ResponseWriter, tmpl *template.Template, data pageData) error {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, err := w.Write(buf.Bytes())
	return err
}

func copyGateCookieHeader(from *http.Request, to *http.Request) {
	if c, err := from.Cookie(gateCookieName); err == nil && c.Value != "" {
		to.Header.Set("Cookie", c.Name+"="+c.Value)
	}
}

// forwardClient sets X-Forwarded-For to the browser's address. A header the
// browser sent itself is dropped so it cannot pick its own limiter key.
func forwardClient(from *http.Request, to *http.Request) {
	host, _, err := net.SplitHostPort(from.RemoteAddr)
	if err != nil {
		host = from.RemoteAddr
	}
	to.Header.Set("X-Forwarded-For", host)
}

func apiErrorMessage(body io.Reader, fallback string) string {
	var payload apiErrorResponse
	if err := json.NewDecoder(io.LimitReader(body, 1<<20)).Decode(&payload); err != nil {
		return fallback
	}
	if msg := strings.TrimSpace(payload.Error); msg != "" {
		return msg
	}
	return fallback
}

func redirectWith(w http.ResponseWriter, r *http.Request, path, key, value string) {
	http.Redirect(w, r, path+"?"+url.Values{key: {value}}.Encode(), http.StatusFound)
}
