package apiapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/nrc-it/staffforms/internal/gate"
	"github.com/nrc-it/staffforms/internal/metrics"
	"github.com/nrc-it/staffforms/internal/middleware"
	"github.com/nrc-it/staffforms/internal/pdfrender"
	"github.com/nrc-it/staffforms/internal/security"
	"github.com/nrc-it/staffforms/internal/storage"
	"go.uber.org/zap"
)

const (
	gateCookieName = "staffforms_gate"

	msgSaved         = "تم حفظ البيانات بنجاح!"
	msgWrongPassword = "كلمة السر غير صحيحة. يرجى المحاولة مرة أخرى."
	msgTooManyTries  = "محاولات كثيرة. يرجى الانتظار قليلاً ثم المحاولة مرة أخرى."
	msgGateRequired  = "يرجى إدخال كلمة السر أولاً."
	msgUnknownForm   = "الاستمارة غير موجودة."
	msgSheetFailed   = "تعذر حفظ البيانات في جدول البيانات."
	msgUploadFailed  = "فشل رفع الملف: "
	msgPDFFailed     = "تعذر إنشاء ملف PDF."
)

type Config struct {
	Addr         string
	Passwords    []string
	GateTTL      time.Duration
	GateDBPath   string
	GateAttempts int
	Storage      storage.Options
	PDF          pdfrender.Options
}

// Deps are the collaborators a Server is built from. Run assembles them from
// a Config; tests pass fakes.
type Deps struct {
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Gate      *gate.Store
	Limiter   *gate.Limiter
	Files     storage.FileStore
	Sheets    storage.SheetStore
	Renderer  *pdfrender.Renderer
	Passwords []string
	GateTTL   time.Duration
	Now       func() time.Time
}

type Server struct {
	logger    *zap.Logger
	metrics   *metrics.Metrics
	gate      *gate.Store
	limiter   *gate.Limiter
	files     storage.FileStore
	sheets    storage.SheetStore
	renderer  *pdfrender.Renderer
	passwords atomic.Pointer[security.PasswordList]
	gateTTL   time.Duration
	now       func() time.Time
}

func New(deps Deps) (*Server, error) {
	if deps.Gate == nil || deps.Files == nil || deps.Sheets == nil || deps.Renderer == nil {
		return nil, errors.New("apiapp: gate store, file store, sheet store and renderer are required")
	}
	s := &Server{
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		gate:     deps.Gate,
		limiter:  deps.Limiter,
		files:    deps.Files,
		sheets:   deps.Sheets,
		renderer: deps.Renderer,
		gateTTL:  deps.GateTTL,
		now:      deps.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.limiter == nil {
		s.limiter = gate.NewLimiter(10)
	}
	if s.gateTTL <= 0 {
		s.gateTTL = 30 * time.Minute
	}
	if s.now == nil {
		s.now = time.Now
	}
	if err := s.SetPasswords(deps.Passwords); err != nil {
		return nil, err
	}
	return s, nil
}

// SetPasswords swaps the accepted password list. Open gate sessions stay
// valid.
func (s *Server) SetPasswords(entries []string) error {
	list := security.NewPasswordList(entries)
	if list.Len() == 0 {
		return errors.New("at least one gate password is required")
	}
	s.passwords.Store(list)
	return nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.health)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /api/forms", s.listForms)
	mux.HandleFunc("GET /api/forms/{category}", s.getForm)
	mux.HandleFunc("POST /api/gate", s.openGate)
	mux.HandleFunc("GET /api/gate", s.gateStatus)
	mux.HandleFunc("POST /api/gate/close", s.closeGate)
	mux.Handle("POST /api/forms/{category}", middleware.Chain(http.HandlerFunc(s.submit), s.requireGate))
	mux.Handle("POST /api/forms/{category}/pdf", middleware.Chain(http.HandlerFunc(s.exportPDF), s.requireGate))

	return middleware.Chain(
		mux,
		middleware.RequestID,
		middleware.AccessLog(s.logger),
		middleware.SecurityHeaders(middleware.SecurityHeadersConfig{ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'"}),
		middleware.Metrics(s.metrics.Requests),
	)
}

func Run(ctx context.Context, cfg Config, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv, cleanup, err := Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()
	return srv.ListenAndServe(ctx, cfg.Addr)
}

// Build opens the gate database, the storage backend and the PDF renderer
// described by cfg. cleanup releases the gate database.
func Build(ctx context.Context, cfg Config, logger *zap.Logger) (*Server, func(), error) {
	store, err := gate.Open(ctx, cfg.GateDBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open gate store: %w", err)
	}
	cleanup := func() { _ = store.Close() }

	files, sheets, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	renderer, err := pdfrender.New(cfg.PDF)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	srv, err := New(Deps{
		Logger:    logger,
		Metrics:   metrics.New(),
		Gate:      store,
		Limiter:   gate.NewLimiter(cfg.GateAttempts),
		Files:     files,
		Sheets:    sheets,
		Renderer:  renderer,
		Passwords: cfg.Passwords,
		GateTTL:   cfg.GateTTL,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return srv, cleanup, nil
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
// A background loop purges expired gate sessions and idle limiters.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go s.janitor(ctx, 5*time.Minute)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", zap.String("addr", addr))
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

func (s *Server) janitor(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.gate.PurgeExpired(ctx); err != nil {
				s.logger.Warn("purge gate sessions", zap.Error(err))
			} else if n > 0 {
				s.logger.Debug("purged gate sessions", zap.Int64("count", n))
			}
			s.limiter.Sweep()
		}
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) requestLogger(r *http.Request) *zap.Logger {
	return s.logger.With(zap.String("request_id", middleware.RequestIDFromContext(r.Context())))
}

func expireGateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     gateCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
