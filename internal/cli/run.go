package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/nrc-it/staffforms/internal/apiapp"
	"github.com/nrc-it/staffforms/internal/clientapp"
	"github.com/nrc-it/staffforms/internal/config"
	"github.com/nrc-it/staffforms/internal/pdfrender"
	"github.com/nrc-it/staffforms/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newRunCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "run api|client|all",
		Short:     "Run the API, the web client, or both",
		ValidArgs: []string{"api", "client", "all"},
		Args:      cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			var err error
			switch args[0] {
			case "api":
				err = a.runAPI(ctx)
			case "client":
				err = a.runClient(ctx)
			case "all":
				err = a.runAll(ctx)
			default:
				return fmt.Errorf("%w: unknown run target %q (api | client | all)", ErrUsage, args[0])
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func apiConfig(cfg config.Config) apiapp.Config {
	return apiapp.Config{
		Addr:         cfg.API.Addr,
		Passwords:    cfg.Gate.Passwords,
		GateTTL:      cfg.Gate.TTL,
		GateDBPath:   cfg.Gate.DBPath,
		GateAttempts: cfg.Gate.Attempts,
		Storage: storage.Options{
			Backend:  cfg.Storage.Backend,
			LocalDir: cfg.Local.Dir,
			Google: storage.GoogleOptions{
				CredentialsFile: cfg.Google.Credentials,
				CredentialsJSON: cfg.Google.CredentialsJSON,
				FolderID:        cfg.Google.Folder,
				Spreadsheets:    cfg.Google.Sheets,
			},
		},
		PDF: pdfrender.Options{FontPath: cfg.PDF.Font, FontFamily: cfg.PDF.Family},
	}
}

func clientConfig(cfg config.Config) clientapp.Config {
	return clientapp.Config{
		Addr:         cfg.Client.Addr,
		APIBaseURL:   cfg.Client.APIURL,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Minute,
	}
}

func (a *app) runAPI(ctx context.Context) error {
	srv, cleanup, err := apiapp.Build(ctx, apiConfig(a.cfg), a.logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if path := a.loader.FilePath(); path != "" {
		a.warnIgnoredEnv()
		w, err := config.NewWatcher(path, a.logger)
		if err != nil {
			a.logger.Warn("config watcher disabled", zap.String("path", path), zap.Error(err))
		} else {
			w.OnChange(func(string) { a.reloadPasswords(srv) })
			w.Start()
			defer w.Stop()
		}
	}
	return srv.ListenAndServe(ctx, a.cfg.API.Addr)
}

// reloadPasswords re-reads the config after the file changed. Only the gate
// passwords are applied while running; other settings need a restart.
func (a *app) reloadPasswords(srv *apiapp.Server) {
	cfg, err := a.loader.Load()
	if err != nil {
		a.logger.Warn("config reload failed", zap.Error(err))
		return
	}
	a.warnIgnoredEnv()
	if err := srv.SetPasswords(cfg.Gate.Passwords); err != nil {
		a.logger.Warn("gate passwords not updated", zap.Error(err))
		return
	}
	a.logger.Info("gate passwords reloaded", zap.Int("count", len(cfg.Gate.Passwords)))
}

func (a *app) warnIgnoredEnv() {
	for _, name := range a.loader.IgnoredEnv() {
		a.logger.Warn("environment value ignored, the config file sets it",
			zap.String("env", name), zap.String("file", a.loader.FilePath()))
	}
}

func (a *app) runClient(ctx context.Context) error {
	return clientapp.Run(ctx, clientConfig(a.cfg), a.logger)
}

func (a *app) runAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.runAPI(gctx) })
	g.Go(func() error { return a.runClient(gctx) })
	return g.Wait()
}
