package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nrc-it/staffforms/internal/config"
	"github.com/nrc-it/staffforms/internal/security"
	"github.com/spf13/cobra"
)

type setupOptions struct {
	passwords  []string
	hash       bool
	apiAddr    string
	clientAddr string
	apiURL     string
	backend    string
	localDir   string
	gateDB     string
	force      bool
}

func newSetupCommand(a *app) *cobra.Command {
	opts := setupOptions{}
	cmd := &cobra.Command{
		Use:         "setup",
		Short:       "Write a .env file with gate passwords and addresses",
		Annotations: skipConfig,
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetup(cmd, a.envFile, opts)
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&opts.passwords, "passwords", config.DefaultPasswords, "gate passwords, comma separated")
	f.BoolVar(&opts.hash, "hash", false, "store salted hashes instead of the plain passwords")
	f.StringVar(&opts.apiAddr, "api-addr", ":8080", "API listen address")
	f.StringVar(&opts.clientAddr, "client-addr", ":3000", "client listen address")
	f.StringVar(&opts.apiURL, "api-url", "http://localhost:8080", "API base URL used by the client")
	f.StringVar(&opts.backend, "backend", "local", "storage backend: local or google")
	f.StringVar(&opts.localDir, "local-dir", "data", "directory for the local backend")
	f.StringVar(&opts.gateDB, "gate-db", "data/gate.db", "gate session database")
	f.BoolVar(&opts.force, "force", false, "overwrite an existing env file")
	return cmd
}

func runSetup(cmd *cobra.Command, envPath string, opts setupOptions) error {
	var entries []string
	for _, p := range opts.passwords {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		hashed, err := hashGateEntry(p)
		if err != nil {
			return fmt.Errorf("invalid gate password: %w", err)
		}
		if opts.hash {
			p = hashed
		}
		entries = append(entries, p)
	}
	if len(entries) == 0 {
		return errors.New("--passwords needs at least one entry")
	}

	values := map[string]string{
		config.EnvKey("gate.passwords"):  strings.Join(entries, ","),
		config.EnvKey("gate.dbpath"):     opts.gateDB,
		config.EnvKey("api.addr"):        opts.apiAddr,
		config.EnvKey("client.addr"):     opts.clientAddr,
		config.EnvKey("client.apiurl"):   opts.apiURL,
		config.EnvKey("storage.backend"): opts.backend,
		config.EnvKey("local.dir"):       opts.localDir,
	}
	if err := config.WriteDotEnv(envPath, values, opts.force); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", envPath)
	return nil
}

// hashGateEntry hashes department codes as PINs and anything else as a
// password. Both go through the same length check.
func hashGateEntry(p string) (string, error) {
	if strings.IndexFunc(p, func(r rune) bool { return r < '0' || r > '9' }) < 0 {
		return security.HashPIN(p)
	}
	return security.HashPassword(p)
}
