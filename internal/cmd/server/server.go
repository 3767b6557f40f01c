// Package server parses configuration and runs the web front-end.
package server

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/hallpass-id/hallpass/internal/auth/flow"
	"github.com/hallpass-id/hallpass/internal/auth/passkey"
	"github.com/hallpass-id/hallpass/internal/platform/otel"
	"github.com/hallpass-id/hallpass/internal/storage"
	"github.com/hallpass-id/hallpass/internal/storage/credstore"
	"github.com/hallpass-id/hallpass/internal/storage/sqlite"
	"github.com/hallpass-id/hallpass/internal/web/app"
)

// Config holds server command configuration.
type Config struct {
	HTTPAddr   string
	DBPath     string
	TOTPWindow int
}

// EnvLookup returns the value for a key when present.
type EnvLookup func(string) (string, bool)

// ParseConfig parses flags into a Config. Environment values provide the
// defaults; flags override.
func ParseConfig(fs *flag.FlagSet, args []string, lookup EnvLookup) (Config, error) {
	cfg := Config{
		HTTPAddr:   envOrDefault(lookup, "HALLPASS_HTTP_ADDR", "localhost:8080"),
		DBPath:     envOrDefault(lookup, "HALLPASS_DB_PATH", filepath.Join("data", "hallpass.db")),
		TOTPWindow: 1,
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The web server address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "Path to the local sqlite database")
	fs.IntVar(&cfg.TOTPWindow, "totp-window", cfg.TOTPWindow, "Accepted TOTP period drift either side of now")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the web server and blocks until the context ends.
func Run(ctx context.Context, cfg Config) error {
	shutdown, err := otel.Setup(ctx, "hallpass-web")
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if shutdown != nil {
			_ = shutdown(context.Background())
		}
	}()

	local, err := openLocalStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = local.Close()
	}()

	// Credentials live in the hosted rows API when one is configured; the
	// local sqlite file otherwise. Web sessions and in-flight ceremony
	// state are always local.
	var credentials storage.CredentialStore = local
	credCfg := credstore.LoadConfigFromEnv()
	if credCfg.Enabled() {
		client, err := credstore.NewClient(credCfg)
		if err != nil {
			return fmt.Errorf("configure credential store client: %w", err)
		}
		credentials = client
		log.Printf("using hosted credential store at %s", credCfg.BaseURL)
	}

	passkeys := passkey.NewService(credentials, credentials, local)
	controller := flow.NewController(credentials, passkeys, cfg.TOTPWindow)
	webServer := app.New(credentials, local, local, controller, passkeys)
	return webServer.Serve(ctx, cfg.HTTPAddr)
}

func openLocalStore(path string) (*sqlite.Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = filepath.Join("data", "hallpass.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	return store, nil
}

func envOrDefault(lookup EnvLookup, key, fallback string) string {
	if lookup == nil {
		return fallback
	}
	if value, ok := lookup(key); ok {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
