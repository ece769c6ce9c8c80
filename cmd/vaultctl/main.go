package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"evovault/cmd/internal/secret"
	"evovault/config"
	"evovault/core/identity"
	"evovault/core/reconcile"
	"evovault/crypto"
	"evovault/observability/logging"
	"evovault/storage"
)

const (
	privateKeyEnv = "EVOVAULT_PRIVATE_KEY"
	passphraseEnv = "EVOVAULT_KEYSTORE_PASSPHRASE"
)

// app carries the state shared by every subcommand. Storage is opened on
// first use so withdrawal commands work without a database.
type app struct {
	cfgPath  string
	network  string
	jsonOut  bool
	logLevel string

	stdout io.Writer
	stderr io.Writer

	cfg        *config.Config
	store      *storage.Store
	reconciler *reconcile.Reconciler
	logger     *slog.Logger

	privateKey *secret.Source
	passphrase *secret.Source
	validator  crypto.KeyValidator
}

func main() {
	a := newApp(os.Stdout, os.Stderr)
	cmd := newRootCmd(a)
	err := cmd.Execute()
	a.close()
	if err != nil {
		os.Exit(1)
	}
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout:     stdout,
		stderr:     stderr,
		privateKey: secret.NewSource(privateKeyEnv, "private key (hex or WIF)"),
		passphrase: secret.NewSource(passphraseEnv, "keystore passphrase"),
		validator:  crypto.Secp256k1Validator{},
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "vaultctl",
		Short:         "Inspect and manage the local identity vault",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig()
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "evovault.toml", "path to configuration (.toml or .yaml)")
	root.PersistentFlags().StringVar(&a.network, "network", "", "network override (mainnet, testnet, devnet, regtest)")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "print JSON instead of a table")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "minimum log level written to stderr")

	root.AddCommand(newIdentitiesCmd(a))
	root.AddCommand(newWithdrawalsCmd(a))
	return root
}

func (a *app) loadConfig() error {
	if a.cfg != nil {
		return nil
	}
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(a.network) != "" {
		network, err := identity.ParseNetwork(a.network)
		if err != nil {
			return err
		}
		cfg.Network = network.String()
	}
	a.cfg = cfg
	a.logger = logging.Setup("vaultctl", cfg.Env,
		logging.WithWriter(a.stderr),
		logging.WithLevel(logging.ParseLevel(a.logLevel)))
	return nil
}

func (a *app) networkID() identity.Network {
	return a.cfg.NetworkID()
}

func (a *app) openReconciler() (*reconcile.Reconciler, error) {
	if a.reconciler != nil {
		return a.reconciler, nil
	}
	dsn, err := storage.ResolveDSN(a.cfg.Database)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(dsn, "://") && !strings.HasPrefix(strings.TrimSpace(a.cfg.Database), "file:") {
		if err := os.MkdirAll(filepath.Dir(a.cfg.Database), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	store, err := storage.Open(dsn, storage.WithLogger(a.logger), storage.WithMetrics(nil))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	opts := []reconcile.Option{
		reconcile.WithLogger(a.logger),
		reconcile.WithMetrics(nil),
		reconcile.WithValidator(a.validator),
	}
	if a.cfg.LenientUpdates {
		opts = append(opts, reconcile.WithLenientUpdates())
	}
	rec, err := reconcile.New(store, opts...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.store = store
	a.reconciler = rec
	return rec, nil
}

func (a *app) close() {
	if a.store != nil {
		_ = a.store.Close()
		a.store = nil
		a.reconciler = nil
	}
}
