// ABOUTME: Entry point for the skiff custody agent.
// ABOUTME: serve speaks the tool protocol on stdio; init and doctor manage the keystore.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/skiffworks/skiff/internal/chains"
	"github.com/skiffworks/skiff/internal/config"
	"github.com/skiffworks/skiff/internal/keystore"
	"github.com/skiffworks/skiff/internal/mcp"
	"github.com/skiffworks/skiff/internal/paths"
	"github.com/skiffworks/skiff/internal/prices"
	"github.com/skiffworks/skiff/internal/sanctions"
	"github.com/skiffworks/skiff/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
      _    _  __  __
  ___| | _(_)/ _|/ _|
 / __| |/ / | |_| |_
 \__ \   <| |  _|  _|
 |___/_|\_\_|_| |_|
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: skiff <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve   Speak the tool protocol on stdin/stdout")
		fmt.Println("  init    Create the keystore directories, config, and default wallet")
		fmt.Println("  doctor  Check the keystore and configuration for problems")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "doctor":
		err = runDoctor(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setupLogger routes logs to stderr; stdout carries protocol frames.
func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	switch os.Getenv("SKIFF_LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// buildKeystore wires the shared collaborators for serve and doctor.
func buildKeystore(p paths.Paths, cfg *config.Config) (*keystore.Keystore, *chains.Registry) {
	evm := chains.NewEVM(cfg.RPC.EVMRPCURL, cfg.RPC.EVMChainID)
	sol := chains.NewSolana(cfg.RPC.SolanaRPCURL, cfg.HTTP.SwapBaseURL)
	registry := chains.NewRegistry(evm, sol)

	derivers := make([]keystore.AddressDeriver, 0, len(registry.All()))
	for _, a := range registry.All() {
		derivers = append(derivers, a)
	}
	return keystore.New(p, cfg, derivers), registry
}

func checkEndpoints(cfg *config.Config) error {
	if err := prices.CheckEndpoint(cfg.HTTP.PriceBaseURL); err != nil {
		return fmt.Errorf("price_base_url: %w", err)
	}
	if cfg.HTTP.SwapBaseURL != "" {
		if err := prices.CheckEndpoint(cfg.HTTP.SwapBaseURL); err != nil {
			return fmt.Errorf("swap_base_url: %w", err)
		}
	}
	if cfg.HTTP.OFACSDNURL != "" {
		if err := prices.CheckEndpoint(cfg.HTTP.OFACSDNURL); err != nil {
			return fmt.Errorf("ofac_sdn_url: %w", err)
		}
	}
	return nil
}

func runServe(ctx context.Context) error {
	logger := setupLogger()

	p, err := paths.Resolve()
	if err != nil {
		return err
	}
	if err := p.EnsurePrivateDirs(); err != nil {
		return err
	}

	cfg, err := config.Load(p.ConfigFile())
	if err != nil {
		return err
	}
	if err := checkEndpoints(cfg); err != nil {
		return err
	}

	ks, registry := buildKeystore(p, cfg)

	// First run: make sure there is something to operate on.
	lk, err := ks.AcquireWriteLock()
	if err != nil {
		return err
	}
	if _, err := ks.EnsureDefaultWallet(lk); err != nil {
		lk.Release()
		return fmt.Errorf("ensuring default wallet: %w", err)
	}
	lk.Release()

	priceClient, err := prices.New(cfg.HTTP.PriceBaseURL)
	if err != nil {
		return err
	}
	sdn := sanctions.New(cfg.HTTP.OFACSDNURL, p.SanctionsCacheFile(),
		time.Duration(cfg.HTTP.OFACRefreshSeconds)*time.Second)

	ledger, err := store.Open(p.LedgerFile())
	if err != nil {
		return err
	}
	defer ledger.Close()

	srv, err := mcp.NewServer(mcp.ServerConfig{
		Keystore:  ks,
		Config:    cfg,
		Ledger:    ledger,
		Chains:    registry,
		Prices:    priceClient,
		Sanctions: sdn,
		Logger:    logger.With("component", "mcp"),
	})
	if err != nil {
		return err
	}

	logger.Info("starting skiff",
		"version", version,
		"config", p.ConfigFile(),
		"data", p.DataDir,
		"chains", registry.Names(),
	)

	return srv.Serve(ctx, os.Stdin, os.Stdout)
}

func runInit() error {
	setupLogger()

	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	cyan.Fprint(os.Stderr, banner)
	fmt.Fprintf(os.Stderr, "    version: %s\n\n", version)

	p, err := paths.Resolve()
	if err != nil {
		return err
	}
	if err := p.EnsurePrivateDirs(); err != nil {
		return err
	}

	cfg, err := config.Load(p.ConfigFile())
	if err != nil {
		return err
	}
	if err := cfg.Save(p.ConfigFile()); err != nil {
		return err
	}

	ks, _ := buildKeystore(p, cfg)
	lk, err := ks.AcquireWriteLock()
	if err != nil {
		return err
	}
	defer lk.Release()

	info, err := ks.EnsureDefaultWallet(lk)
	if err != nil {
		return fmt.Errorf("creating default wallet: %w", err)
	}

	green.Fprint(os.Stderr, "    ▶ ")
	fmt.Fprintf(os.Stderr, "Config:  %s\n", p.ConfigFile())
	green.Fprint(os.Stderr, "    ▶ ")
	fmt.Fprintf(os.Stderr, "Data:    %s\n", p.DataDir)
	green.Fprint(os.Stderr, "    ▶ ")
	fmt.Fprintf(os.Stderr, "Wallet:  %s (%d account)\n", info.Name, info.Accounts)
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Keystore ready. Run `skiff serve` to start the agent.")
	return nil
}

func runDoctor(ctx context.Context) error {
	setupLogger()

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	failures := 0

	check := func(name string, err error) {
		if err != nil {
			red.Fprint(os.Stderr, "  ✗ ")
			fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
			failures++
			return
		}
		green.Fprint(os.Stderr, "  ✓ ")
		fmt.Fprintln(os.Stderr, name)
	}

	p, err := paths.Resolve()
	check("resolve directories", err)
	if err != nil {
		return fmt.Errorf("%d check(s) failed", failures)
	}
	check("private directories", p.EnsurePrivateDirs())

	cfg, err := config.Load(p.ConfigFile())
	check("load config", err)
	if err != nil {
		return fmt.Errorf("%d check(s) failed", failures)
	}
	check("endpoint hygiene", checkEndpoints(cfg))

	ks, _ := buildKeystore(p, cfg)
	lk, err := ks.AcquireWriteLock()
	check("acquire write lock", err)
	if err == nil {
		lk.Release()
	}

	wallets, err := ks.ListWallets()
	check("read wallets", err)
	if err == nil {
		fmt.Fprintf(os.Stderr, "    %d wallet(s)\n", len(wallets))
	}

	ledger, err := store.Open(p.LedgerFile())
	check("open ledger", err)
	if err == nil {
		_, herr := ledger.ReadTxHistory(ctx, store.TxFilter{Limit: 1})
		check("query ledger", herr)
		ledger.Close()
	}

	if failures > 0 {
		return fmt.Errorf("%d check(s) failed", failures)
	}
	fmt.Fprintln(os.Stderr)
	green.Fprintln(os.Stderr, "All checks passed.")
	return nil
}
