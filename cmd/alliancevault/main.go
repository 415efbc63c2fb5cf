// AllianceVault keeps the roster, gift-code, and reminder data of a Whiteout
// Survival alliance bot in MongoDB when a deployment is reachable and in an
// embedded SQLite file otherwise, and reconciles the stored gift codes
// against the upstream publisher on a fixed interval.
//
// Usage:
//
//	alliancevault daemon [--config <path>]     # resolve backend, run the sync loop
//	alliancevault sync-once [--config <path>]  # single reconcile pass then exit
//	alliancevault status [--config <path>]     # show backend mode and record counts
//	alliancevault migrate [--dry-run]          # copy embedded data into MongoDB
//	alliancevault player <id>                  # look up a player on the upstream API
//	alliancevault version                      # print version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/magnusk/alliancevault/internal/config"
	"github.com/magnusk/alliancevault/internal/model"
	"github.com/magnusk/alliancevault/internal/source"
	"github.com/magnusk/alliancevault/internal/store"
	syncp "github.com/magnusk/alliancevault/internal/sync"
	"github.com/magnusk/alliancevault/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run dispatches to the appropriate subcommand.
func run() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	cmd := os.Args[1]

	switch cmd {
	case "daemon":
		return runSync(os.Args[2:], true)
	case "sync-once":
		return runSync(os.Args[2:], false)
	case "status":
		return runStatus(os.Args[2:])
	case "migrate":
		return runMigrate(os.Args[2:])
	case "player":
		return runPlayer(os.Args[2:])
	case "version":
		fmt.Println("alliancevault", version)
		return nil
	}

	return fmt.Errorf("unknown command %q: run 'alliancevault' for usage", cmd)
}

// printUsage shows help and notes which backend an unconfigured install gets.
func printUsage() error {
	cfgPath, _ := config.DefaultPath()
	_, cfgErr := os.Stat(cfgPath)

	fmt.Fprintln(os.Stderr, "AllianceVault: durable storage and gift-code sync for alliance bots")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  alliancevault daemon [--config ...]     Run the sync engine continuously")
	fmt.Fprintln(os.Stderr, "  alliancevault sync-once [--config ...]  Single reconcile pass then exit")
	fmt.Fprintln(os.Stderr, "  alliancevault status [--config ...]     Show backend mode and record counts")
	fmt.Fprintln(os.Stderr, "  alliancevault migrate [--dry-run]       Copy embedded data into MongoDB")
	fmt.Fprintln(os.Stderr, "  alliancevault player <id>               Look up a player on the upstream API")
	fmt.Fprintln(os.Stderr, "  alliancevault version                   Print version")
	fmt.Fprintln(os.Stderr, "")

	if cfgErr != nil {
		fmt.Fprintf(os.Stderr, "No config file found at %s; the embedded backend will be used.\n", cfgPath)
	}

	os.Exit(1)
	return nil // unreachable
}

// --- Shared helpers ----------------------------------------------------------

// flagWasSet reports whether the named flag appeared on the command line.
func flagWasSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// loadConfig applies the explicit-vs-default rule: a path the user named must
// exist; the default location may be absent and then yields built-in defaults.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	if explicit {
		return config.Load(path)
	}
	return config.LoadOptional(path)
}

// openStore resolves the storage backend from the loaded config. An empty
// db_path falls back to the per-user data directory.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store.Store, error) {
	dbPath := cfg.DBPath
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolving data directory: %w", err)
		}
	}

	st, err := store.Resolve(ctx, store.Options{
		MongoURI:      cfg.MongoURI,
		MongoDatabase: cfg.MongoDatabase,
		DBPath:        dbPath,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("resolving storage backend: %w", err)
	}
	return st, nil
}

// --- Subcommands -------------------------------------------------------------

// runSync handles both "daemon" and "sync-once" subcommands.
func runSync(args []string, daemon bool) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*cfgPath, flagWasSet(fs, "config"))
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", *cfgPath, err)
	}

	return startSync(cfg, *verbose, daemon)
}

// runStatus prints the resolved backend and per-entity record counts.
func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// Resolver warnings still surface; routine info stays out of the report.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	fmt.Println("AllianceVault Status")
	fmt.Println("────────────────────")

	cfg, err := loadConfig(*cfgPath, flagWasSet(fs, "config"))
	if err != nil {
		fmt.Printf("  Config:      %s (invalid: %v)\n", *cfgPath, err)
		return nil
	}
	if _, statErr := os.Stat(*cfgPath); statErr == nil {
		fmt.Printf("  Config:      %s ✓\n", *cfgPath)
	} else {
		fmt.Printf("  Config:      not found (%s), using defaults\n", *cfgPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		fmt.Printf("  Backend:     unavailable (%v)\n", err)
		return nil
	}
	defer func() { _ = st.Close() }()

	fmt.Printf("  Backend:     %s\n", st.Mode())
	if st.Mode() == store.ModeEmbedded {
		dbPath := cfg.DBPath
		if dbPath == "" {
			dbPath, _ = store.DefaultDBPath()
		}
		if info, statErr := os.Stat(dbPath); statErr == nil {
			fmt.Printf("  DB file:     %s (%s)\n", dbPath, humanSize(info.Size()))
		} else {
			fmt.Printf("  DB file:     %s\n", dbPath)
		}
	}

	members, _ := st.Members().List(ctx, store.MemberFilter{})
	codes, _ := st.GiftCodes().List(ctx, store.CodeFilter{})
	reminders, _ := st.Reminders().List(ctx, store.ReminderFilter{})
	redemptions, _ := st.Redemptions().List(ctx, store.RedemptionFilter{})

	fmt.Printf("  Members:     %d\n", len(members))
	fmt.Printf("  Gift codes:  %d\n", len(codes))
	fmt.Printf("  Reminders:   %d\n", len(reminders))
	fmt.Printf("  Redemptions: %d\n", len(redemptions))

	if cfg.SourceURL != "" {
		fmt.Printf("  Sync:        every %s from %s\n", cfg.SyncInterval, cfg.SourceURL)
	} else {
		fmt.Println("  Sync:        disabled (no source_url)")
	}

	return nil
}

// runMigrate copies the embedded data set into the durable backend.
func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	dryRun := fs.Bool("dry-run", false, "print the migration plan without writing")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*cfgPath, flagWasSet(fs, "config"))
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", *cfgPath, err)
	}
	if cfg.MongoURI == "" {
		return fmt.Errorf("migrate needs a durable backend: set mongo_uri in the config or the MONGO_URI environment variable")
	}

	// The plan print is the primary output; keep routine logs out of the way.
	logLevel := slog.LevelWarn
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	dbPath := cfg.DBPath
	if dbPath == "" {
		if dbPath, err = store.DefaultDBPath(); err != nil {
			return fmt.Errorf("resolving data directory: %w", err)
		}
	}
	src, err := store.OpenEmbedded(dbPath)
	if err != nil {
		return fmt.Errorf("opening embedded store at %q: %w", dbPath, err)
	}
	defer func() { _ = src.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	dst, err := store.OpenDurable(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return fmt.Errorf("connecting to durable backend: %w", err)
	}
	defer func() { _ = dst.Close() }()

	executed, err := syncp.NewMigrator(src, dst, logger, os.Stdin, os.Stdout, *dryRun).Run(ctx)
	if err != nil {
		return err
	}
	if executed {
		fmt.Println("")
		fmt.Println("✓ Migration complete. The durable backend now holds a copy of the embedded data.")
	} else if !*dryRun {
		fmt.Println("Migration cancelled; nothing was written.")
	}
	return nil
}

// runPlayer looks a player up on the upstream API and prints the record.
func runPlayer(args []string) error {
	fs := flag.NewFlagSet("player", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: alliancevault player <id>")
	}
	id, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid player id %q", fs.Arg(0))
	}

	cfg, err := loadConfig(*cfgPath, flagWasSet(fs, "config"))
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", *cfgPath, err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	client := source.NewClient(cfg.SourceURL, cfg.PlayerAPIURL, cfg.PlayerAPISecret, logger)
	info, err := client.Player(ctx, id)
	if errors.Is(err, source.ErrPlayerNotFound) {
		return fmt.Errorf("player %d not found", id)
	}
	if err != nil {
		return fmt.Errorf("looking up player %d: %w", id, err)
	}

	member := model.Member{ID: info.ID, Nickname: info.Nickname, FurnaceLevel: info.FurnaceLevel}
	fmt.Printf("  Nickname:  %s\n", info.Nickname)
	fmt.Printf("  State:     #%d\n", info.State)
	fmt.Printf("  Furnace:   %s (level %d)\n", member.FurnaceClass(), info.FurnaceLevel)
	return nil
}

// --- Sync core (shared by daemon and sync-once) ------------------------------

// startSync wires storage, the upstream client, and the sync engine, then
// either runs one pass or loops until a signal arrives.
func startSync(cfg *config.Config, verbose, daemon bool) error {
	// --- Logger --------------------------------------------------------------

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("config loaded",
		"durable_configured", cfg.MongoURI != "",
		"source_url", cfg.SourceURL,
		"sync_interval", cfg.SyncInterval,
	)

	// --- Telemetry (optional) ------------------------------------------------

	if cfg.Telemetry != nil {
		telCfg := telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Headers:      cfg.Telemetry.Headers,
		}
		shutdownTel, err := telemetry.Setup(context.Background(), telCfg)
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			}()
		}
	}

	if cfg.SourceURL == "" {
		return fmt.Errorf("source_url is not configured; the sync engine has nothing to poll")
	}

	// --- Storage -------------------------------------------------------------

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("closing store", "error", closeErr)
		}
	}()

	// --- Sync engine ---------------------------------------------------------

	client := source.NewClient(cfg.SourceURL, cfg.PlayerAPIURL, cfg.PlayerAPISecret, logger)
	reconciler := syncp.NewReconciler(st.GiftCodes(), logger)
	engine := syncp.NewEngine(reconciler, client, cfg.SyncInterval, logger)

	// --- Dispatch mode -------------------------------------------------------

	if !daemon {
		logger.Info("running single reconcile pass")
		rep, err := engine.RunOnce(ctx)
		if rep != nil {
			logger.Info("sync complete",
				"inserted", rep.Inserted,
				"updated", rep.Updated,
				"skipped", rep.Skipped,
				"conflicts", rep.Conflicts,
				"failed", len(rep.Failed),
			)
		}
		// A partial failure still advanced every other code; the failed ones
		// are picked up again on the next run.
		if errors.Is(err, syncp.ErrPartialSync) {
			logger.Warn("some codes failed to sync", "codes", rep.Failed)
			return nil
		}
		return err
	}

	// daemon mode
	logger.Info("daemon starting", "backend", st.Mode(), "sync_interval", cfg.SyncInterval)
	if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sync engine: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
