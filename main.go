// Command tgmusic downloads audio files from Telegram channels,
// filtering by media attributes and tracking progress so reruns never
// repeat finished work.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"tgmusic/internal/catalog"
	"tgmusic/internal/config"
	"tgmusic/internal/downloader"
	"tgmusic/internal/telegram"
	"tgmusic/internal/tracker"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitConfig  = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	maxFiles := flag.Int("max-files", 0, "maximum files to download this run (0 = unlimited)")
	statsOnly := flag.Bool("stats", false, "show tracker and catalog statistics, then exit")
	cleanup := flag.Bool("cleanup", false, "drop catalog entries for files missing on disk, then exit")
	loginPhone := flag.String("login", "", "run interactive login for the given phone number, then exit")
	loginQR := flag.Bool("login-qr", false, "run QR login, then exit")
	resetTracker := flag.Bool("reset-tracker", false, "start with an empty tracker when the stored state is corrupt")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "path", *configPath, "error", err)
		return exitConfig
	}

	log, logClose, err := newLogger(cfg)
	if err != nil {
		slog.Error("set up logging", "error", err)
		return exitFailure
	}
	defer logClose()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc := telegram.NewService(cfg.APIID, cfg.APIHash, cfg.SessionPath, clientLogger(cfg.LogLevel))

	switch {
	case *loginPhone != "":
		if err := svc.LoginWithCode(ctx, *loginPhone, promptStdin); err != nil {
			log.Error("login failed", "error", err)
			return exitFailure
		}
		fmt.Println("Logged in, session stored at", cfg.SessionPath)
		return exitOK

	case *loginQR:
		if err := svc.LoginQR(ctx, os.Stdout, promptStdin); err != nil {
			log.Error("qr login failed", "error", err)
			return exitFailure
		}
		fmt.Println("Logged in, session stored at", cfg.SessionPath)
		return exitOK

	case *cleanup:
		return runCleanup(ctx, cfg, log)
	}

	tr, corrupt, code := loadTracker(cfg, *resetTracker, log)
	if code != exitOK {
		return code
	}
	if corrupt {
		log.Warn("tracker state was corrupt, starting fresh", "path", cfg.TrackerPath)
	}

	cat, err := openCatalog(ctx, cfg)
	if err != nil {
		log.Error("open catalog", "path", cfg.CatalogPath, "error", err)
		return exitFailure
	}
	defer func() { _ = cat.Close() }()

	if *statsOnly {
		printStats(ctx, tr, cat, cfg)
		return exitOK
	}

	var result downloader.Result
	err = svc.Run(ctx, func(runCtx context.Context, sess *telegram.Session) error {
		d := downloader.New(cfg, sess, tr, cat, log)
		var runErr error
		result, runErr = d.Run(runCtx, *maxFiles)
		return runErr
	})
	printSummary(result)
	if err != nil {
		log.Error("run failed", "error", err)
		return exitFailure
	}
	return exitOK
}

func loadTracker(cfg *config.Config, reset bool, log *slog.Logger) (*tracker.Tracker, bool, int) {
	tr, err := tracker.Load(cfg.TrackerPath)
	if err == nil {
		return tr, false, exitOK
	}
	if errors.Is(err, tracker.ErrCorruptState) && reset {
		return tracker.StartFresh(cfg.TrackerPath), true, exitOK
	}
	if errors.Is(err, tracker.ErrCorruptState) {
		log.Error("tracker state is corrupt; rerun with -reset-tracker to discard it", "error", err)
	} else {
		log.Error("load tracker", "error", err)
	}
	return nil, false, exitFailure
}

func openCatalog(ctx context.Context, cfg *config.Config) (*catalog.Store, error) {
	cat, err := catalog.Open(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	if err := cat.Migrate(ctx); err != nil {
		cat.Close()
		return nil, err
	}
	return cat, nil
}

func runCleanup(ctx context.Context, cfg *config.Config, log *slog.Logger) int {
	cat, err := openCatalog(ctx, cfg)
	if err != nil {
		log.Error("open catalog", "path", cfg.CatalogPath, "error", err)
		return exitFailure
	}
	defer func() { _ = cat.Close() }()

	removed, err := cat.CleanupMissing(ctx)
	if err != nil {
		log.Error("cleanup catalog", "error", err)
		return exitFailure
	}
	fmt.Printf("Removed %d missing file entries from the catalog\n", removed)
	return exitOK
}

func printStats(ctx context.Context, tr *tracker.Tracker, cat *catalog.Store, cfg *config.Config) {
	processed, downloaded := tr.Counts()
	fmt.Println("=== Download Statistics ===")
	fmt.Printf("Processed messages: %d\n", processed)
	fmt.Printf("Downloaded files:   %d\n", downloaded)
	if stats, err := cat.Stats(ctx); err == nil {
		fmt.Printf("Catalog entries:    %d (%.1f MB on disk)\n",
			stats.Files, float64(stats.TotalBytes)/(1024*1024))
	}
	fmt.Printf("Download directory: %s\n", cfg.DownloadDir)
	fmt.Printf("Naming template:    %s\n", cfg.NamingTemplate)
}

func printSummary(res downloader.Result) {
	fmt.Println("=== Session Results ===")
	fmt.Printf("Channels scanned: %d\n", res.ChannelsScanned)
	fmt.Printf("Messages scanned: %d\n", res.Scanned)
	fmt.Printf("Filtered out:     %d\n", res.Filtered)
	fmt.Printf("Downloaded:       %d\n", res.Downloaded)
	fmt.Printf("Failed:           %d\n", res.Failed)
	fmt.Printf("Duplicates:       %d\n", res.Duplicates)
}

func newLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var writers []io.Writer
	if cfg.LogConsole {
		writers = append(writers, os.Stderr)
	}
	closeFn := func() {}
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, err
		}
		writers = append(writers, f)
		closeFn = func() { _ = f.Close() }
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	log := slog.New(slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(log)
	return log, closeFn, nil
}

// clientLogger builds the logger handed to the gotd client. Client
// internals are only interesting when debugging.
func clientLogger(level string) *zap.Logger {
	if level != "debug" {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func promptStdin(prompt string) (string, error) {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
