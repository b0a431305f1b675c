// Package downloader drives a run: enumerate channel media, filter,
// consult the tracker, fetch bytes, write files and record the outcome.
package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"tgmusic/internal/catalog"
	"tgmusic/internal/config"
	"tgmusic/internal/domain"
	"tgmusic/internal/filter"
	"tgmusic/internal/normalizer"
	"tgmusic/internal/telegram"
	"tgmusic/internal/tracker"
)

const fetchRetries = 2

// Client is the Telegram surface the downloader consumes. Implemented
// by *telegram.Session.
type Client interface {
	ResolveChannel(ctx context.Context, ref string) (telegram.Channel, error)
	ForEachMedia(ctx context.Context, ch telegram.Channel, stopBefore time.Time, fn func(domain.Media) error) error
	DownloadTo(ctx context.Context, ch telegram.Channel, m domain.Media, w io.Writer) error
}

// Catalog records completed downloads. Implemented by *catalog.Store.
type Catalog interface {
	Add(ctx context.Context, rec catalog.Record) error
}

// FileError marks a local write, rename or collision failure for one
// message. The channel scan continues past it.
type FileError struct {
	Key  domain.Key
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("file %s for %s: %v", e.Path, e.Key, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// Result aggregates per-run counters.
type Result struct {
	ChannelsScanned int
	Scanned         int
	Filtered        int
	Downloaded      int
	Failed          int
	Duplicates      int
}

func (r *Result) add(other Result) {
	r.ChannelsScanned += other.ChannelsScanned
	r.Scanned += other.Scanned
	r.Filtered += other.Filtered
	r.Downloaded += other.Downloaded
	r.Failed += other.Failed
	r.Duplicates += other.Duplicates
}

type Downloader struct {
	cfg     *config.Config
	client  Client
	tracker *tracker.Tracker
	catalog Catalog
	log     *slog.Logger
	now     func() time.Time
}

func New(cfg *config.Config, client Client, tr *tracker.Tracker, cat Catalog, log *slog.Logger) *Downloader {
	return &Downloader{
		cfg:     cfg,
		client:  client,
		tracker: tr,
		catalog: cat,
		log:     log,
		now:     time.Now,
	}
}

// Run processes every configured channel in order. Per-message failures
// are counted and logged but do not fail the run; persistence failures
// abort it, since marks can no longer be trusted to survive.
func (d *Downloader) Run(ctx context.Context, maxFiles int) (Result, error) {
	if err := os.MkdirAll(d.cfg.DownloadDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create download directory: %w", err)
	}

	budget := d.cfg.MaxFilesPerRun
	if maxFiles > 0 && (budget == 0 || maxFiles < budget) {
		budget = maxFiles
	}

	var total Result
	for _, ref := range d.cfg.Channels {
		remaining := 0
		if budget > 0 {
			remaining = budget - total.Downloaded
			if remaining <= 0 {
				d.log.Info("download budget reached, stopping", "budget", budget)
				break
			}
		}

		res, err := d.processChannel(ctx, ref, remaining)
		total.add(res)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (d *Downloader) processChannel(ctx context.Context, ref string, budget int) (Result, error) {
	var res Result

	ch, err := d.client.ResolveChannel(ctx, ref)
	if err != nil {
		// An unreachable channel is logged and skipped; the other
		// channels still deserve their scan.
		d.log.Error("resolve channel", "channel", ref, "error", err)
		return res, nil
	}
	res.ChannelsScanned = 1
	d.log.Info("processing channel", "channel", ref, "title", ch.Title)

	first := true
	err = d.client.ForEachMedia(ctx, ch, d.cfg.Filters.DateFrom, func(m domain.Media) error {
		if !first {
			if err := d.pause(ctx); err != nil {
				return err
			}
		}
		first = false
		return d.processMessage(ctx, ch, m, budget, &res)
	})
	if err != nil {
		return res, fmt.Errorf("scan channel %s: %w", ref, err)
	}

	d.log.Info("channel done", "channel", ref,
		"scanned", res.Scanned, "filtered", res.Filtered,
		"downloaded", res.Downloaded, "failed", res.Failed, "duplicates", res.Duplicates)
	return res, nil
}

// processMessage applies the per-message pipeline: skip processed,
// filter, skip downloaded, fetch, write, normalize, mark. A message is
// marked processed on the download path only after the download fully
// succeeded, so a crash mid-transfer leaves it eligible for retry.
func (d *Downloader) processMessage(ctx context.Context, ch telegram.Channel, m domain.Media, budget int, res *Result) error {
	res.Scanned++
	key := m.Key

	if d.tracker.IsProcessed(key) {
		res.Duplicates++
		d.log.Debug("already processed", "key", key.String(), "file", m.FileName)
		return nil
	}

	if reason, ok := filter.Evaluate(m, d.cfg.Filters); !ok {
		res.Filtered++
		d.log.Info("filtered out", "key", key.String(), "file", m.FileName, "reason", string(reason))
		return d.tracker.MarkProcessed(key)
	}

	if d.tracker.IsDownloaded(key) {
		res.Duplicates++
		d.log.Info("already downloaded", "key", key.String(), "file", m.FileName)
		return d.tracker.MarkProcessed(key)
	}

	finalPath, sum, err := d.download(ctx, ch, m)
	var transferErr *telegram.TransferError
	if errors.As(err, &transferErr) {
		// Left unmarked on purpose: the next run retries it.
		res.Failed++
		d.log.Error("transfer failed", "key", key.String(), "file", m.FileName, "error", err)
		return nil
	}
	var fileErr *FileError
	if errors.As(err, &fileErr) {
		res.Failed++
		d.log.Error("write failed", "key", key.String(), "path", fileErr.Path, "error", err)
		return nil
	}
	if err != nil {
		return err
	}

	if err := d.tracker.MarkDownloaded(key, tracker.FileRecord{
		Path:         finalPath,
		SHA256:       sum,
		Size:         m.Size,
		DownloadedAt: d.now().UTC(),
	}); err != nil {
		return err
	}
	if err := d.tracker.MarkProcessed(key); err != nil {
		return err
	}

	if d.catalog != nil {
		if err := d.catalog.Add(ctx, catalog.Record{
			Key:          key,
			FileName:     filepath.Base(finalPath),
			Path:         finalPath,
			Size:         m.Size,
			MimeType:     m.MimeType,
			SHA256:       sum,
			PublishedAt:  m.Date,
			DownloadedAt: d.now().UTC(),
		}); err != nil {
			d.log.Warn("catalog update failed", "key", key.String(), "error", err)
		}
	}

	res.Downloaded++
	d.log.Info("downloaded", "key", key.String(), "path", finalPath, "info", describeMedia(m))

	if budget > 0 && res.Downloaded >= budget {
		d.log.Info("channel download budget reached", "budget", budget)
		return telegram.ErrStopIteration
	}
	return nil
}

// download fetches the media into a temp file and renames it into
// place, returning the final path and content hash.
func (d *Downloader) download(ctx context.Context, ch telegram.Channel, m domain.Media) (string, string, error) {
	name := buildFileName(m, d.cfg.NamingTemplate, d.cfg.DateFormat, d.now())
	target := filepath.Join(d.cfg.DownloadDir, name)

	if info, err := os.Stat(target); err == nil {
		// A leftover from a crash between write and mark. Same size
		// means same content for our purposes; anything else is a
		// conflict the user has to resolve, never an overwrite.
		if info.Size() == m.Size {
			sum, hashErr := hashFile(target)
			if hashErr != nil {
				return "", "", &FileError{Key: m.Key, Path: target, Err: hashErr}
			}
			d.log.Info("file already on disk, adopting", "key", m.Key.String(), "path", target)
			return target, sum, nil
		}
		return "", "", &FileError{Key: m.Key, Path: target,
			Err: fmt.Errorf("target exists with different content (%d bytes on disk, %d expected)", info.Size(), m.Size)}
	}

	sum, err := d.fetchWithRetry(ctx, ch, m, target)
	if err != nil {
		return "", "", err
	}

	finalPath := target
	if d.cfg.NormalizeNames {
		normalized := normalizer.Normalize(name)
		if normalized != name {
			normalizedPath := filepath.Join(d.cfg.DownloadDir, normalized)
			if _, statErr := os.Stat(normalizedPath); statErr == nil {
				d.log.Warn("normalized name already taken, keeping original",
					"key", m.Key.String(), "name", normalized)
			} else if renameErr := os.Rename(target, normalizedPath); renameErr != nil {
				return "", "", &FileError{Key: m.Key, Path: normalizedPath, Err: renameErr}
			} else {
				d.log.Info("track name normalized", "from", name, "to", normalized)
				finalPath = normalizedPath
			}
		}
	}
	return finalPath, sum, nil
}

// fetchWithRetry streams the document to a temp file next to the
// target, retrying transient transfer failures a few times before
// giving the message back to the next run. The rename only happens
// after a complete write.
func (d *Downloader) fetchWithRetry(ctx context.Context, ch telegram.Channel, m domain.Media, target string) (string, error) {
	var sum string

	attempt := func() error {
		tmp, err := os.CreateTemp(d.cfg.DownloadDir, ".download-*.part")
		if err != nil {
			return backoff.Permanent(&FileError{Key: m.Key, Path: target, Err: err})
		}
		tmpPath := tmp.Name()

		hasher := sha256.New()
		err = d.client.DownloadTo(ctx, ch, m, io.MultiWriter(tmp, hasher))
		if closeErr := tmp.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			os.Remove(tmpPath)
			var transferErr *telegram.TransferError
			if errors.As(err, &transferErr) {
				return err // retriable
			}
			return backoff.Permanent(&FileError{Key: m.Key, Path: target, Err: err})
		}
		if err := os.Rename(tmpPath, target); err != nil {
			os.Remove(tmpPath)
			return backoff.Permanent(&FileError{Key: m.Key, Path: target, Err: err})
		}
		sum = hex.EncodeToString(hasher.Sum(nil))
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), fetchRetries), ctx)
	if err := backoff.Retry(attempt, bo); err != nil {
		return "", err
	}
	return sum, nil
}

func (d *Downloader) pause(ctx context.Context) error {
	if d.cfg.MessageDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(d.cfg.MessageDelay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// describeMedia formats the duration/size context string shown next to
// download logs, e.g. "[03:25] [7.2 MB]".
func describeMedia(m domain.Media) string {
	sizeMB := float64(m.Size) / (1024 * 1024)
	if m.Audio != nil && m.Audio.Duration > 0 {
		return fmt.Sprintf("[%02d:%02d] [%.1f MB]", m.Audio.Duration/60, m.Audio.Duration%60, sizeMB)
	}
	return fmt.Sprintf("[%.1f MB]", sizeMB)
}
