// Package telegram wraps the gotd client behind the small surface the
// downloader needs: authentication, channel resolution, message history
// and media transfer.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/query"
	"github.com/gotd/td/telegram/query/dialogs"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"tgmusic/internal/domain"
)

const (
	historyBatchSize   = 100
	historyMinInterval = 500 * time.Millisecond
	maxFloodWait       = 5 * time.Minute
)

var (
	ErrUnauthorized    = errors.New("telegram session is not authorized, run with -login first")
	ErrChannelNotFound = errors.New("channel not found")
)

// TransferError marks a per-message media fetch failure. The message it
// names stays unmarked in the tracker so a later run retries it.
type TransferError struct {
	Key domain.Key
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s: %v", e.Key, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Service holds Telegram credentials and the session location. One
// client connection is opened per Run and shared for the whole run.
type Service struct {
	apiID       int
	apiHash     string
	sessionPath string
	logger      *zap.Logger

	throttleMu    sync.Mutex
	lastHistoryAt time.Time
}

func NewService(apiID int, apiHash, sessionPath string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		apiID:       apiID,
		apiHash:     apiHash,
		sessionPath: sessionPath,
		logger:      logger,
	}
}

// Channel is a resolved download source.
type Channel struct {
	ID    int64
	Title string
	peer  tg.InputPeerClass
}

// Session is a live authorized connection, valid only inside Run.
type Session struct {
	svc *Service
	api *tg.Client
}

// Run connects, checks authorization and hands an open session to fn.
// The connection is closed when fn returns.
func (s *Service) Run(ctx context.Context, fn func(context.Context, *Session) error) error {
	return s.withClient(ctx, func(runCtx context.Context, client *tdtelegram.Client) error {
		status, err := client.Auth().Status(runCtx)
		if err != nil {
			return err
		}
		if !status.Authorized {
			return ErrUnauthorized
		}
		return fn(runCtx, &Session{svc: s, api: client.API()})
	})
}

func (s *Service) withClient(ctx context.Context, fn func(context.Context, *tdtelegram.Client) error) error {
	return s.withClientUsingOptions(ctx, tdtelegram.Options{
		SessionStorage: &fileSessionStorage{path: s.sessionPath},
		Logger:         s.logger,
	}, fn)
}

func (s *Service) withClientUsingOptions(ctx context.Context, opts tdtelegram.Options, fn func(context.Context, *tdtelegram.Client) error) error {
	client := tdtelegram.NewClient(s.apiID, s.apiHash, opts)
	return client.Run(ctx, func(runCtx context.Context) error {
		return fn(runCtx, client)
	})
}

// ResolveChannel turns a config channel reference into a usable peer.
// Handles ("@name" or "name") resolve by username; numeric references
// (bare or client-style "-100…" IDs) are matched against the dialog
// list.
func (sess *Session) ResolveChannel(ctx context.Context, ref string) (Channel, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Channel{}, fmt.Errorf("%w: empty channel reference", ErrChannelNotFound)
	}

	if id, ok := parseChannelID(ref); ok {
		return sess.resolveByID(ctx, id)
	}
	return sess.resolveByUsername(ctx, strings.TrimPrefix(ref, "@"))
}

func parseChannelID(ref string) (int64, bool) {
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return 0, false
	}
	// Clients show channels as -100<id>.
	if id < 0 {
		s := strconv.FormatInt(-id, 10)
		if trimmed, ok := strings.CutPrefix(s, "100"); ok {
			if bare, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
				return bare, true
			}
		}
		return -id, true
	}
	return id, true
}

func (sess *Session) resolveByUsername(ctx context.Context, username string) (Channel, error) {
	resolved, err := sess.api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{
		Username: username,
	})
	if err != nil {
		return Channel{}, fmt.Errorf("resolve @%s: %w", username, err)
	}
	for _, chatClass := range resolved.Chats {
		channel, ok := chatClass.(*tg.Channel)
		if !ok || channel == nil {
			continue
		}
		return Channel{
			ID:    channel.ID,
			Title: channel.Title,
			peer: &tg.InputPeerChannel{
				ChannelID:  channel.ID,
				AccessHash: channel.AccessHash,
			},
		}, nil
	}
	return Channel{}, fmt.Errorf("@%s: %w", username, ErrChannelNotFound)
}

func (sess *Session) resolveByID(ctx context.Context, id int64) (Channel, error) {
	var found Channel
	q := query.GetDialogs(sess.api).BatchSize(100)
	err := q.ForEach(ctx, func(_ context.Context, elem dialogs.Elem) error {
		peer, ok := elem.Dialog.GetPeer().(*tg.PeerChannel)
		if !ok || peer.ChannelID != id {
			return nil
		}
		channel, ok := elem.Entities.Channel(id)
		if !ok || channel == nil {
			return nil
		}
		found = Channel{
			ID:    channel.ID,
			Title: channel.Title,
			peer: &tg.InputPeerChannel{
				ChannelID:  channel.ID,
				AccessHash: channel.AccessHash,
			},
		}
		return errStop
	})
	if err != nil && !errors.Is(err, errStop) {
		return Channel{}, err
	}
	if found.peer == nil {
		return Channel{}, fmt.Errorf("channel %d: %w", id, ErrChannelNotFound)
	}
	return found, nil
}

var errStop = errors.New("stop iteration")

// waitHistoryThrottle spaces history requests out so channel scans stay
// under Telegram's rate limits.
func (s *Service) waitHistoryThrottle(ctx context.Context) error {
	for {
		s.throttleMu.Lock()
		now := time.Now()
		since := now.Sub(s.lastHistoryAt)
		if since >= historyMinInterval {
			s.lastHistoryAt = now
			s.throttleMu.Unlock()
			return nil
		}
		wait := historyMinInterval - since
		s.throttleMu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
