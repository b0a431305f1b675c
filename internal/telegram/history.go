package telegram

import (
	"context"
	"errors"
	"time"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"

	"tgmusic/internal/domain"
)

// ErrStopIteration may be returned from a ForEachMedia callback to end
// the scan early without an error.
var ErrStopIteration = errors.New("stop message iteration")

// ForEachMedia walks the channel history newest to oldest and calls fn
// for every document-bearing message. When stopBefore is non-zero the
// walk ends as soon as messages get older than it, since history only
// grows older page by page.
func (sess *Session) ForEachMedia(ctx context.Context, ch Channel, stopBefore time.Time, fn func(domain.Media) error) error {
	offsetID := 0
	for {
		page, err := sess.historyPage(ctx, ch, offsetID)
		if err != nil {
			return err
		}
		modified, ok := page.AsModified()
		if !ok {
			return nil
		}
		pageMessages := modified.GetMessages()
		if len(pageMessages) == 0 {
			return nil
		}

		pageMinID := 0
		for _, msgClass := range pageMessages {
			msg, ok := msgClass.(*tg.Message)
			if !ok || msg == nil {
				continue
			}
			if msg.ID > 0 && (pageMinID == 0 || msg.ID < pageMinID) {
				pageMinID = msg.ID
			}
			if !stopBefore.IsZero() && time.Unix(int64(msg.Date), 0).Before(stopBefore) {
				return nil
			}
			media, ok := extractMedia(ch.ID, msg)
			if !ok {
				continue
			}
			if err := fn(media); err != nil {
				if errors.Is(err, ErrStopIteration) {
					return nil
				}
				return err
			}
		}

		if pageMinID <= 0 || pageMinID == offsetID || len(pageMessages) < historyBatchSize {
			return nil
		}
		offsetID = pageMinID
	}
}

// historyPage fetches one page, retrying after flood waits up to the
// cap.
func (sess *Session) historyPage(ctx context.Context, ch Channel, offsetID int) (tg.MessagesMessagesClass, error) {
	for {
		if err := sess.svc.waitHistoryThrottle(ctx); err != nil {
			return nil, err
		}
		page, err := sess.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     ch.peer,
			OffsetID: offsetID,
			Limit:    historyBatchSize,
		})
		if err == nil {
			return page, nil
		}
		wait, isFlood := tgerr.AsFloodWait(err)
		if !isFlood {
			return nil, err
		}
		if wait > maxFloodWait {
			return nil, err
		}
		sess.svc.logger.Info("flood wait on history page",
			zap.Int64("channel", ch.ID), zap.Duration("wait", wait))
		timer := time.NewTimer(wait + time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
