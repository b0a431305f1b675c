package telegram

import (
	"context"
	"errors"
	"io"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"

	"tgmusic/internal/domain"
)

// DownloadTo streams the document behind m into w. File references
// expire server-side; on a reference error the message is re-fetched
// once to refresh it. Any failure is a *TransferError.
func (sess *Session) DownloadTo(ctx context.Context, ch Channel, m domain.Media, w io.Writer) error {
	err := sess.streamDocument(ctx, m.DocumentID, m.AccessHash, m.FileReference, w)
	if err == nil {
		return nil
	}
	if !isFileReferenceError(err) {
		return &TransferError{Key: m.Key, Err: err}
	}

	sess.svc.logger.Debug("file reference expired, refreshing",
		zap.Int64("channel", m.Key.ChannelID), zap.Int64("msg", m.Key.MessageID))
	fresh, refreshErr := sess.refreshMedia(ctx, ch, m)
	if refreshErr != nil {
		return &TransferError{Key: m.Key, Err: errors.Join(err, refreshErr)}
	}
	if err := sess.streamDocument(ctx, fresh.DocumentID, fresh.AccessHash, fresh.FileReference, w); err != nil {
		return &TransferError{Key: m.Key, Err: err}
	}
	return nil
}

func (sess *Session) streamDocument(ctx context.Context, id, accessHash int64, fileReference []byte, w io.Writer) error {
	location := &tg.InputDocumentFileLocation{
		ID:            id,
		AccessHash:    accessHash,
		FileReference: fileReference,
	}
	d := downloader.NewDownloader()
	_, err := d.Download(sess.api, location).Stream(ctx, w)
	return err
}

// refreshMedia re-fetches the message to obtain a fresh file reference.
func (sess *Session) refreshMedia(ctx context.Context, ch Channel, m domain.Media) (domain.Media, error) {
	peer, ok := ch.peer.(*tg.InputPeerChannel)
	if !ok {
		return domain.Media{}, errors.New("channel peer is not resolved")
	}
	resp, err := sess.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
		Channel: &tg.InputChannel{
			ChannelID:  peer.ChannelID,
			AccessHash: peer.AccessHash,
		},
		ID: []tg.InputMessageClass{&tg.InputMessageID{ID: int(m.Key.MessageID)}},
	})
	if err != nil {
		return domain.Media{}, err
	}
	modified, ok := resp.AsModified()
	if !ok {
		return domain.Media{}, errors.New("unexpected get messages response")
	}
	for _, msgClass := range modified.GetMessages() {
		msg, ok := msgClass.(*tg.Message)
		if !ok || int64(msg.ID) != m.Key.MessageID {
			continue
		}
		fresh, ok := extractMedia(ch.ID, msg)
		if !ok {
			break
		}
		return fresh, nil
	}
	return domain.Media{}, errors.New("message no longer carries media")
}

func isFileReferenceError(err error) bool {
	var rpcErr *tgerr.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.IsOneOf("FILE_REFERENCE_EXPIRED", "FILE_REFERENCE_INVALID", "FILE_REFERENCE_EMPTY")
	}
	return false
}
