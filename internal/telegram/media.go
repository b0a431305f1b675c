package telegram

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/gotd/td/tg"

	"tgmusic/internal/domain"
)

// extractMedia derives a media descriptor from a channel message. Only
// document media counts; photos, polls and plain text yield false.
func extractMedia(channelID int64, msg *tg.Message) (domain.Media, bool) {
	if msg == nil || msg.Media == nil {
		return domain.Media{}, false
	}
	mediaDoc, ok := msg.Media.(*tg.MessageMediaDocument)
	if !ok || mediaDoc.Document == nil {
		return domain.Media{}, false
	}
	doc, ok := mediaDoc.Document.(*tg.Document)
	if !ok || doc == nil {
		return domain.Media{}, false
	}

	mime := strings.TrimSpace(doc.MimeType)
	kind := domain.KindDocument
	if strings.HasPrefix(mime, "audio/") {
		kind = domain.KindAudio
	}

	audio := audioMeta(doc.Attributes)
	name := documentFilename(doc.Attributes)
	if name == "" && audio != nil && audio.Title != "" {
		name = audio.Title + "." + extensionForMime(mime)
	}
	if name == "" {
		name = fmt.Sprintf("file_%d.%s", msg.ID, extensionForMime(mime))
	}

	return domain.Media{
		Key:           domain.Key{ChannelID: channelID, MessageID: int64(msg.ID)},
		Kind:          kind,
		FileName:      name,
		Extension:     strings.ToLower(path.Ext(name)),
		Size:          doc.Size,
		MimeType:      mime,
		Date:          time.Unix(int64(msg.Date), 0).UTC(),
		Audio:         audio,
		DocumentID:    doc.ID,
		AccessHash:    doc.AccessHash,
		FileReference: doc.FileReference,
	}, true
}

func documentFilename(attrs []tg.DocumentAttributeClass) string {
	for _, attr := range attrs {
		if named, ok := attr.(*tg.DocumentAttributeFilename); ok && named != nil {
			return strings.TrimSpace(named.FileName)
		}
	}
	return ""
}

func audioMeta(attrs []tg.DocumentAttributeClass) *domain.AudioMeta {
	for _, attr := range attrs {
		if audio, ok := attr.(*tg.DocumentAttributeAudio); ok && audio != nil {
			return &domain.AudioMeta{
				Title:     strings.TrimSpace(audio.Title),
				Performer: strings.TrimSpace(audio.Performer),
				Duration:  audio.Duration,
			}
		}
	}
	return nil
}

var mimeExtensions = map[string]string{
	"audio/flac":   "flac",
	"audio/wav":    "wav",
	"audio/x-wav":  "wav",
	"audio/aiff":   "aiff",
	"audio/x-aiff": "aiff",
	"audio/mp4":    "m4a",
	"audio/m4a":    "m4a",
	"audio/x-m4a":  "m4a",
	"audio/mpeg":   "mp3",
	"audio/mp3":    "mp3",
	"audio/ogg":    "ogg",
}

func extensionForMime(mime string) string {
	if ext, ok := mimeExtensions[strings.ToLower(mime)]; ok {
		return ext
	}
	return "bin"
}
