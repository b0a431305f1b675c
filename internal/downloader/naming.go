package downloader

import (
	"strconv"
	"strings"
	"time"

	"tgmusic/internal/domain"
)

const maxFileNameLen = 255

// buildFileName expands the naming template for one descriptor and
// appends the original extension. The result is deterministic for a
// given message because the template always contains {message_id}.
func buildFileName(m domain.Media, template, dateFormat string, now time.Time) string {
	stem := strings.TrimSuffix(m.FileName, m.Extension)

	publishDate := ""
	if !m.Date.IsZero() {
		publishDate = m.Date.UTC().Format(dateFormat)
	}

	artist, title, duration := "", "", 0
	if m.Audio != nil {
		artist = m.Audio.Performer
		title = m.Audio.Title
		duration = m.Audio.Duration
	}

	replacer := strings.NewReplacer(
		"{original_name}", sanitizeFileName(stem),
		"{message_id}", strconv.FormatInt(m.Key.MessageID, 10),
		"{channel_id}", strconv.FormatInt(m.Key.ChannelID, 10),
		"{publish_date}", publishDate,
		"{download_date}", now.UTC().Format(dateFormat),
		"{file_size}", strconv.FormatInt(m.Size, 10),
		"{mime_type}", strings.ReplaceAll(m.MimeType, "/", "_"),
		"{artist}", sanitizeFileName(artist),
		"{title}", sanitizeFileName(title),
		"{duration}", strconv.Itoa(duration),
	)

	name := sanitizeFileName(replacer.Replace(template))
	if name == "" {
		name = "unnamed"
	}
	name += m.Extension
	if len(name) > maxFileNameLen {
		keep := maxFileNameLen - len(m.Extension)
		name = name[:keep] + m.Extension
	}
	return name
}

// sanitizeFileName strips characters that are invalid on common
// filesystems and control characters, then trims stray dots and spaces.
func sanitizeFileName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 32:
		case strings.ContainsRune(`<>:"/\|?*`, r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), " .")
}
