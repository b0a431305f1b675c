package downloader

import (
	"strings"
	"testing"
	"time"

	"tgmusic/internal/domain"
)

func namedMedia() domain.Media {
	return domain.Media{
		Key:       domain.Key{ChannelID: 42, MessageID: 1001},
		Kind:      domain.KindAudio,
		FileName:  "Band - Song.mp3",
		Extension: ".mp3",
		Size:      7340032,
		MimeType:  "audio/mpeg",
		Date:      time.Date(2024, 6, 15, 12, 30, 0, 0, time.UTC),
		Audio:     &domain.AudioMeta{Title: "Song", Performer: "Band", Duration: 205},
	}
}

func TestBuildFileName(t *testing.T) {
	now := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{
			name:     "default template",
			template: "{original_name}_{message_id}",
			want:     "Band - Song_1001.mp3",
		},
		{
			name:     "all message placeholders",
			template: "{channel_id}_{message_id}_{publish_date}",
			want:     "42_1001_20240615_123000.mp3",
		},
		{
			name:     "audio placeholders",
			template: "{artist} - {title} ({duration}s) {message_id}",
			want:     "Band - Song (205s) 1001.mp3",
		},
		{
			name:     "download date and size",
			template: "{download_date}_{file_size}_{message_id}",
			want:     "20240701_090000_7340032_1001.mp3",
		},
		{
			name:     "mime type slash replaced",
			template: "{mime_type}_{message_id}",
			want:     "audio_mpeg_1001.mp3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildFileName(namedMedia(), tt.template, "20060102_150405", now)
			if got != tt.want {
				t.Errorf("buildFileName = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildFileNameMissingValues(t *testing.T) {
	m := domain.Media{
		Key:       domain.Key{ChannelID: 1, MessageID: 2},
		FileName:  "file.bin",
		Extension: ".bin",
	}
	got := buildFileName(m, "{artist}_{publish_date}_{message_id}", "20060102", time.Now())
	// Empty placeholder values leave their separators behind but never
	// break the name.
	if !strings.HasSuffix(got, "_2.bin") {
		t.Errorf("buildFileName = %q", got)
	}
}

func TestBuildFileNameEmptyFallback(t *testing.T) {
	m := domain.Media{Extension: ".mp3"}
	if got := buildFileName(m, "{artist}", "20060102", time.Now()); got != "unnamed.mp3" {
		t.Errorf("buildFileName on empty expansion = %q, want %q", got, "unnamed.mp3")
	}
}

func TestBuildFileNameTruncates(t *testing.T) {
	m := namedMedia()
	m.FileName = strings.Repeat("a", 300) + ".mp3"
	m.Extension = ".mp3"

	got := buildFileName(m, "{original_name}_{message_id}", "20060102", time.Now())
	if len(got) > 255 {
		t.Errorf("name is %d bytes, want <= 255", len(got))
	}
	if !strings.HasSuffix(got, ".mp3") {
		t.Errorf("extension lost in truncation: %q", got)
	}
}

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`a<b>c:d"e/f\g|h?i*j`, "a_b_c_d_e_f_g_h_i_j"},
		{"name\x00with\x1fcontrols", "namewithcontrols"},
		{"  spaced  ", "spaced"},
		{"trailing dots...", "trailing dots"},
		{"", ""},
		{"...", ""},
		{"Кириллица и 日本語", "Кириллица и 日本語"},
	}
	for _, tt := range tests {
		if got := sanitizeFileName(tt.in); got != tt.want {
			t.Errorf("sanitizeFileName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
