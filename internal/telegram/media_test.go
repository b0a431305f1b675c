package telegram

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gotd/td/tg"

	"tgmusic/internal/domain"
)

func documentMessage(id int, doc *tg.Document) *tg.Message {
	return &tg.Message{
		ID:    id,
		Date:  int(time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC).Unix()),
		Media: &tg.MessageMediaDocument{Document: doc},
	}
}

func TestExtractMediaAudio(t *testing.T) {
	doc := &tg.Document{
		ID:            111,
		AccessHash:    222,
		FileReference: []byte{1, 2, 3},
		MimeType:      "audio/mpeg",
		Size:          4 << 20,
		Attributes: []tg.DocumentAttributeClass{
			&tg.DocumentAttributeFilename{FileName: "Band - Song.mp3"},
			&tg.DocumentAttributeAudio{Title: "Song", Performer: "Band", Duration: 215},
		},
	}

	got, ok := extractMedia(100, documentMessage(7, doc))
	if !ok {
		t.Fatal("extractMedia returned false for audio document")
	}

	want := domain.Media{
		Key:           domain.Key{ChannelID: 100, MessageID: 7},
		Kind:          domain.KindAudio,
		FileName:      "Band - Song.mp3",
		Extension:     ".mp3",
		Size:          4 << 20,
		MimeType:      "audio/mpeg",
		Date:          time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC),
		Audio:         &domain.AudioMeta{Title: "Song", Performer: "Band", Duration: 215},
		DocumentID:    111,
		AccessHash:    222,
		FileReference: []byte{1, 2, 3},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("media mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractMediaNameFallbacks(t *testing.T) {
	tests := []struct {
		name     string
		doc      *tg.Document
		wantName string
		wantExt  string
	}{
		{
			name: "audio title when filename missing",
			doc: &tg.Document{
				MimeType: "audio/flac",
				Attributes: []tg.DocumentAttributeClass{
					&tg.DocumentAttributeAudio{Title: "Untagged Song"},
				},
			},
			wantName: "Untagged Song.flac",
			wantExt:  ".flac",
		},
		{
			name:     "synthetic name when nothing else",
			doc:      &tg.Document{MimeType: "audio/ogg"},
			wantName: "file_7.ogg",
			wantExt:  ".ogg",
		},
		{
			name:     "unknown mime falls back to bin",
			doc:      &tg.Document{MimeType: "application/octet-stream"},
			wantName: "file_7.bin",
			wantExt:  ".bin",
		},
		{
			name: "uppercase filename keeps case but lowercases extension",
			doc: &tg.Document{
				MimeType: "audio/mpeg",
				Attributes: []tg.DocumentAttributeClass{
					&tg.DocumentAttributeFilename{FileName: "TRACK.MP3"},
				},
			},
			wantName: "TRACK.MP3",
			wantExt:  ".mp3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractMedia(100, documentMessage(7, tt.doc))
			if !ok {
				t.Fatal("extractMedia returned false")
			}
			if got.FileName != tt.wantName {
				t.Errorf("FileName = %q, want %q", got.FileName, tt.wantName)
			}
			if got.Extension != tt.wantExt {
				t.Errorf("Extension = %q, want %q", got.Extension, tt.wantExt)
			}
		})
	}
}

func TestExtractMediaKinds(t *testing.T) {
	audio, _ := extractMedia(1, documentMessage(1, &tg.Document{MimeType: "audio/mpeg"}))
	if audio.Kind != domain.KindAudio {
		t.Errorf("audio/mpeg kind = %q", audio.Kind)
	}
	pdf, _ := extractMedia(1, documentMessage(2, &tg.Document{MimeType: "application/pdf"}))
	if pdf.Kind != domain.KindDocument {
		t.Errorf("application/pdf kind = %q", pdf.Kind)
	}
}

func TestExtractMediaNonDocument(t *testing.T) {
	tests := []struct {
		name string
		msg  *tg.Message
	}{
		{"nil message", nil},
		{"plain text", &tg.Message{ID: 1, Message: "hello"}},
		{"photo", &tg.Message{ID: 1, Media: &tg.MessageMediaPhoto{}}},
		{"empty document", &tg.Message{ID: 1, Media: &tg.MessageMediaDocument{Document: &tg.DocumentEmpty{}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := extractMedia(1, tt.msg); ok {
				t.Error("extractMedia returned true")
			}
		})
	}
}

func TestParseChannelID(t *testing.T) {
	tests := []struct {
		in     string
		wantID int64
		wantOK bool
	}{
		{"@channel", 0, false},
		{"channel_name", 0, false},
		{"123456", 123456, true},
		{"-1001234567890", 1234567890, true},
		{"-42", 42, true},
	}
	for _, tt := range tests {
		id, ok := parseChannelID(tt.in)
		if ok != tt.wantOK || id != tt.wantID {
			t.Errorf("parseChannelID(%q) = (%d, %v), want (%d, %v)", tt.in, id, ok, tt.wantID, tt.wantOK)
		}
	}
}
