package filter

import (
	"testing"
	"time"

	"tgmusic/internal/config"
	"tgmusic/internal/domain"
)

func audioMedia(name string, sizeMB float64) domain.Media {
	return domain.Media{
		Key:       domain.Key{ChannelID: 1, MessageID: 10},
		Kind:      domain.KindAudio,
		FileName:  name,
		Extension: extOf(name),
		Size:      int64(sizeMB * 1024 * 1024),
		Date:      time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC),
	}
}

func extOf(name string) string {
	if i := lastDot(name); i >= 0 {
		return name[i:]
	}
	return ""
}

func lastDot(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}

func TestEvaluate(t *testing.T) {
	mb := int64(1024 * 1024)

	tests := []struct {
		name    string
		media   domain.Media
		filters config.Filters
		want    bool
		reason  Reason
	}{
		{
			name:    "no criteria passes everything",
			media:   audioMedia("track.mp3", 4),
			filters: config.Filters{},
			want:    true,
		},
		{
			name:    "kind allowed",
			media:   audioMedia("track.mp3", 4),
			filters: config.Filters{Kinds: []domain.MediaKind{domain.KindAudio}},
			want:    true,
		},
		{
			name: "kind rejected",
			media: domain.Media{
				Kind: domain.KindDocument, FileName: "paper.pdf", Extension: ".pdf", Size: 2 * mb,
				Date: time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC),
			},
			filters: config.Filters{Kinds: []domain.MediaKind{domain.KindAudio}},
			want:    false,
			reason:  RejectKind,
		},
		{
			name:    "extension case insensitive",
			media:   audioMedia("TRACK.MP3", 4),
			filters: config.Filters{Extensions: []string{".mp3"}},
			want:    true,
		},
		{
			name:    "extension rejected",
			media:   audioMedia("track.flac", 4),
			filters: config.Filters{Extensions: []string{".mp3"}},
			want:    false,
			reason:  RejectExt,
		},
		{
			name: "missing extension rejected when extension filter active",
			media: domain.Media{
				Kind: domain.KindAudio, FileName: "track", Size: 4 * mb,
				Date: time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC),
			},
			filters: config.Filters{Extensions: []string{".mp3"}},
			want:    false,
			reason:  RejectExt,
		},
		{
			name: "missing extension allowed when no extension filter",
			media: domain.Media{
				Kind: domain.KindAudio, FileName: "track", Size: 4 * mb,
			},
			filters: config.Filters{},
			want:    true,
		},
		{
			name:    "size below minimum",
			media:   audioMedia("track.mp3", 1),
			filters: config.Filters{MinSize: 2 * mb},
			want:    false,
			reason:  RejectSize,
		},
		{
			name:    "size at inclusive maximum",
			media:   audioMedia("track.mp3", 10),
			filters: config.Filters{MaxSize: 10 * mb},
			want:    true,
		},
		{
			name:    "size above maximum",
			media:   audioMedia("track.mp3", 40),
			filters: config.Filters{MaxSize: 10 * mb},
			want:    false,
			reason:  RejectSize,
		},
		{
			name: "unknown size rejected when size filter active",
			media: domain.Media{
				Kind: domain.KindAudio, FileName: "track.mp3", Extension: ".mp3",
			},
			filters: config.Filters{MaxSize: 10 * mb},
			want:    false,
			reason:  RejectSize,
		},
		{
			name:  "date inside range",
			media: audioMedia("track.mp3", 4),
			filters: config.Filters{
				DateFrom: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
				DateTo:   time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
			},
			want: true,
		},
		{
			name:  "date on inclusive from bound",
			media: audioMedia("track.mp3", 4),
			filters: config.Filters{
				DateFrom: time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC),
			},
			want: true,
		},
		{
			name:  "date before range",
			media: audioMedia("track.mp3", 4),
			filters: config.Filters{
				DateFrom: time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
			},
			want:   false,
			reason: RejectDate,
		},
		{
			name: "missing date rejected when date filter active",
			media: domain.Media{
				Kind: domain.KindAudio, FileName: "track.mp3", Extension: ".mp3", Size: 4 * mb,
			},
			filters: config.Filters{DateTo: time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)},
			want:    false,
			reason:  RejectDate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, got := Evaluate(tt.media, tt.filters)
			if got != tt.want {
				t.Fatalf("Evaluate() = %v, want %v (reason %q)", got, tt.want, reason)
			}
			if !tt.want && reason != tt.reason {
				t.Errorf("reason = %q, want %q", reason, tt.reason)
			}
		})
	}
}

// The reference scenario: audio .mp3 under 10 MB passes, a document and
// an oversized .flac do not.
func TestMatchScenario(t *testing.T) {
	filters := config.Filters{
		Kinds:      []domain.MediaKind{domain.KindAudio},
		Extensions: []string{".mp3"},
		MaxSize:    10 * 1024 * 1024,
	}

	mp3 := audioMedia("song.mp3", 4)
	pdf := domain.Media{Kind: domain.KindDocument, FileName: "doc.pdf", Extension: ".pdf", Size: 2 * 1024 * 1024}
	flac := audioMedia("song.flac", 40)

	if !Match(mp3, filters) {
		t.Error("4 MB mp3 should pass")
	}
	if Match(pdf, filters) {
		t.Error("pdf document should be rejected")
	}
	if Match(flac, filters) {
		t.Error("40 MB flac should be rejected")
	}
}

// Match is pure: the same inputs always produce the same answer.
func TestMatchDeterministic(t *testing.T) {
	m := audioMedia("track.mp3", 4)
	f := config.Filters{Kinds: []domain.MediaKind{domain.KindAudio}, MaxSize: 10 * 1024 * 1024}
	first := Match(m, f)
	for i := 0; i < 100; i++ {
		if Match(m, f) != first {
			t.Fatal("Match is not deterministic")
		}
	}
}
