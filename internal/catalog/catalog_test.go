package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"tgmusic/internal/domain"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func sampleRecord(msgID int64, size int64, downloadedAt time.Time) Record {
	return Record{
		Key:          domain.Key{ChannelID: 100, MessageID: msgID},
		FileName:     "track.mp3",
		Path:         "/music/track.mp3",
		Size:         size,
		MimeType:     "audio/mpeg",
		SHA256:       "deadbeef",
		PublishedAt:  time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		DownloadedAt: downloadedAt,
	}
}

func TestAddAndListRecent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	base := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	older := sampleRecord(1, 100, base)
	newer := sampleRecord(2, 200, base.Add(time.Hour))
	for _, rec := range []Record{older, newer} {
		if err := s.Add(ctx, rec); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	got, err := s.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	want := []Record{newer, older}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ListRecent mismatch (-want +got):\n%s", diff)
	}
}

func TestAddUpserts(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	rec := sampleRecord(1, 100, time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC))
	if err := s.Add(ctx, rec); err != nil {
		t.Fatalf("Add: %v", err)
	}
	rec.Size = 999
	rec.Path = "/music/renamed.mp3"
	if err := s.Add(ctx, rec); err != nil {
		t.Fatalf("Add again: %v", err)
	}

	got, err := s.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
	if got[0].Size != 999 || got[0].Path != "/music/renamed.mp3" {
		t.Errorf("upsert did not replace fields: %+v", got[0])
	}
}

func TestStats(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Files != 0 || st.TotalBytes != 0 {
		t.Errorf("empty stats = %+v", st)
	}

	now := time.Now().UTC().Truncate(time.Second)
	for i, size := range []int64{100, 250} {
		if err := s.Add(ctx, sampleRecord(int64(i+1), size, now)); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	st, err = s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Files != 2 || st.TotalBytes != 350 {
		t.Errorf("stats = %+v, want 2 files, 350 bytes", st)
	}
}

func TestCleanupMissing(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	dir := t.TempDir()

	present := filepath.Join(dir, "kept.mp3")
	if err := os.WriteFile(present, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	keep := sampleRecord(1, 1, now)
	keep.Path = present
	gone := sampleRecord(2, 1, now)
	gone.Path = filepath.Join(dir, "deleted.mp3")
	for _, rec := range []Record{keep, gone} {
		if err := s.Add(ctx, rec); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	removed, err := s.CleanupMissing(ctx)
	if err != nil {
		t.Fatalf("CleanupMissing: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	got, err := s.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(got) != 1 || got[0].Key.MessageID != 1 {
		t.Errorf("remaining records = %+v, want only message 1", got)
	}
}

func TestOpenCreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "catalog.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(dbPath)); err != nil {
		t.Errorf("parent directory not created: %v", err)
	}
}
