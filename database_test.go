package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	old := DB
	if err := InitDatabase(context.Background(), filepath.Join(t.TempDir(), "test.db")); err != nil {
		t.Fatalf("init database: %v", err)
	}
	db := DB
	t.Cleanup(func() {
		_ = db.Close()
		DB = old
	})
}

func TestAnnotationOrdering(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	guildID := snowflake.ID(10)
	trackURL := "https://example.com/order"

	offsets := []int64{5000, 1000, 1000, 3000}
	for _, off := range offsets {
		rec := &CommentRecord{TrackURL: trackURL, GuildID: guildID, AuthorID: snowflake.ID(1), Content: "c", OffsetMs: off}
		if err := SaveComment(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	comments, err := GetComments(ctx, trackURL, guildID)
	if err != nil {
		t.Fatal(err)
	}
	if len(comments) != 4 {
		t.Fatalf("got %d comments, want 4", len(comments))
	}
	want := []int64{1000, 1000, 3000, 5000}
	for i, w := range want {
		if comments[i].OffsetMs != w {
			t.Errorf("comment %d offset = %d, want %d", i, comments[i].OffsetMs, w)
		}
	}
	// Equal offsets keep insertion order via the id tiebreak.
	if comments[0].ID > comments[1].ID {
		t.Error("equal-offset comments should be ordered by id")
	}
}

func TestSaveCommentRejectsNegativeOffset(t *testing.T) {
	setupTestDB(t)
	rec := &CommentRecord{TrackURL: "https://example.com/x", GuildID: snowflake.ID(1), AuthorID: snowflake.ID(2), Content: "c", OffsetMs: -1}
	if err := SaveComment(context.Background(), rec); err == nil {
		t.Error("negative comment offset should be rejected")
	}
	r := &ReactionRecord{TrackURL: "https://example.com/x", GuildID: snowflake.ID(1), AuthorID: snowflake.ID(2), Emoji: "🔥", OffsetMs: -5}
	if err := SaveReaction(context.Background(), r); err == nil {
		t.Error("negative reaction offset should be rejected")
	}
}

func TestSaveBackfillsID(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	rec := &CommentRecord{TrackURL: "https://example.com/x", GuildID: snowflake.ID(1), AuthorID: snowflake.ID(2), Content: "hello", OffsetMs: 0}
	if err := SaveComment(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if rec.ID == 0 {
		t.Error("SaveComment should back-fill the row id")
	}

	r := &ReactionRecord{TrackURL: "https://example.com/x", GuildID: snowflake.ID(1), AuthorID: snowflake.ID(2), Emoji: "🔥", OffsetMs: 0}
	if err := SaveReaction(ctx, r); err != nil {
		t.Fatal(err)
	}
	if r.ID == 0 {
		t.Error("SaveReaction should back-fill the row id")
	}
}

func TestCommentRoundTrip(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	guildID := snowflake.ID(123456789012345678)
	authorID := snowflake.ID(876543210987654321)

	rec := &CommentRecord{
		TrackURL:   "https://example.com/rt",
		GuildID:    guildID,
		AuthorID:   authorID,
		AuthorName: "alice",
		Content:    "full text stays intact no matter how it renders",
		OffsetMs:   4200,
	}
	if err := SaveComment(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, err := GetComments(ctx, rec.TrackURL, guildID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d comments, want 1", len(got))
	}
	c := got[0]
	if c.GuildID != guildID || c.AuthorID != authorID || c.AuthorName != "alice" || c.Content != rec.Content || c.OffsetMs != 4200 {
		t.Errorf("round trip mismatch: %+v", c)
	}
	if c.CreatedAt.IsZero() {
		t.Error("created_at should be populated")
	}
}

func TestGetAnnotationCounts(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	guildID := snowflake.ID(10)
	trackURL := "https://example.com/counts"

	for i := 0; i < 3; i++ {
		if err := SaveComment(ctx, &CommentRecord{TrackURL: trackURL, GuildID: guildID, AuthorID: snowflake.ID(1), Content: "c", OffsetMs: int64(i)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := SaveReaction(ctx, &ReactionRecord{TrackURL: trackURL, GuildID: guildID, AuthorID: snowflake.ID(1), Emoji: "🔥", OffsetMs: 0}); err != nil {
		t.Fatal(err)
	}
	// A different track must not bleed into the counts.
	if err := SaveComment(ctx, &CommentRecord{TrackURL: "https://example.com/other", GuildID: guildID, AuthorID: snowflake.ID(1), Content: "c", OffsetMs: 0}); err != nil {
		t.Fatal(err)
	}

	comments, reactions, err := GetAnnotationCounts(ctx, trackURL, guildID)
	if err != nil {
		t.Fatal(err)
	}
	if comments != 3 || reactions != 1 {
		t.Errorf("counts = (%d, %d), want (3, 1)", comments, reactions)
	}
}

func TestClearAnnotationsTrackFilter(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	guildID := snowflake.ID(10)

	for _, track := range []string{"https://example.com/a", "https://example.com/b"} {
		if err := SaveComment(ctx, &CommentRecord{TrackURL: track, GuildID: guildID, AuthorID: snowflake.ID(1), Content: "c", OffsetMs: 0}); err != nil {
			t.Fatal(err)
		}
		if err := SaveReaction(ctx, &ReactionRecord{TrackURL: track, GuildID: guildID, AuthorID: snowflake.ID(1), Emoji: "🔥", OffsetMs: 0}); err != nil {
			t.Fatal(err)
		}
	}

	n, err := ClearAnnotations(ctx, "https://example.com/a", guildID, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("cleared %d rows, want 2", n)
	}

	remaining, _ := GetComments(ctx, "https://example.com/b", guildID)
	if len(remaining) != 1 {
		t.Error("other track's annotations must survive a filtered clear")
	}
}

func TestClearAnnotationsBeforeCutoff(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	guildID := snowflake.ID(10)
	trackURL := "https://example.com/cutoff"

	if err := SaveComment(ctx, &CommentRecord{TrackURL: trackURL, GuildID: guildID, AuthorID: snowflake.ID(1), Content: "c", OffsetMs: 0}); err != nil {
		t.Fatal(err)
	}

	n, err := ClearAnnotations(ctx, "", guildID, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("cutoff in the past deleted %d rows, want 0", n)
	}

	n, err = ClearAnnotations(ctx, "", guildID, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("cutoff in the future deleted %d rows, want 1", n)
	}
}

func TestBotConfigNilDBGuards(t *testing.T) {
	old := DB
	DB = nil
	t.Cleanup(func() { DB = old })

	v, err := GetBotConfig(context.Background(), "anything")
	if v != "" || err != nil {
		t.Errorf("GetBotConfig without a database = (%q, %v), want empty no-op", v, err)
	}
	if err := SetBotConfig(context.Background(), "k", "v"); err != nil {
		t.Errorf("SetBotConfig without a database should no-op, got %v", err)
	}
}

func TestBotConfigUpsert(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	if err := SetBotConfig(ctx, "mode", "first"); err != nil {
		t.Fatal(err)
	}
	if err := SetBotConfig(ctx, "mode", "second"); err != nil {
		t.Fatal(err)
	}

	v, err := GetBotConfig(ctx, "mode")
	if err != nil {
		t.Fatal(err)
	}
	if v != "second" {
		t.Errorf("GetBotConfig = %q, want second", v)
	}

	missing, err := GetBotConfig(ctx, "nope")
	if missing != "" || err != nil {
		t.Errorf("missing key = (%q, %v), want empty", missing, err)
	}
}

func TestRecordPlayAndTopPlays(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	guildID := snowflake.ID(10)
	userID := snowflake.ID(20)

	for i := 0; i < 3; i++ {
		if err := RecordPlay(ctx, "https://example.com/hit", "Hit Song", userID, "alice", guildID); err != nil {
			t.Fatal(err)
		}
	}
	if err := RecordPlay(ctx, "https://example.com/other", "Other Song", userID, "alice", guildID); err != nil {
		t.Fatal(err)
	}

	stats, err := GetTopPlays(ctx, guildID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 2 {
		t.Fatalf("got %d stats, want 2", len(stats))
	}
	if stats[0].TrackURL != "https://example.com/hit" || stats[0].Count != 3 {
		t.Errorf("top play = %+v, want the 3x track first", stats[0])
	}
	if stats[0].Title != "Hit Song" {
		t.Errorf("top play title = %q", stats[0].Title)
	}
}
