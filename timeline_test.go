package main

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

func TestMergeTimelineInterleavesByOffset(t *testing.T) {
	comments := []CommentRecord{
		{ID: 1, OffsetMs: 1000, Content: "first"},
		{ID: 2, OffsetMs: 5000, Content: "third"},
	}
	reactions := []ReactionRecord{
		{ID: 1, OffsetMs: 3000, Emoji: "🔥"},
		{ID: 2, OffsetMs: 7000, Emoji: "👀"},
	}

	items := mergeTimeline(comments, reactions)
	if len(items) != 4 {
		t.Fatalf("expected 4 items, got %d", len(items))
	}

	wantOffsets := []int64{1000, 3000, 5000, 7000}
	for i, want := range wantOffsets {
		if items[i].offsetMs != want {
			t.Errorf("item %d: offset = %d, want %d", i, items[i].offsetMs, want)
		}
	}
	if items[0].comment == nil || items[1].reaction == nil || items[2].comment == nil || items[3].reaction == nil {
		t.Error("merged items have wrong kinds")
	}
}

func TestMergeTimelineCommentBeforeReactionOnTie(t *testing.T) {
	comments := []CommentRecord{{ID: 1, OffsetMs: 2000, Content: "tied comment"}}
	reactions := []ReactionRecord{{ID: 1, OffsetMs: 2000, Emoji: "🎉"}}

	items := mergeTimeline(comments, reactions)
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].comment == nil {
		t.Error("comment should come before reaction at the same offset")
	}
	if items[1].reaction == nil {
		t.Error("reaction should come second at the same offset")
	}
}

func TestMergeTimelineEmptyInputs(t *testing.T) {
	if items := mergeTimeline(nil, nil); len(items) != 0 {
		t.Errorf("expected no items, got %d", len(items))
	}
	items := mergeTimeline([]CommentRecord{{OffsetMs: 10}}, nil)
	if len(items) != 1 || items[0].comment == nil {
		t.Error("single comment should survive a merge with no reactions")
	}
}

func TestTruncateAnnotationLongLine(t *testing.T) {
	content := strings.Repeat("a", 250)
	got := truncateAnnotation(content)

	r := []rune(got)
	if len(r) != commentDisplayLimit {
		t.Errorf("truncated length = %d runes, want %d", len(r), commentDisplayLimit)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated line should end with ellipsis, got %q", got[len(got)-10:])
	}
	if got[:commentDisplayLimit-3] != content[:commentDisplayLimit-3] {
		t.Error("truncation should keep the original prefix")
	}
}

func TestTruncateAnnotationShortUnchanged(t *testing.T) {
	content := "just a short comment"
	if got := truncateAnnotation(content); got != content {
		t.Errorf("short content should be untouched, got %q", got)
	}
}

func TestTruncateAnnotationURLLineExempt(t *testing.T) {
	url := "https://example.com/" + strings.Repeat("x", 300)
	if got := truncateAnnotation(url); got != url {
		t.Error("bare URL lines must never be truncated")
	}

	mixed := url + "\n" + strings.Repeat("b", 250)
	got := truncateAnnotation(mixed)
	lines := strings.Split(got, "\n")
	if lines[0] != url {
		t.Error("URL line in mixed content must survive intact")
	}
	if len([]rune(lines[1])) != commentDisplayLimit {
		t.Errorf("text line in mixed content should be clipped, got %d runes", len([]rune(lines[1])))
	}
}

func TestTruncateAnnotationExtractsEmbeddedURL(t *testing.T) {
	url := "https://example.com/watch?v=abcdefghijk"
	content := strings.Repeat("a", 180) + " " + url

	got := truncateAnnotation(content)
	lines := strings.Split(got, "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want the URL pulled onto its own line:\n%s", len(lines), got)
	}
	if lines[0] != strings.Repeat("a", 180) {
		t.Errorf("text line = %q", lines[0])
	}
	if lines[1] != url {
		t.Errorf("URL line = %q, want it intact", lines[1])
	}
	if !strings.Contains(got, url) {
		t.Error("embedded URL must survive rendering unclipped")
	}
}

func TestTruncateAnnotationEmbeddedURLSplitsText(t *testing.T) {
	url := "https://example.com/" + strings.Repeat("x", 250)
	content := "check this out " + url + " seriously " + strings.Repeat("b", 250)

	got := truncateAnnotation(content)
	lines := strings.Split(got, "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want text / URL / text:\n%s", len(lines), got)
	}
	if lines[0] != "check this out" {
		t.Errorf("leading text = %q", lines[0])
	}
	if lines[1] != url {
		t.Error("long embedded URL must never be truncated")
	}
	if !strings.HasSuffix(lines[2], "...") || len([]rune(lines[2])) != commentDisplayLimit {
		t.Errorf("trailing text should be clipped, got %d runes", len([]rune(lines[2])))
	}
}

func TestIsURLLine(t *testing.T) {
	cases := []struct {
		line string
		want bool
	}{
		{"https://example.com/watch?v=abc", true},
		{"http://example.com", true},
		{"  https://example.com  ", true},
		{"check this https://example.com out", false},
		{"ftp://example.com", false},
		{"plain text", false},
	}
	for _, c := range cases {
		if got := isURLLine(c.line); got != c.want {
			t.Errorf("isURLLine(%q) = %v, want %v", c.line, got, c.want)
		}
	}
}

func TestSessionRegistryStartSupersedes(t *testing.T) {
	reg := NewSessionRegistry()
	guildID := snowflake.ID(100)

	old := reg.Start(context.Background(), guildID, "https://example.com/a", 1, 2)

	var fired atomic.Int32
	for _, d := range []time.Duration{50 * time.Millisecond, 500 * time.Millisecond} {
		s := old
		s.addTimer(time.AfterFunc(d, func() {
			if s.ctx.Err() != nil {
				return
			}
			fired.Add(1)
		}))
	}

	next := reg.Start(context.Background(), guildID, "https://example.com/b", 1, 3)

	if old.ctx.Err() == nil {
		t.Error("superseded session context should be canceled")
	}
	if reg.Active(guildID) != next {
		t.Error("registry should hold the new session")
	}

	time.Sleep(150 * time.Millisecond)
	if n := fired.Load(); n != 0 {
		t.Errorf("%d pending deliveries fired after supersede, want 0", n)
	}
}

func TestSessionRegistryStopIdempotent(t *testing.T) {
	reg := NewSessionRegistry()
	guildID := snowflake.ID(200)

	reg.Stop(guildID) // no session yet

	s := reg.Start(context.Background(), guildID, "https://example.com/a", 1, 2)
	reg.Stop(guildID)
	reg.Stop(guildID)

	if s.ctx.Err() == nil {
		t.Error("stopped session context should be canceled")
	}
	if reg.Active(guildID) != nil {
		t.Error("session should be gone after stop")
	}
}

func TestSessionRegistryActivePureRead(t *testing.T) {
	reg := NewSessionRegistry()
	if reg.Active(snowflake.ID(300)) != nil {
		t.Error("unknown guild should report no session")
	}
	reg.mu.Lock()
	n := len(reg.sessions)
	reg.mu.Unlock()
	if n != 0 {
		t.Errorf("Active must not create entries, map has %d", n)
	}
}

func TestSessionRegistryPerGuildIsolation(t *testing.T) {
	reg := NewSessionRegistry()
	a := reg.Start(context.Background(), snowflake.ID(1), "https://example.com/a", 1, 2)
	b := reg.Start(context.Background(), snowflake.ID(2), "https://example.com/b", 3, 4)

	reg.Stop(snowflake.ID(1))

	if a.ctx.Err() == nil {
		t.Error("stopped guild's session should be canceled")
	}
	if b.ctx.Err() != nil {
		t.Error("other guild's session must be unaffected")
	}
	if reg.Active(snowflake.ID(2)) != b {
		t.Error("other guild's session should still be active")
	}
}

func TestSessionOffsetNeverNegative(t *testing.T) {
	s := &TrackingSession{StartedAt: time.Now().Add(time.Minute)}
	if got := s.Offset(); got != 0 {
		t.Errorf("offset before session start = %d, want 0", got)
	}

	s = &TrackingSession{StartedAt: time.Now().Add(-2 * time.Second)}
	if got := s.Offset(); got < 1900 || got > 10000 {
		t.Errorf("offset = %dms, expected roughly 2000ms", got)
	}
}

func TestTeardownCountsPendingTimers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &TrackingSession{ctx: ctx, cancel: cancel}

	s.addTimer(time.AfterFunc(time.Hour, func() {}))
	s.addTimer(time.AfterFunc(time.Hour, func() {}))

	if got := s.teardown(); got != 2 {
		t.Errorf("teardown canceled %d timers, want 2", got)
	}
	if got := s.teardown(); got != 0 {
		t.Errorf("second teardown canceled %d timers, want 0", got)
	}
}

func TestSchedulePlaybackBatchesSameOffset(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	guildID := snowflake.ID(42)
	trackURL := "https://example.com/batch"

	for _, content := range []string{"one", "two"} {
		rec := &CommentRecord{TrackURL: trackURL, GuildID: guildID, AuthorID: snowflake.ID(7), Content: content, OffsetMs: 1000}
		if err := SaveComment(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	if err := SaveReaction(ctx, &ReactionRecord{TrackURL: trackURL, GuildID: guildID, AuthorID: snowflake.ID(7), Emoji: "🔥", OffsetMs: 1000}); err != nil {
		t.Fatal(err)
	}
	if err := SaveComment(ctx, &CommentRecord{TrackURL: trackURL, GuildID: guildID, AuthorID: snowflake.ID(7), Content: "later", OffsetMs: 9000}); err != nil {
		t.Fatal(err)
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &TrackingSession{
		GuildID:   guildID,
		TrackURL:  trackURL,
		StartedAt: time.Now(),
		ctx:       sctx,
		cancel:    cancel,
	}
	// Cancel up front so fired callbacks bail before touching the client.
	cancel()

	schedulePlayback(ctx, nil, s)

	s.mu.Lock()
	timers := len(s.timers)
	s.mu.Unlock()
	if timers != 2 {
		t.Errorf("scheduled %d timers, want 2 (one per distinct offset)", timers)
	}
}

func TestRenderCommentTruncatesDisplayOnly(t *testing.T) {
	full := strings.Repeat("z", 300)
	c := &CommentRecord{AuthorName: "alice", Content: full, OffsetMs: 65000}

	rendered := renderComment(c)
	if !strings.Contains(rendered, "alice") || !strings.Contains(rendered, "1:05") {
		t.Errorf("rendered comment missing author or offset: %q", rendered)
	}
	if strings.Contains(rendered, full) {
		t.Error("rendered comment should clip long content")
	}
	if c.Content != full {
		t.Error("stored content must keep the full text")
	}
}

func TestRenderReactionCustomEmoji(t *testing.T) {
	r := &ReactionRecord{AuthorName: "bob", Emoji: "blob:12345", OffsetMs: 5000}
	rendered := renderReaction(r)
	if !strings.Contains(rendered, "<:blob:12345>") {
		t.Errorf("custom emoji should render as a mention, got %q", rendered)
	}

	r = &ReactionRecord{AuthorName: "bob", Emoji: "🔥", OffsetMs: 5000}
	if rendered := renderReaction(r); !strings.HasPrefix(rendered, "🔥") {
		t.Errorf("unicode emoji should render bare, got %q", rendered)
	}
}
