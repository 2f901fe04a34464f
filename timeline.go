package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"github.com/sho0pi/naturaltime"
	"golang.org/x/time/rate"
)

// ===========================
// Command Registration
// ===========================

func init() {
	RegisterCommand(discord.SlashCommandCreate{
		Name:        "timeline",
		Description: "Synchronized annotation timeline",
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "show",
				Description: "Show the annotations stored for the current track",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "clear",
				Description: "Clear stored annotations (bot owners only)",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        "track",
						Description: "Track URL to clear (defaults to all tracks)",
						Required:    false,
					},
					discord.ApplicationCommandOptionString{
						Name:        "before",
						Description: "Only clear annotations older than this (e.g. 'last week')",
						Required:    false,
					},
				},
			},
		},
	}, handleTimeline)
}

// ===========================
// Constants & Variables
// ===========================

const (
	commentDisplayLimit = 200
	deliveryRatePerSec  = 4
	deliveryBurst       = 10
)

var (
	timelineParserOnce sync.Once
	timelineParser     *naturaltime.Parser
)

func getTimelineParser() *naturaltime.Parser {
	timelineParserOnce.Do(func() {
		p, err := naturaltime.New()
		if err != nil {
			LogTimeline(MsgTimelineParserFail, err)
			return
		}
		timelineParser = p
	})
	return timelineParser
}

// ===========================
// Tracking Sessions
// ===========================

// TrackingSession follows one playback in one guild. Captured annotations
// are stamped with the elapsed time since StartedAt, and scheduled
// deliveries hang off the session so stopping it cancels them all.
type TrackingSession struct {
	GuildID       snowflake.ID
	TrackURL      string
	ChannelID     snowflake.ID
	AnchorMessage snowflake.ID
	StartedAt     time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	limiter *rate.Limiter

	mu     sync.Mutex
	timers []*time.Timer
}

// Offset returns the capture offset for "now", in milliseconds into the track.
func (s *TrackingSession) Offset() int64 {
	ms := time.Since(s.StartedAt).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}

func (s *TrackingSession) addTimer(t *time.Timer) {
	s.mu.Lock()
	s.timers = append(s.timers, t)
	s.mu.Unlock()
}

// teardown cancels the session context and stops every pending timer,
// returning how many had not fired yet. Fired-but-unstarted callbacks
// still see the canceled context and bail out.
func (s *TrackingSession) teardown() int {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	canceled := 0
	for _, t := range s.timers {
		if t.Stop() {
			canceled++
		}
	}
	s.timers = nil
	return canceled
}

// SessionRegistry holds at most one tracking session per guild.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[snowflake.ID]*TrackingSession
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[snowflake.ID]*TrackingSession),
	}
}

// Start opens a new session for the guild. Any existing session is
// superseded: its pending deliveries are canceled before the new one exists.
func (r *SessionRegistry) Start(parent context.Context, guildID snowflake.ID, trackURL string, channelID, anchorMessage snowflake.ID) *TrackingSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.sessions[guildID]; ok {
		old.teardown()
		LogTimeline(MsgTimelineSuperseded, guildID)
	}

	ctx, cancel := context.WithCancel(parent)
	s := &TrackingSession{
		GuildID:       guildID,
		TrackURL:      trackURL,
		ChannelID:     channelID,
		AnchorMessage: anchorMessage,
		StartedAt:     time.Now(),
		ctx:           ctx,
		cancel:        cancel,
		limiter:       rate.NewLimiter(rate.Limit(deliveryRatePerSec), deliveryBurst),
	}
	r.sessions[guildID] = s

	LogTimeline(MsgTimelineStarted, guildID, anchorMessage, trackURL)
	return s
}

// Stop ends the guild's session and cancels its pending deliveries.
// Stopping a guild with no session is a no-op.
func (r *SessionRegistry) Stop(guildID snowflake.ID) {
	r.mu.Lock()
	s, ok := r.sessions[guildID]
	if ok {
		delete(r.sessions, guildID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	canceled := s.teardown()
	LogTimeline(MsgTimelineStopped, guildID, canceled)
}

// Active returns the guild's current session, or nil. Pure read.
func (r *SessionRegistry) Active(guildID snowflake.ID) *TrackingSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[guildID]
}

// ===========================
// Timeline Merging & Rendering
// ===========================

type timelineItem struct {
	offsetMs int64
	comment  *CommentRecord
	reaction *ReactionRecord
}

// mergeTimeline interleaves stored comments and reactions by ascending
// offset. Both inputs arrive sorted from the database; on equal offsets
// comments come before reactions.
func mergeTimeline(comments []CommentRecord, reactions []ReactionRecord) []timelineItem {
	items := make([]timelineItem, 0, len(comments)+len(reactions))
	i, j := 0, 0
	for i < len(comments) && j < len(reactions) {
		if comments[i].OffsetMs <= reactions[j].OffsetMs {
			items = append(items, timelineItem{offsetMs: comments[i].OffsetMs, comment: &comments[i]})
			i++
		} else {
			items = append(items, timelineItem{offsetMs: reactions[j].OffsetMs, reaction: &reactions[j]})
			j++
		}
	}
	for ; i < len(comments); i++ {
		items = append(items, timelineItem{offsetMs: comments[i].OffsetMs, comment: &comments[i]})
	}
	for ; j < len(reactions); j++ {
		items = append(items, timelineItem{offsetMs: reactions[j].OffsetMs, reaction: &reactions[j]})
	}
	return items
}

// isURLLine reports whether a line is a bare link that must survive intact.
func isURLLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		return false
	}
	return !strings.ContainsAny(trimmed, " \t")
}

// truncateAnnotation prepares comment text for display. Storage keeps the
// full text; only the rendered copy changes. Embedded links are pulled onto
// their own lines first so the per-line clip never eats a URL and the link
// stays clickable.
func truncateAnnotation(content string) string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		if isURLLine(line) {
			lines = append(lines, strings.TrimSpace(line))
			continue
		}
		tokens := strings.Fields(line)
		if len(tokens) == 0 {
			lines = append(lines, line)
			continue
		}
		var words []string
		flush := func() {
			if len(words) > 0 {
				lines = append(lines, strings.Join(words, " "))
				words = nil
			}
		}
		for _, tok := range tokens {
			if strings.HasPrefix(tok, "http://") || strings.HasPrefix(tok, "https://") {
				flush()
				lines = append(lines, tok)
				continue
			}
			words = append(words, tok)
		}
		flush()
	}

	for i, line := range lines {
		if isURLLine(line) {
			continue
		}
		r := []rune(line)
		if len(r) > commentDisplayLimit {
			lines[i] = string(r[:commentDisplayLimit-3]) + "..."
		}
	}
	return strings.Join(lines, "\n")
}

func renderComment(c *CommentRecord) string {
	name := c.AuthorName
	if name == "" {
		name = c.AuthorID.String()
	}
	return fmt.Sprintf("💬 **%s** · `%s`\n%s", name, FormatOffset(c.OffsetMs), truncateAnnotation(c.Content))
}

func renderReaction(r *ReactionRecord) string {
	emoji := r.Emoji
	if strings.Contains(emoji, ":") {
		emoji = "<:" + emoji + ">"
	}
	name := r.AuthorName
	if name == "" {
		name = r.AuthorID.String()
	}
	return fmt.Sprintf("%s **%s** · `%s`", emoji, name, FormatOffset(r.OffsetMs))
}

// ===========================
// Scheduling & Delivery
// ===========================

// schedulePlayback loads all stored annotations for the session's track and
// arms a timer per distinct offset. Items landing on the same offset share
// one timer and are delivered in merged order.
func schedulePlayback(ctx context.Context, client *bot.Client, s *TrackingSession) {
	comments, err := GetComments(ctx, s.TrackURL, s.GuildID)
	if err != nil {
		LogTimeline(MsgTimelineLoadFail, s.TrackURL, err)
		return
	}
	reactions, err := GetReactions(ctx, s.TrackURL, s.GuildID)
	if err != nil {
		LogTimeline(MsgTimelineLoadFail, s.TrackURL, err)
		return
	}

	items := mergeTimeline(comments, reactions)
	if len(items) == 0 {
		return
	}
	LogTimeline(MsgTimelineScheduled, len(comments), len(reactions), s.TrackURL)

	elapsed := time.Since(s.StartedAt)
	for i := 0; i < len(items); {
		j := i
		for j < len(items) && items[j].offsetMs == items[i].offsetMs {
			j++
		}
		batch := items[i:j]
		delay := time.Duration(batch[0].offsetMs)*time.Millisecond - elapsed
		if delay < 0 {
			delay = 0
		}
		s.addTimer(time.AfterFunc(delay, func() {
			deliverBatch(client, s, batch)
		}))
		i = j
	}
}

// deliverBatch replays one offset's annotations as replies to the anchor
// message. A failed send is logged and skipped; playback is never
// interrupted on delivery errors.
func deliverBatch(client *bot.Client, s *TrackingSession, batch []timelineItem) {
	if s.ctx.Err() != nil {
		return
	}

	msgID, chID, gID := s.AnchorMessage, s.ChannelID, s.GuildID
	ref := &discord.MessageReference{
		MessageID: &msgID,
		ChannelID: &chID,
		GuildID:   &gID,
	}

	for _, item := range batch {
		if err := s.limiter.Wait(s.ctx); err != nil {
			return
		}
		var body string
		if item.comment != nil {
			body = renderComment(item.comment)
		} else {
			body = renderReaction(item.reaction)
		}
		if _, err := SendMessageV2(*client, s.ChannelID, NewV2Container(NewTextDisplay(body)), ref); err != nil {
			LogTimeline(MsgTimelineDeliverFail, err)
		}
	}
}

// ===========================
// Capture Handlers
// ===========================

// onMessageCreate captures replies to the anchor message as timed comments.
func onMessageCreate(event *events.MessageCreate) {
	if event.Message.Author.Bot {
		return
	}
	if event.GuildID == nil {
		return
	}

	content := event.Message.Content
	if content == "" || strings.HasPrefix(content, "/") || strings.HasPrefix(content, "!") {
		return
	}

	s := GetVoiceManager().Timeline().Active(*event.GuildID)
	if s == nil {
		return
	}
	if event.Message.ReferencedMessage == nil || event.Message.ReferencedMessage.ID != s.AnchorMessage {
		return
	}

	offset := s.Offset()
	rec := &CommentRecord{
		TrackURL:   s.TrackURL,
		GuildID:    s.GuildID,
		AuthorID:   event.Message.Author.ID,
		AuthorName: event.Message.Author.Username,
		Content:    content,
		OffsetMs:   offset,
	}
	if err := SaveComment(context.Background(), rec); err != nil {
		LogTimeline(MsgTimelineSaveFail, err)
		return
	}
	LogTimeline(MsgTimelineCommentSaved, offset, s.GuildID)

	if err := event.Client().Rest.AddReaction(event.ChannelID, event.Message.ID, "📝"); err != nil {
		LogTimeline(MsgTimelineAckFail, err)
	}
}

// onMessageReactionAdd captures reactions on the anchor message.
func onMessageReactionAdd(event *events.MessageReactionAdd) {
	if event.GuildID == nil {
		return
	}
	if self, ok := event.Client().Caches.SelfUser(); ok && event.UserID == self.ID {
		return
	}

	s := GetVoiceManager().Timeline().Active(*event.GuildID)
	if s == nil || event.MessageID != s.AnchorMessage {
		return
	}

	var emojiStr string
	if event.Emoji.ID != nil {
		name := ""
		if event.Emoji.Name != nil {
			name = *event.Emoji.Name
		}
		emojiStr = fmt.Sprintf("%s:%s", name, event.Emoji.ID.String())
	} else if event.Emoji.Name != nil {
		emojiStr = *event.Emoji.Name
	}
	if emojiStr == "" {
		return
	}

	authorName := ""
	if event.Member != nil {
		authorName = event.Member.User.Username
	}

	offset := s.Offset()
	rec := &ReactionRecord{
		TrackURL:   s.TrackURL,
		GuildID:    s.GuildID,
		AuthorID:   event.UserID,
		AuthorName: authorName,
		Emoji:      emojiStr,
		OffsetMs:   offset,
	}
	if err := SaveReaction(context.Background(), rec); err != nil {
		LogTimeline(MsgTimelineSaveFail, err)
		return
	}
	LogTimeline(MsgTimelineReactionSaved, offset, s.GuildID)
}

// ===========================
// Command Handlers
// ===========================

func handleTimeline(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	if data.SubCommandName == nil {
		return
	}
	switch *data.SubCommandName {
	case "show":
		handleTimelineShow(event)
	case "clear":
		handleTimelineClear(event, data)
	}
}

func handleTimelineShow(event *events.ApplicationCommandInteractionCreate) {
	guildID := event.GuildID()
	if guildID == nil {
		_ = RespondInteractionV2(*event.Client(), event, NewV2Container(NewTextDisplay("Not in a guild.")), true)
		return
	}

	s := GetVoiceManager().Timeline().Active(*guildID)
	if s == nil {
		_ = RespondInteractionV2(*event.Client(), event, NewV2Container(NewTextDisplay(MsgTimelineNoSession)), true)
		return
	}

	ctx := AppContext
	commentCount, reactionCount, err := GetAnnotationCounts(ctx, s.TrackURL, s.GuildID)
	if err != nil {
		_ = RespondInteractionV2(*event.Client(), event, NewV2Container(NewTextDisplay("Failed to load annotations.")), true)
		return
	}

	header := fmt.Sprintf(MsgTimelineShow, s.TrackURL, commentCount, reactionCount)

	comments, _ := GetComments(ctx, s.TrackURL, s.GuildID)
	reactions, _ := GetReactions(ctx, s.TrackURL, s.GuildID)
	items := mergeTimeline(comments, reactions)

	var sb strings.Builder
	for i, item := range items {
		if i >= 10 {
			sb.WriteString(fmt.Sprintf("… and %d more\n", len(items)-i))
			break
		}
		var line string
		if item.comment != nil {
			line = fmt.Sprintf("`%s` 💬 %s", FormatOffset(item.offsetMs), item.comment.Content)
		} else {
			emoji := item.reaction.Emoji
			if strings.Contains(emoji, ":") {
				emoji = "<:" + emoji + ">"
			}
			line = fmt.Sprintf("`%s` %s", FormatOffset(item.offsetMs), emoji)
		}
		sb.WriteString(Truncate(strings.ReplaceAll(line, "\n", " "), 80))
		sb.WriteString("\n")
	}

	container := NewV2Container(NewTextDisplay(header))
	if sb.Len() > 0 {
		container = NewV2Container(NewTextDisplay(header), NewSeparator(true), NewTextDisplay(sb.String()))
	}
	_ = RespondInteractionV2(*event.Client(), event, container, false)
}

func handleTimelineClear(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	guildID := event.GuildID()
	if guildID == nil {
		_ = RespondInteractionV2(*event.Client(), event, NewV2Container(NewTextDisplay("Not in a guild.")), true)
		return
	}
	if GlobalConfig == nil || !GlobalConfig.IsOwner(event.User().ID) {
		_ = RespondInteractionV2(*event.Client(), event, NewV2Container(NewTextDisplay(ErrTimelineOwnerOnly)), true)
		return
	}

	trackURL, _ := data.OptString("track")

	var before time.Time
	if phrase, ok := data.OptString("before"); ok && phrase != "" {
		parser := getTimelineParser()
		if parser == nil {
			_ = RespondInteractionV2(*event.Client(), event, NewV2Container(NewTextDisplay(ErrTimelineBadPhrase)), true)
			return
		}
		parsed, err := parser.ParseDate(phrase, time.Now())
		if err != nil || parsed == nil {
			_ = RespondInteractionV2(*event.Client(), event, NewV2Container(NewTextDisplay(ErrTimelineBadPhrase)), true)
			return
		}
		before = *parsed
	}

	count, err := ClearAnnotations(AppContext, trackURL, *guildID, before)
	if err != nil {
		LogTimeline(MsgTimelineClearError, err)
		_ = RespondInteractionV2(*event.Client(), event, NewV2Container(NewTextDisplay(ErrTimelineClearFail)), true)
		return
	}
	_ = RespondInteractionV2(*event.Client(), event, NewV2Container(NewTextDisplay(fmt.Sprintf(MsgTimelineCleared, count))), false)
}
