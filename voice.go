package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/snowflake/v2"
	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"
)

// ===========================
// Command Registration
// ===========================

func init() {
	OnClientReady(func(ctx context.Context, client *bot.Client) {
		RegisterDaemon(LogVoice, func(ctx context.Context) (bool, func(), func()) {
			return true, func() {}, func() {
				if VoiceManager != nil {
					LogVoice(MsgVoiceShutdown)
					VoiceManager.Shutdown(context.Background())
				}
			}
		})

		vm := GetVoiceManager()
		RegisterVoiceStateUpdateHandler(vm.onVoiceStateUpdate)
	})

	RegisterCommand(discord.SlashCommandCreate{
		Name:        "play",
		Description: "Play audio from a URL or search query",
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionString{
				Name:         "query",
				Description:  "The URL or song name to play",
				Required:     true,
				Autocomplete: true,
			},
			discord.ApplicationCommandOptionString{
				Name:         "queue",
				Description:  "Playback mode (now or next)",
				Required:     false,
				Autocomplete: true,
			},
		},
	}, handleMusicPlay)

	RegisterCommand(discord.SlashCommandCreate{
		Name:        "stop",
		Description: "Stop audio and leave the voice channel",
	}, handleMusicStop)

	RegisterCommand(discord.SlashCommandCreate{
		Name:        "skip",
		Description: "Skip the current track",
	}, handleMusicSkip)

	RegisterCommand(discord.SlashCommandCreate{
		Name:        "queue",
		Description: "Show the current queue",
	}, handleMusicQueue)

	RegisterAutocompleteHandler("play", handleMusicAutocomplete)
}

// ===========================
// Constants & Variables
// ===========================

var (
	VoiceManager *VoiceSystem
	OnceVoice    sync.Once
)

// ===========================
// Structs
// ===========================

// VoiceSystem manages all voice sessions across guilds
type VoiceSystem struct {
	mu       sync.Mutex
	sessions map[snowflake.ID]*VoiceSession
	cache    *queryCache
	timeline *SessionRegistry
}

// VoiceSession is one guild's playback state
type VoiceSession struct {
	GuildID       snowflake.ID
	ChannelID     snowflake.ID
	TextChannelID snowflake.ID
	Conn          voice.Conn
	client        *bot.Client

	cancelCtx  context.Context
	cancelFunc context.CancelFunc

	queueMu      sync.Mutex
	queue        []*TrackInfo
	currentTrack *TrackInfo
	streamCancel context.CancelFunc
	queueUpdate  chan struct{}

	joinedMu sync.Mutex
	joined   bool
}

type SearchResult struct {
	URL   string
	Title string
}

type cachedItem struct {
	results   []SearchResult
	expiresAt time.Time
}

type queryCache struct {
	sync.RWMutex
	items map[string]cachedItem
}

// ===========================
// Voice Manager
// ===========================

// GetVoiceManager returns the singleton VoiceSystem instance
func GetVoiceManager() *VoiceSystem {
	OnceVoice.Do(func() {
		VoiceManager = &VoiceSystem{
			sessions: make(map[snowflake.ID]*VoiceSession),
			cache: &queryCache{
				items: make(map[string]cachedItem),
			},
			timeline: NewSessionRegistry(),
		}
		go VoiceManager.startCacheGC()
	})
	return VoiceManager
}

// Timeline returns the annotation session registry owned by this manager.
func (vs *VoiceSystem) Timeline() *SessionRegistry {
	return vs.timeline
}

func (vs *VoiceSystem) startCacheGC() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		<-ticker.C
		vs.cache.Lock()
		now := time.Now()
		for q, item := range vs.cache.items {
			if now.After(item.expiresAt) {
				delete(vs.cache.items, q)
			}
		}
		vs.cache.Unlock()
	}
}

func (vs *VoiceSystem) GetSession(guildID snowflake.ID) *VoiceSession {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.sessions[guildID]
}

// Prepare creates or retrieves a voice session for a guild
func (vs *VoiceSystem) Prepare(client *bot.Client, guildID, channelID, textChannelID snowflake.ID) *VoiceSession {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if sess, ok := vs.sessions[guildID]; ok {
		// If session is dead (canceled), discard it and create a new one
		if sess.cancelCtx.Err() != nil {
			delete(vs.sessions, guildID)
		} else {
			sess.ChannelID = channelID
			sess.TextChannelID = textChannelID
			return sess
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	sess := &VoiceSession{
		GuildID:       guildID,
		ChannelID:     channelID,
		TextChannelID: textChannelID,
		Conn:          client.VoiceManager.CreateConn(guildID),
		cancelCtx:     ctx,
		cancelFunc:    cancel,
		queue:         make([]*TrackInfo, 0),
		queueUpdate:   make(chan struct{}, 1),
		client:        client,
	}
	vs.sessions[guildID] = sess
	return sess
}

// Join connects the bot to a voice channel
func (vs *VoiceSystem) Join(ctx context.Context, client *bot.Client, guildID, channelID, textChannelID snowflake.ID) error {
	sess := vs.Prepare(client, guildID, channelID, textChannelID)

	sess.joinedMu.Lock()
	if sess.joined && sess.ChannelID == channelID {
		sess.joinedMu.Unlock()
		return nil
	}
	sess.joinedMu.Unlock()

	LogVoice(MsgVoiceJoining, channelID, guildID)

	var lastErr error
	for i := range 5 {
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 1000 * time.Millisecond
			LogVoice(MsgVoiceJoinRetry, backoff, i+1)
			time.Sleep(backoff)
		}
		if err := sess.Conn.Open(ctx, channelID, false, false); err != nil {
			lastErr = err
			continue
		}
		lastErr = nil
		break
	}

	if lastErr != nil {
		LogVoice(MsgVoiceJoinFail, guildID, lastErr)
		sess.Conn.Close(ctx)
		return lastErr
	}

	sess.joinedMu.Lock()
	if !sess.joined {
		sess.joined = true
		go sess.processQueue()
	}
	sess.joinedMu.Unlock()
	return nil
}

// Leave disconnects the bot from a voice channel
func (vs *VoiceSystem) Leave(ctx context.Context, guildID snowflake.ID) {
	vs.mu.Lock()
	sess, ok := vs.sessions[guildID]
	if ok {
		delete(vs.sessions, guildID)
	}
	vs.mu.Unlock()

	vs.timeline.Stop(guildID)
	if !ok {
		return
	}

	sess.cancelFunc()
	sess.queueMu.Lock()
	if sess.streamCancel != nil {
		sess.streamCancel()
	}
	sess.queue = nil
	sess.queueMu.Unlock()

	sess.joinedMu.Lock()
	sess.joined = false
	sess.joinedMu.Unlock()
	if sess.Conn != nil {
		sess.Conn.Close(ctx)
	}
}

// Shutdown gracefully stops all voice sessions
func (vs *VoiceSystem) Shutdown(ctx context.Context) {
	vs.mu.Lock()
	guildIDs := make([]snowflake.ID, 0, len(vs.sessions))
	for id := range vs.sessions {
		guildIDs = append(guildIDs, id)
	}
	vs.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range guildIDs {
		wg.Add(1)
		go func(guildID snowflake.ID) {
			defer wg.Done()
			vs.Leave(ctx, guildID)
		}(id)
	}
	wg.Wait()
}

// Play adds a track to the queue and signals the playback loop
func (vs *VoiceSystem) Play(guildID snowflake.ID, track *TrackInfo, mode string) error {
	s := vs.GetSession(guildID)
	if s == nil {
		return errors.New("not connected to voice")
	}

	LogVoice(MsgVoiceQueueing, guildID, track.URL)
	s.queueTracks(track, mode)
	return nil
}

func (s *VoiceSession) queueTracks(track *TrackInfo, mode string) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	switch mode {
	case "now":
		s.queue = []*TrackInfo{track}
		if s.streamCancel != nil {
			s.streamCancel()
		}
	case "next":
		s.queue = append([]*TrackInfo{track}, s.queue...)
	default:
		s.queue = append(s.queue, track)
	}

	select {
	case s.queueUpdate <- struct{}{}:
	default:
	}
}

// Skip cancels the current track's stream, letting the queue advance.
func (s *VoiceSession) Skip() (string, error) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	if s.currentTrack == nil || s.streamCancel == nil {
		return "", errors.New("nothing is playing")
	}
	title := s.currentTrack.Title
	s.streamCancel()
	return title, nil
}

// onVoiceStateUpdate tears the session down when the bot is disconnected
func (vs *VoiceSystem) onVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	if event.VoiceState.UserID != event.Client().ID() {
		return
	}
	if event.VoiceState.ChannelID == nil {
		vs.Leave(context.Background(), event.VoiceState.GuildID)
	}
}

// ===========================
// Playback Loop
// ===========================

func (s *VoiceSession) processQueue() {
	for {
		s.queueMu.Lock()
		var track *TrackInfo
		if len(s.queue) > 0 {
			track = s.queue[0]
			s.queue = s.queue[1:]
		}
		s.queueMu.Unlock()

		if track == nil {
			GetVoiceManager().Timeline().Stop(s.GuildID)
			LogVoice(MsgVoiceQueueEmpty, s.GuildID)
			select {
			case <-s.queueUpdate:
				continue
			case <-s.cancelCtx.Done():
				return
			}
		}

		s.playTrack(track)

		select {
		case <-s.cancelCtx.Done():
			return
		default:
		}
	}
}

// playTrack plays one track end to end: it records the play, posts the
// anchor message, opens the annotation session, schedules stored
// annotations, and pipes yt-dlp through ffmpeg into the voice connection.
func (s *VoiceSession) playTrack(t *TrackInfo) {
	LogVoice(MsgVoiceTrackStart, s.GuildID, t.Title)

	if err := RecordPlay(AppContext, t.URL, t.Title, t.RequestedBy, t.RequestedByName, s.GuildID); err != nil {
		LogDatabase(MsgVoiceRecordPlayFail, err)
	}

	streamCtx, streamCancel := context.WithCancel(s.cancelCtx)
	defer streamCancel()

	s.queueMu.Lock()
	s.currentTrack = t
	s.streamCancel = streamCancel
	s.queueMu.Unlock()
	defer func() {
		s.queueMu.Lock()
		s.currentTrack = nil
		s.streamCancel = nil
		s.queueMu.Unlock()
	}()

	// Anchor message: replies and reactions on it become timed annotations.
	anchor := s.postAnchor(t)
	reg := GetVoiceManager().Timeline()
	if anchor != 0 {
		session := reg.Start(AppContext, s.GuildID, t.URL, s.TextChannelID, anchor)
		schedulePlayback(AppContext, s.client, session)
		defer reg.Stop(s.GuildID)
	}

	handle, err := openStream(streamCtx, t.URL)
	if err != nil {
		LogVoice(MsgVoiceStreamErr, t.URL, err)
		return
	}
	defer handle.Close()

	ffmpegCmd := exec.CommandContext(streamCtx, "ffmpeg",
		"-i", "pipe:0",
		"-map", "0:a",
		"-acodec", "libopus",
		"-b:a", "128k",
		"-vbr", "on",
		"-compression_level", "10",
		"-analyzeduration", "0",
		"-probesize", "32",
		"-f", "opus",
		"pipe:1",
	)
	ffmpegCmd.Stdin = handle.Reader

	stdout, err := ffmpegCmd.StdoutPipe()
	if err != nil {
		LogVoice(MsgVoiceStreamErr, t.URL, err)
		return
	}
	stderr, _ := ffmpegCmd.StderrPipe()

	if err := ffmpegCmd.Start(); err != nil {
		LogVoice(MsgVoiceStreamErr, t.URL, err)
		return
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			LogVoice(MsgVoiceFfmpegErr, scanner.Text())
		}
	}()

	provider := NewStreamProvider(stdout)
	done := make(chan struct{})
	provider.OnFinish = func() {
		close(done)
	}

	s.Conn.SetOpusFrameProvider(provider)
	_ = s.Conn.SetSpeaking(streamCtx, voice.SpeakingFlagMicrophone)

	select {
	case <-done:
		time.Sleep(100 * time.Millisecond)
	case <-streamCtx.Done():
	}

	if ffmpegCmd.Process != nil {
		_ = ffmpegCmd.Process.Kill()
	}
	_ = ffmpegCmd.Wait()

	s.Conn.SetOpusFrameProvider(nil)
	_ = s.Conn.SetSpeaking(context.TODO(), 0)

	LogVoice(MsgVoiceTrackDone, s.GuildID, t.Title)
}

// postAnchor posts the now-playing message and returns its ID, or 0.
func (s *VoiceSession) postAnchor(t *TrackInfo) snowflake.ID {
	body := fmt.Sprintf("▶️ **Now Playing**\n[%s](%s)", t.Title, t.URL)
	if t.Uploader != "" {
		body += " · " + t.Uploader
	}
	if t.DurationMs > 0 {
		body += fmt.Sprintf(" · `%s`", FormatOffset(t.DurationMs))
	}
	body += "\n_Reply or react to this message to annotate the track._"

	var container Container
	if t.ArtworkURL != "" {
		container = NewV2Container(NewSection(body, NewThumbnail(t.ArtworkURL)))
	} else {
		container = NewV2Container(NewTextDisplay(body))
	}

	msg, err := SendMessageV2(*s.client, s.TextChannelID, container, nil)
	if err != nil {
		LogVoice(MsgVoiceAnchorFail, err)
		return 0
	}
	return msg.ID
}

// ===========================
// Opus Frame Provider
// ===========================

// StreamProvider implements voice.OpusFrameProvider to parse Ogg/Opus packets.
type StreamProvider struct {
	reader    *bufio.Reader
	header    []byte
	segBuf    []byte
	packetBuf bytes.Buffer
	queue     [][]byte
	OnFinish  func()
	once      sync.Once
}

func NewStreamProvider(r io.Reader) *StreamProvider {
	return &StreamProvider{
		reader: bufio.NewReaderSize(r, 16384),
		header: make([]byte, 27),
		segBuf: make([]byte, 255),
	}
}

func (p *StreamProvider) Close() {
	// No-op
}

func (p *StreamProvider) triggerFinish() {
	p.once.Do(func() {
		if p.OnFinish != nil {
			p.OnFinish()
		}
	})
}

// ProvideOpusFrame parses the next Opus packet from the Ogg stream.
func (p *StreamProvider) ProvideOpusFrame() ([]byte, error) {
	// 1. Return queued packets if any
	if len(p.queue) > 0 {
		frame := p.queue[0]
		p.queue = p.queue[1:]
		return frame, nil
	}

scanLoop:
	for {
		sig, err := p.reader.Peek(4)
		if err != nil {
			p.triggerFinish()
			return nil, err
		}

		if string(sig) == "OggS" {
			_, err := io.ReadFull(p.reader, p.header)
			if err != nil {
				p.triggerFinish()
				return nil, err
			}
		} else {
			_, _ = p.reader.Discard(1)
			continue scanLoop
		}

		numSegs := int(p.header[26])
		segTable := p.segBuf[:numSegs]
		if _, err := io.ReadFull(p.reader, segTable); err != nil {
			p.triggerFinish()
			return nil, err
		}

		for _, segLen := range segTable {
			l := int(segLen)
			_, err := io.CopyN(&p.packetBuf, p.reader, int64(l))
			if err != nil {
				p.triggerFinish()
				return nil, err
			}

			if l < 255 {
				payload := p.packetBuf.Bytes()
				frame := make([]byte, len(payload))
				copy(frame, payload)
				p.packetBuf.Reset()

				// Skip Metadata packets (OpusHead/OpusTags).
				if len(frame) > 8 && (string(frame[:8]) == "OpusHead" || string(frame[:8]) == "OpusTags") {
					continue
				}

				p.queue = append(p.queue, frame)
			}
		}

		// If we found any frames in this page, return the first one.
		if len(p.queue) > 0 {
			frame := p.queue[0]
			p.queue = p.queue[1:]
			return frame, nil
		}
	}
}

// ===========================
// Search
// ===========================

func getYoutubePrefix() string {
	if GlobalConfig != nil && GlobalConfig.YoutubePrefix != "" {
		return GlobalConfig.YoutubePrefix
	}
	return "[YT]"
}

func getYTMusicPrefix() string {
	if GlobalConfig != nil && GlobalConfig.YTMusicPrefix != "" {
		return GlobalConfig.YTMusicPrefix
	}
	return "[YTM]"
}

// Search queries YouTube and YouTube Music in parallel, routing result
// order by an optional source prefix on the query.
func (vs *VoiceSystem) Search(q string) ([]SearchResult, error) {
	// 1. Check Cache
	vs.cache.RLock()
	if item, ok := vs.cache.items[q]; ok {
		if time.Now().Before(item.expiresAt) {
			vs.cache.RUnlock()
			return item.results, nil
		}
	}
	vs.cache.RUnlock()

	src, query := "ytmusic", q
	ytp, ytmp := getYoutubePrefix(), getYTMusicPrefix()
	if strings.HasPrefix(strings.ToUpper(q), strings.ToUpper(ytp)) {
		src, query = "youtube", strings.TrimSpace(q[len(ytp):])
	} else if strings.HasPrefix(strings.ToUpper(q), strings.ToUpper(ytmp)) {
		query = strings.TrimSpace(q[len(ytmp):])
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2600*time.Millisecond)
	defer cancel()
	resMu := sync.Mutex{}
	var ytm, yt []SearchResult
	seen := make(map[string]bool)
	wg := sync.WaitGroup{}
	wg.Add(2)
	go func() {
		defer wg.Done()
		s := ytmusic.TrackSearch(query)
		r, _ := s.Next()
		for _, v := range r.Tracks {
			if v.VideoID == "" {
				continue
			}
			art := ""
			if len(v.Artists) > 0 {
				art = " - " + v.Artists[0].Name
			}
			resMu.Lock()
			if !seen[v.VideoID] {
				seen[v.VideoID] = true
				ytm = append(ytm, SearchResult{URL: "https://music.youtube.com/watch?v=" + v.VideoID, Title: Truncate(ytmp+" "+v.Title+art, 100)})
			}
			resMu.Unlock()
		}
	}()
	go func() {
		defer wg.Done()
		c := ytsearch.NewClient(nil)
		r, _ := c.Search(ctx, query)
		for _, v := range r.Results {
			resMu.Lock()
			if !seen[v.VideoID] {
				seen[v.VideoID] = true
				yt = append(yt, SearchResult{URL: "https://www.youtube.com/watch?v=" + v.VideoID, Title: Truncate(ytp+" "+v.Title, 100)})
			}
			resMu.Unlock()
		}
	}()
	d := make(chan struct{})
	go func() {
		wg.Wait()
		close(d)
	}()
	select {
	case <-d:
	case <-time.After(2300 * time.Millisecond):
	}
	resMu.Lock()
	defer resMu.Unlock()
	var fin []SearchResult
	if src == "youtube" {
		fin = append(yt, ytm...)
	} else {
		fin = append(ytm, yt...)
	}
	if len(fin) > 25 {
		fin = fin[:25]
	}

	// Both library searches came up dry; fall back to a yt-dlp search.
	if len(fin) == 0 {
		LogVoice(MsgVoiceSearchFallback, query)
		fctx, fcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer fcancel()
		if rs, err := ytdlpSearch(fctx, query, 5); err == nil {
			for _, r := range rs {
				title := r.Title
				if r.Uploader != "" && r.Uploader != "NA" {
					title += " - " + r.Uploader
				}
				fin = append(fin, SearchResult{URL: r.URL, Title: Truncate(ytp+" "+title, 100)})
			}
		}
	}

	// 2. Update Cache (TTL 1 hour)
	if len(fin) > 0 {
		vs.cache.Lock()
		vs.cache.items[q] = cachedItem{results: fin, expiresAt: time.Now().Add(1 * time.Hour)}
		vs.cache.Unlock()
	}

	return fin, nil
}

// ===========================
// Command Handlers
// ===========================

func handleMusicPlay(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	q, _ := data.OptString("query")
	mode, _ := data.OptString("queue")

	_ = event.DeferCreateMessage(false)
	if err := startPlayback(event, q, mode); err != nil {
		_ = EditInteractionV2(*event.Client(), event, NewV2Container(NewTextDisplay("Failed: "+err.Error())))
	}
}

// startPlayback initiates voice playback for a user's query
func startPlayback(ev *events.ApplicationCommandInteractionCreate, q, mode string) error {
	LogVoice("User %s (%s) requested playback: %s", ev.User().Username, ev.User().ID, q)
	vs, ok := ev.Client().Caches.VoiceState(*ev.GuildID(), ev.User().ID)
	if !ok || vs.ChannelID == nil {
		return errors.New("user not in a voice channel")
	}

	track := resolveTrack(AppContext, q)
	if track == nil {
		_ = EditInteractionV2(*ev.Client(), ev, NewV2Container(NewTextDisplay("No results found.")))
		return nil
	}
	track.RequestedBy = ev.User().ID
	track.RequestedByName = ev.User().Username

	vm := GetVoiceManager()
	if err := vm.Join(context.Background(), ev.Client(), *ev.GuildID(), *vs.ChannelID, ev.Channel().ID()); err != nil {
		return err
	}
	if err := vm.Play(*ev.GuildID(), track, mode); err != nil {
		return err
	}

	return finishPlaybackResponse(ev, track, mode)
}

// finishPlaybackResponse sends the final response message after playback is queued
func finishPlaybackResponse(ev *events.ApplicationCommandInteractionCreate, t *TrackInfo, mode string) error {
	title := t.Title
	if title == "" {
		title = "Music Track"
	}

	pr := "Added to queue:"
	switch mode {
	case "now":
		pr = "▶️ Playing Now:"
	case "next":
		pr = "⏭️ Playing Next:"
	}

	body := fmt.Sprintf("%s [%s](%s)", pr, title, t.URL)
	if t.DurationMs > 0 {
		body += fmt.Sprintf(" · `%s`", FormatOffset(t.DurationMs))
	}
	return EditInteractionV2(*ev.Client(), ev, NewV2Container(NewTextDisplay(body)))
}

// handleMusicStop handles stop interactions for music commands.
func handleMusicStop(event *events.ApplicationCommandInteractionCreate) {
	LogVoice("User %s (%s) stopped playback in guild %s", event.User().Username, event.User().ID, *event.GuildID())
	GetVoiceManager().Leave(context.Background(), *event.GuildID())
	_ = RespondInteractionV2(*event.Client(), event, NewV2Container(NewTextDisplay("🛑 Stopped and disconnected.")), false)
}

func handleMusicSkip(event *events.ApplicationCommandInteractionCreate) {
	_ = event.DeferCreateMessage(false)

	guildID := event.GuildID()
	if guildID == nil {
		_ = EditInteractionV2(*event.Client(), event, NewV2Container(NewTextDisplay("Not in a guild.")))
		return
	}
	s := GetVoiceManager().GetSession(*guildID)
	if s == nil {
		_ = EditInteractionV2(*event.Client(), event, NewV2Container(NewTextDisplay("Not running.")))
		return
	}

	title, err := s.Skip()
	if err != nil {
		_ = EditInteractionV2(*event.Client(), event, NewV2Container(NewTextDisplay(fmt.Sprintf("Failed to skip: %v", err))))
		return
	}
	_ = EditInteractionV2(*event.Client(), event, NewV2Container(NewTextDisplay(fmt.Sprintf("Skipped: %s", title))))
}

// handleMusicQueue handles queue interactions for music commands.
func handleMusicQueue(event *events.ApplicationCommandInteractionCreate) {
	_ = event.DeferCreateMessage(true)

	s := GetVoiceManager().GetSession(*event.GuildID())
	if s == nil {
		_ = EditInteractionV2(*event.Client(), event, NewV2Container(NewTextDisplay("Not playing anything.")))
		return
	}

	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	var components []interface{}

	if s.currentTrack != nil {
		components = append(components, NewTextDisplay("**Now Playing:**"))
		components = append(components, NewTextDisplay(fmt.Sprintf("[%s](%s) · %s", s.currentTrack.Title, s.currentTrack.URL, s.currentTrack.Uploader)))
		components = append(components, NewSeparator(true))
	}

	components = append(components, NewTextDisplay("**Queue:**"))
	if len(s.queue) == 0 {
		components = append(components, NewTextDisplay("_Empty_"))
	} else {
		var sb strings.Builder
		for i, t := range s.queue {
			if i >= 15 {
				sb.WriteString(fmt.Sprintf("… and %d more\n", len(s.queue)-i))
				break
			}
			sb.WriteString(fmt.Sprintf("%d. [%s](%s)\n", i+1, t.Title, t.URL))
		}
		components = append(components, NewTextDisplay(sb.String()))
	}

	_ = EditInteractionV2(*event.Client(), event, NewV2Container(components...))
}

func handleMusicAutocomplete(event *events.AutocompleteInteractionCreate) {
	f := event.Data.Focused()
	if f.Name == "queue" {
		cs := []discord.AutocompleteChoice{
			discord.AutocompleteChoiceString{Name: "Play Now", Value: "now"},
			discord.AutocompleteChoiceString{Name: "Play Next", Value: "next"},
		}
		_ = event.AutocompleteResult(cs)
		return
	}
	if f.Name != "query" {
		return
	}
	q := f.String()
	if q == "" || strings.Contains(q, "http") {
		_ = event.AutocompleteResult(nil)
		return
	}
	rs, err := GetVoiceManager().Search(q)
	if err != nil {
		_ = event.AutocompleteResult(nil)
		return
	}
	var cs []discord.AutocompleteChoice
	for i, r := range rs {
		if i >= 25 {
			break
		}
		n := r.Title
		if len(n) > 100 {
			n = n[:97] + "..."
		}
		v := r.URL
		if len(v) > 100 {
			v = r.Title
			if len(v) > 100 {
				v = v[:100]
			}
		}
		cs = append(cs, discord.AutocompleteChoiceString{Name: n, Value: v})
	}
	_ = event.AutocompleteResult(cs)
}
