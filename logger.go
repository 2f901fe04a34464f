package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// --- Globals & Styles ---

var (
	// Level colors
	infoColor  = color.New()
	warnColor  = color.New(color.FgYellow)
	errorColor = color.New(color.FgRed)
	fatalColor = color.New(color.FgRed, color.Bold)

	// Component colors
	databaseColor = color.New()
	voiceColor    = color.New(color.FgMagenta)
	timelineColor = color.New(color.FgMagenta)
	potColor      = color.New(color.FgMagenta)
	ytdlpColor    = color.New(color.FgMagenta)
	botColor      = color.New(color.FgMagenta)

	// Global state
	DefaultTimeFormat = "15:04:05"
	IsSilent          = false
	LogToFile         = false
	Logger            *slog.Logger

	// Internal state
	logFile *os.File
	logMu   sync.Mutex
)

// --- Initialization ---

func init() {
	InitLogger(false, false)
}

// InitLogger initializes the global structured logger
func InitLogger(silent bool, saveToFile bool) {
	logMu.Lock()
	defer logMu.Unlock()

	IsSilent = silent
	LogToFile = saveToFile
	level := slog.LevelInfo
	if strings.ToLower(os.Getenv("DEBUG")) == "true" {
		level = slog.LevelDebug
	}

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}

	var writer io.Writer = os.Stdout
	var err error

	if LogToFile {
		exePath, exeErr := os.Executable()
		logName := GetProjectName() + ".log"
		if exeErr == nil {
			logName = filepath.Base(exePath) + ".log"
		}

		logFile, err = os.OpenFile(logName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open %s: %v\n", logName, err)
		} else {
			writer = io.MultiWriter(os.Stdout, NewStripANSIWriter(logFile))
		}
	}

	color.NoColor = false

	handler := NewBotLogHandler(writer, &BotLogHandlerOptions{
		Silent: IsSilent,
		Level:  level,
	})
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

func SetSilentMode(silent bool) {
	InitLogger(silent, LogToFile)
}

// --- Public Logging API ---

func LogInfo(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...))
}

func LogWarn(format string, v ...any) {
	slog.Warn(fmt.Sprintf(format, v...))
}

func LogError(format string, v ...any) {
	slog.Error(fmt.Sprintf(format, v...))
}

func LogFatal(format string, v ...any) {
	msg := fmt.Sprintf(format, v...)
	slog.Log(context.Background(), slog.LevelError+4, msg)
	panic(msg)
}

func LogDebug(format string, v ...any) {
	slog.Debug(fmt.Sprintf(format, v...))
}

// Component Loggers

func LogDatabase(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "database"))
}

func LogVoice(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "voice"))
}

func LogTimeline(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "timeline"))
}

func LogPot(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "pot"))
}

func LogYtdlp(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "ytdlp"))
}

func LogBot(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "bot"))
}

func LogCustom(tag string, tagColor *color.Color, format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", tag))
}

// --- Log Handler Implementation ---

type BotLogHandlerOptions struct {
	Silent bool
	Level  slog.Leveler
}

type BotLogHandler struct {
	w    io.Writer
	opts *BotLogHandlerOptions
	mu   *sync.Mutex
}

func NewBotLogHandler(w io.Writer, opts *BotLogHandlerOptions) *BotLogHandler {
	if opts == nil {
		opts = &BotLogHandlerOptions{Level: slog.LevelInfo}
	}
	return &BotLogHandler{
		w:    w,
		opts: opts,
		mu:   &sync.Mutex{},
	}
}

func (h *BotLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.opts.Silent {
		return false
	}
	return level >= h.opts.Level.Level()
}

func (h *BotLogHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.opts.Silent {
		return nil
	}

	timeStr := time.Now().Format(DefaultTimeFormat)
	var levelStr string
	var levelColor *color.Color

	switch {
	case r.Level >= slog.LevelError+4:
		levelStr = "FATAL"
		levelColor = fatalColor
	case r.Level >= slog.LevelError:
		levelStr = "ERROR"
		levelColor = errorColor
	case r.Level >= slog.LevelWarn:
		levelStr = "WARN"
		levelColor = warnColor
	case r.Level >= slog.LevelInfo:
		levelStr = "INFO"
		levelColor = infoColor
	}

	component := ""
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			component = strings.ToUpper(a.Value.String())
			return false
		}
		return true
	})

	fmt.Fprintf(h.w, "%s", timeStr)

	if component != "" {
		if levelStr != "INFO" {
			fmt.Fprintf(h.w, " %s", levelColor.Sprintf("[%s]", levelStr))
		}
		compColor := getComponentColor(component)
		fmt.Fprintf(h.w, " %s\n", colorizeWithResets(compColor, fmt.Sprintf("[%s] %s", component, r.Message)))
	} else {
		displayMsg := fmt.Sprintf("[%s] %s", levelStr, r.Message)
		if levelStr == "INFO" && strings.HasPrefix(r.Message, "[") {
			if idx := strings.Index(r.Message, "]"); idx > 0 && idx < 20 {
				displayMsg = r.Message
			}
		}
		fmt.Fprintf(h.w, " %s\n", colorizeWithResets(levelColor, displayMsg))
	}

	return nil
}

func (h *BotLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *BotLogHandler) WithGroup(name string) slog.Handler       { return h }

// --- Formatting Helpers ---

func getComponentColor(name string) *color.Color {
	switch name {
	case "DATABASE":
		return databaseColor
	case "VOICE":
		return voiceColor
	case "TIMELINE":
		return timelineColor
	case "POT":
		return potColor
	case "YTDLP":
		return ytdlpColor
	case "BOT":
		return botColor
	default:
		return color.New(color.FgCyan)
	}
}

func colorizeWithResets(c *color.Color, text string) string {
	if !strings.Contains(text, "\x1b[0m") {
		return c.Sprint(text)
	}

	marker := "@@@MSG@@@"
	wrapped := c.Sprint(marker)
	idx := strings.Index(wrapped, marker)
	if idx <= 0 {
		return text
	}
	startSeq := wrapped[:idx]

	modifiedText := strings.ReplaceAll(text, "\x1b[0m", "\x1b[0m"+startSeq)
	return c.Sprint(modifiedText)
}

// --- Utilities & State ---

func GetLogPath() string {
	logMu.Lock()
	defer logMu.Unlock()
	if logFile == nil {
		return ""
	}
	return logFile.Name()
}

// --- ANSI Stripper ---

type StripANSIWriter struct {
	w  io.Writer
	re *regexp.Regexp
}

func NewStripANSIWriter(w io.Writer) *StripANSIWriter {
	return &StripANSIWriter{
		w:  w,
		re: regexp.MustCompile(`\x1b\[[0-9;]*m`),
	}
}

func (s *StripANSIWriter) Write(p []byte) (n int, err error) {
	clean := s.re.ReplaceAll(p, []byte(""))
	_, err = s.w.Write(clean)
	return len(p), err
}

// --- Message Constants ---

const (
	// --- Infrastructure & Lifecycle ---
	MsgConfigFailedToLoad  = "Failed to load config: %v"
	MsgConfigMissingToken  = "DISCORD_TOKEN is not set in .env file"
	MsgDatabaseInitSuccess = "Database initialized successfully"
	MsgDatabaseTableError  = "Failed to create table: %w"
	MsgDatabasePragmaError = "Failed to set pragma %s: %w"
	MsgDaemonStarting      = "Starting..."
	MsgBotStarting         = "Starting %s..."
	MsgBotReady            = "%s is ready! (ID: %s) (PID: %d) (Took: %dms)"
	MsgBotShutdown         = "Shutting down %s..."
	MsgBotKillingOld       = "Killing running instance... (PID: %d)"
	MsgBotKillFail         = "Failed to kill old instance: %v"
	MsgBotOldTerminated    = "Old instance terminated."
	MsgBotPIDWriteFail     = "Failed to write PID file: %v"
	MsgBotRegisterFail     = "Command registration failed: %v"
	MsgBotAPIStatusError   = "discord API returned status %d"
	MsgGenericError        = "%v"

	// --- Command Loader & Registry ---
	MsgLoaderSyncCommands       = "Syncing %s commands..."
	MsgLoaderCleanup            = "[CLEANUP] Removing commands from previous dev guild: %s"
	MsgLoaderDevStarting        = "[DEV] Registering commands to guild: %s"
	MsgLoaderDevRegistered      = "[DEV] Registered: %s"
	MsgLoaderDevFail            = "[DEV] Registration failed: %v"
	MsgLoaderDevGlobalClear     = "[DEV] Verifying global commands are cleared..."
	MsgLoaderDevGlobalClearFail = "[DEV] Global clear skipped (likely rate limited): %v"
	MsgLoaderProdStarting       = "[PROD] Registering commands globally..."
	MsgLoaderProdRegistered     = "[PROD] Registered: %s"
	MsgLoaderProdFail           = "[PROD] Global registration failed: %w"
	MsgLoaderScanStarting       = "[SCAN] Checking all guilds for ghost commands..."
	MsgLoaderScanCleared        = "[SCAN] Cleared ghost commands from: %s (%s)"
	MsgLoaderPanicRecovered     = "Panic recovered in handler: %v"

	// --- Proof-of-Origin Tokens ---
	MsgPotFetching      = "Requesting token from %s (attempt %d/%d)"
	MsgPotNotReady      = "Token service not ready (HTML response), retrying in %v"
	MsgPotTransportErr  = "Token request failed: %v, retrying in %v"
	MsgPotRejected      = "Token service rejected request: %s"
	MsgPotMissingToken  = "Token service response contained no token"
	MsgPotObtained      = "Obtained token for scope %q (expires: %s)"
	MsgPotGaveUp        = "Giving up on token fetch after %d attempts"
	MsgPotCacheHit      = "Using cached token for scope %q"

	// --- Extraction Tool ---
	MsgYtdlpResolvedVia    = "Using yt-dlp executable: %s"
	MsgYtdlpResolveFail    = "yt-dlp metadata failed: %v, stderr: %s (query: %s)"
	MsgYtdlpEmptyOutput    = "yt-dlp produced no output for query: %s"
	MsgYtdlpParseFail      = "Failed to parse yt-dlp metadata JSON: %v"
	MsgYtdlpNoEntries      = "No search results for query: %s"
	MsgYtdlpStreamStart    = "Starting audio stream for %s"
	MsgYtdlpStreamFirst    = "First audio chunk received for %s"
	MsgYtdlpStreamExit     = "yt-dlp stream exited: %v"
	MsgYtdlpStreamExitOK   = "yt-dlp stream finished for %s"
	MsgYtdlpStderrLine     = "yt-dlp: %s"
	MsgYtdlpNoToken        = "No proof-of-origin token available, streaming unauthenticated"

	// --- Voice & Playback ---
	MsgVoiceJoining      = "Joining channel %s in guild %s"
	MsgVoiceJoinRetry    = "Retrying voice connection in %v (Attempt %d/5)"
	MsgVoiceJoinFail     = "Failed to connect to voice in guild %s after 5 attempts: %v"
	MsgVoiceQueueing     = "Queuing track in guild %s: %s"
	MsgVoiceTrackStart   = "Now playing in guild %s: %s"
	MsgVoiceTrackDone    = "Track finished in guild %s: %s"
	MsgVoiceQueueEmpty   = "Queue empty in guild %s"
	MsgVoiceFfmpegErr    = "FFmpeg: %s"
	MsgVoiceShutdown     = "Shutting down Voice Manager..."
	MsgVoiceAnchorFail     = "Failed to post now-playing message: %v"
	MsgVoiceStreamErr      = "Stream error for %s: %v"
	MsgVoiceRecordPlayFail = "Failed to record play: %v"
	MsgVoiceSearchFallback = "Library search empty, falling back to yt-dlp for: %s"

	// --- Annotation Timeline ---
	MsgTimelineStarted       = "Session started for guild %s (anchor %s, track %s)"
	MsgTimelineStopped       = "Session stopped for guild %s (%d pending deliveries canceled)"
	MsgTimelineSuperseded    = "Session superseded for guild %s"
	MsgTimelineCommentSaved  = "Comment captured at +%dms in guild %s"
	MsgTimelineReactionSaved = "Reaction captured at +%dms in guild %s"
	MsgTimelineSaveFail      = "Failed to persist annotation: %v"
	MsgTimelineScheduled     = "Scheduled %d comment(s) and %d reaction(s) for %s"
	MsgTimelineDeliverFail   = "Failed to deliver annotation: %v"
	MsgTimelineLoadFail      = "Failed to load annotations for %s: %v"
	MsgTimelineAckFail       = "Failed to acknowledge capture: %v"
	MsgTimelineParserFail    = "Failed to initialize naturaltime parser: %v"
	MsgTimelineClearError    = "Clear failed: %v"
	ErrTimelineBadPhrase     = "Could not understand that time phrase. Try 'yesterday', 'last week', or '2 hours ago'."
	ErrTimelineClearFail     = "Failed to clear annotations."
	ErrTimelineOwnerOnly     = "Only bot owners can clear annotations."
	MsgTimelineCleared       = "Cleared **%d** annotation(s)."
	MsgTimelineNoSession     = "No annotation session is active in this server."
	MsgTimelineShow          = "**Annotation Timeline**\nTrack: %s\nComments: **%d** · Reactions: **%d**"

	// --- Status & Activity ---
	MsgStatusUpdateFail = "Update failed: %v"
	MsgStatusRotated    = "Status rotated to: \"%s\""
)
