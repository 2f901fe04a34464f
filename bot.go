package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/omit"
)

var adminPerm = discord.PermissionAdministrator

// ===========================
// Command Registration
// ===========================

func init() {
	OnClientReady(func(ctx context.Context, client *bot.Client) {
		RegisterDaemon(LogBot, func(ctx context.Context) (bool, func(), func()) {
			return StartStatusRotator(ctx, client)
		})
	})

	RegisterCommand(discord.SlashCommandCreate{
		Name:        "stats",
		Description: "Show playback statistics for this server",
	}, handleStats)

	RegisterCommand(discord.SlashCommandCreate{
		Name:                     "bot",
		Description:              "Bot management utilities (Admin Only)",
		DefaultMemberPermissions: omit.New(&adminPerm),
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "reboot",
				Description: "Restart the bot process",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "shutdown",
				Description: "Shut down the bot process",
			},
		},
	}, handleBot)
}

func handleBot(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	if data.SubCommandName == nil {
		return
	}
	switch *data.SubCommandName {
	case "reboot":
		handleBotReboot(event)
	case "shutdown":
		handleBotShutdown(event)
	}
}

func handleBotReboot(event *events.ApplicationCommandInteractionCreate) {
	LogWarn("Reboot requested by %s (%s)", event.User().Username, event.User().ID)
	_ = RespondInteractionV2(*event.Client(), event, NewV2Container(NewTextDisplay("♻️ Rebooting...")), true)

	RestartRequested = true
	time.AfterFunc(1500*time.Millisecond, func() {
		_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
	})
}

func handleBotShutdown(event *events.ApplicationCommandInteractionCreate) {
	LogWarn("Shutdown requested by %s (%s)", event.User().Username, event.User().ID)
	_ = RespondInteractionV2(*event.Client(), event, NewV2Container(NewTextDisplay("🛑 Shutting down...")), true)
	time.AfterFunc(1*time.Second, func() {
		_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
	})
}

// ===========================
// Status Rotator Logic
// ===========================

func GetRotationInterval() time.Duration {
	return time.Duration(15+rand.Intn(46)) * time.Second
}

func StartStatusRotator(ctx context.Context, client *bot.Client) (bool, func(), func()) {
	next := GetRotationInterval()
	updateStatus(ctx, client)

	return true, func() {
		for {
			select {
			case <-time.After(next):
				next = GetRotationInterval()
				updateStatus(ctx, client)
			case <-ctx.Done():
				return
			}
		}
	}, nil
}

// updateStatus reflects the current track in the bot presence, falling
// back to uptime when nothing is playing anywhere.
func updateStatus(ctx context.Context, client *bot.Client) {
	text := GetNowPlayingStatus()
	var opts []gateway.PresenceOpt
	opts = append(opts, gateway.WithOnlineStatus(discord.OnlineStatusOnline))
	if text != "" {
		opts = append(opts, gateway.WithListeningActivity(text))
	} else {
		opts = append(opts, gateway.WithPlayingActivity(GetUptimeStatus()))
	}

	if err := client.SetPresence(ctx, opts...); err != nil {
		LogBot(MsgStatusUpdateFail, err)
		return
	}
	if text == "" {
		text = GetUptimeStatus()
	}
	LogBot(MsgStatusRotated, text)
}

// GetNowPlayingStatus returns the title of any currently playing track.
func GetNowPlayingStatus() string {
	vm := GetVoiceManager()
	vm.mu.Lock()
	defer vm.mu.Unlock()
	for _, s := range vm.sessions {
		s.queueMu.Lock()
		t := s.currentTrack
		s.queueMu.Unlock()
		if t != nil && t.Title != "" {
			return t.Title
		}
	}
	return ""
}

// GetUptimeStatus returns a status string showing bot uptime
func GetUptimeStatus() string {
	return "Uptime: " + FormatDuration(time.Since(StartupTime))
}

// ===========================
// Command Handlers
// ===========================

func handleStats(event *events.ApplicationCommandInteractionCreate) {
	guildID := event.GuildID()
	if guildID == nil {
		_ = RespondInteractionV2(*event.Client(), event, NewV2Container(NewTextDisplay("Not in a guild.")), true)
		return
	}

	stats, err := GetTopPlays(AppContext, *guildID, 10)
	if err != nil {
		_ = RespondInteractionV2(*event.Client(), event, NewV2Container(NewTextDisplay("Failed to load stats.")), true)
		return
	}

	if len(stats) == 0 {
		_ = RespondInteractionV2(*event.Client(), event, NewV2Container(NewTextDisplay("Nothing has been played here yet.")), true)
		return
	}

	var sb strings.Builder
	sb.WriteString("**Most Played Tracks**\n")
	for i, s := range stats {
		title := s.Title
		if title == "" {
			title = s.TrackURL
		}
		sb.WriteString(fmt.Sprintf("%d. [%s](%s) · **%d** play(s)\n", i+1, Truncate(title, 60), s.TrackURL, s.Count))
	}
	sb.WriteString(fmt.Sprintf("\n%s", GetUptimeStatus()))

	_ = RespondInteractionV2(*event.Client(), event, NewV2Container(NewTextDisplay(sb.String())), false)
}
