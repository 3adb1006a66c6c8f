// SPDX-License-Identifier: GPL-2.0-or-later

// Package bot exposes the camera over Discord prefix commands.
package bot

import (
	"context"
	"fmt"
	"strings"

	"camrec/pkg/camera"
	"camrec/pkg/log"
	"camrec/pkg/recorder"
	"camrec/pkg/storage"
	"camrec/pkg/system"

	"github.com/bwmarrin/discordgo"
)

// DefaultPrefix for commands.
const DefaultPrefix = "!"

// Embed colors.
const (
	colorGreen  = 0x2ecc71
	colorYellow = 0xfee75c
	colorOrange = 0xe67e22
	colorPurple = 0x9b59b6
	colorBlue   = 0x3498db
	colorRed    = 0xed4245
	colorGold   = 0xf1c40f
)

// session is the slice of discordgo the command handlers use.
type session interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID string, messageID string, options ...discordgo.RequestOption) error
}

type recordFunc func(ctx context.Context, conf recorder.Config) (*recorder.Result, error)
type hostStatusFunc func(ctx context.Context) (system.Status, error)

// Bot hands commands off to the camera client and the recorder.
type Bot struct {
	prefix string
	env    *storage.ConfigEnv
	camera *camera.Client
	logf   log.Func

	discord *discordgo.Session
	session session

	record     recordFunc
	hostStatus hostStatusFunc

	ctx       context.Context
	recording int32
}

// New creates the Discord session. Run starts it.
func New(
	env *storage.ConfigEnv,
	cam *camera.Client,
	sys *system.System,
	logf log.Func,
) (*Bot, error) {
	discord, err := discordgo.New("Bot " + env.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	discord.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent

	b := &Bot{
		prefix:  DefaultPrefix,
		env:     env,
		camera:  cam,
		logf:    logf,
		discord: discord,
		session: discord,
		record: func(ctx context.Context, conf recorder.Config) (*recorder.Result, error) {
			return recorder.NewSession(conf, logf).Record(ctx)
		},
		hostStatus: sys.Status,
	}
	discord.AddHandler(b.onMessageCreate)

	return b, nil
}

// Run opens the session and blocks until ctx is canceled.
func (b *Bot) Run(ctx context.Context) error {
	b.ctx = ctx

	if err := b.discord.Open(); err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	b.logf(log.LevelInfo, "connected, command prefix %q", b.prefix)

	<-ctx.Done()
	return b.discord.Close()
}

func (b *Bot) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	b.handleMessage(m.ChannelID, m.Content)
}

// handleMessage dispatches one command. discordgo invokes handlers on
// their own goroutine, blocking here is fine.
func (b *Bot) handleMessage(channelID string, content string) {
	if !strings.HasPrefix(content, b.prefix) {
		return
	}
	fields := strings.Fields(strings.TrimPrefix(content, b.prefix))
	if len(fields) == 0 {
		return
	}

	switch strings.ToLower(fields[0]) {
	case "photo":
		b.handlePhoto(channelID, false)
	case "flashphoto":
		b.handlePhoto(channelID, true)
	case "daily":
		b.handleDaily(channelID)
	case "video":
		b.handleVideo(channelID, fields[1:])
	case "status":
		b.handleStatus(channelID)
	case "help":
		b.handleHelp(channelID)
	}
}

// A failed reply can't be reported anywhere else, so the send helpers
// log instead of returning errors.
func (b *Bot) send(channelID string, content string) {
	if _, err := b.session.ChannelMessageSend(channelID, content); err != nil {
		b.logf(log.LevelError, "send message: %v", err)
	}
}

func (b *Bot) sendEmbed(channelID string, embed *discordgo.MessageEmbed) {
	_, err := b.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{embed},
	})
	if err != nil {
		b.logf(log.LevelError, "send embed: %v", err)
	}
}

func (b *Bot) sendError(channelID string, description string) {
	b.sendEmbed(channelID, &discordgo.MessageEmbed{
		Title:       "Error",
		Description: description,
		Color:       colorRed,
	})
}

func (b *Bot) sendConnectionError(channelID string) {
	b.sendError(channelID, fmt.Sprintf(
		"Can't reach the camera at `%v`.\nCheck that it's powered on and connected.",
		b.env.CameraURL()))
}
