// SPDX-License-Identifier: GPL-2.0-or-later

package bot

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"camrec/pkg/log"
	"camrec/pkg/recorder"

	"github.com/bwmarrin/discordgo"
)

// Video length bounds in seconds.
const (
	defaultVideoSeconds = 10
	maxVideoSeconds     = 30
)

const timestampFormat = "2006-01-02_15-04-05"

func (b *Bot) handlePhoto(channelID string, flash bool) {
	var photo []byte
	var err error
	if flash {
		photo, err = b.camera.CaptureWithFlash(b.ctx)
	} else {
		photo, err = b.camera.Capture(b.ctx)
	}
	if err != nil {
		b.logf(log.LevelError, "capture photo: %v", err)
		b.sendConnectionError(channelID)
		return
	}

	now := time.Now()
	name := "photo_" + now.Format(timestampFormat) + ".jpg"
	title := "Live photo"
	color := colorGreen
	if flash {
		name = "photo_flash_" + now.Format(timestampFormat) + ".jpg"
		title = "Live photo with flash"
		color = colorYellow
	}

	b.sendPhoto(channelID, photo, name, &discordgo.MessageEmbed{
		Title:       title,
		Description: "Captured " + now.Format("2006-01-02 15:04:05"),
		Color:       color,
	})
}

func (b *Bot) handleDaily(channelID string) {
	photo, name, err := b.camera.DailyPhoto(b.ctx)
	if err != nil {
		b.logf(log.LevelError, "daily photo: %v", err)
		b.sendConnectionError(channelID)
		return
	}

	// The fallback name is the camera client's own convention,
	// anything else came off the SD card.
	source := "From the SD card."
	if strings.HasPrefix(name, "daily_") {
		source = "Live capture, no saved photo today."
	}

	b.sendPhoto(channelID, photo, name, &discordgo.MessageEmbed{
		Title:       "Daily photo " + time.Now().Format("2006-01-02"),
		Description: source,
		Color:       colorOrange,
	})
}

func (b *Bot) handleVideo(channelID string, args []string) {
	seconds := defaultVideoSeconds
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			b.send(channelID, fmt.Sprintf("Usage: `%vvideo [seconds]`", b.prefix))
			return
		}
		seconds = n
	}
	if seconds < 1 {
		seconds = 1
	}
	if seconds > maxVideoSeconds {
		seconds = maxVideoSeconds
	}

	if !atomic.CompareAndSwapInt32(&b.recording, 0, 1) {
		b.send(channelID, "Already recording, try again once it finishes.")
		return
	}
	defer atomic.StoreInt32(&b.recording, 0)

	plural := "s"
	if seconds == 1 {
		plural = ""
	}
	notice, err := b.session.ChannelMessageSend(channelID,
		fmt.Sprintf("Recording %d second%s of video...", seconds, plural))
	if err != nil {
		b.logf(log.LevelError, "send notice: %v", err)
	}

	outputPath := filepath.Join(b.env.TempDir,
		"video_"+time.Now().Format(timestampFormat)+".avi")

	// Blocks for the whole recording. Handlers run on their own
	// goroutine, other commands stay responsive.
	result, recordErr := b.record(b.ctx, recorder.Config{
		URL:        b.env.StreamURL(),
		Duration:   time.Duration(seconds) * time.Second,
		OutputPath: outputPath,
	})

	defer func() {
		if err := os.Remove(outputPath); err != nil && !os.IsNotExist(err) {
			b.logf(log.LevelWarning, "remove temp video: %v", err)
		}
	}()

	if notice != nil {
		if err := b.session.ChannelMessageDelete(channelID, notice.ID); err != nil {
			b.logf(log.LevelWarning, "delete notice: %v", err)
		}
	}

	if recordErr != nil {
		b.logf(log.LevelError, "record video: %v", recordErr)
		b.sendError(channelID, fmt.Sprintf(
			"Could not record from `%v`.\nCheck that the stream is up and the camera reachable.",
			b.env.StreamURL()))
		return
	}

	if result.FileSize > b.env.MaxUploadBytes() {
		b.sendError(channelID, fmt.Sprintf(
			"The video (%.1f MB) is over the upload limit (%v MB).\nTry a shorter duration.",
			float64(result.FileSize)/1024/1024, b.env.MaxUploadMB))
		return
	}

	file, err := os.Open(outputPath)
	if err != nil {
		b.logf(log.LevelError, "open video: %v", err)
		b.sendError(channelID, "Could not read back the recorded video.")
		return
	}
	defer file.Close()

	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Video, %d second%s", seconds, plural),
		Description: "Recorded " + time.Now().Format("2006-01-02 15:04:05"),
		Color:       colorPurple,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("%v frames • %.0f KB",
				result.FramesWritten, float64(result.FileSize)/1024),
		},
	}
	_, err = b.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{embed},
		Files: []*discordgo.File{{
			Name:        filepath.Base(outputPath),
			ContentType: "video/avi",
			Reader:      file,
		}},
	})
	if err != nil {
		b.logf(log.LevelError, "send video: %v", err)
	}
}

func (b *Bot) handleStatus(channelID string) {
	camStatus, err := b.camera.Status(b.ctx)
	if err != nil {
		b.logf(log.LevelError, "camera status: %v", err)
		b.sendConnectionError(channelID)
		return
	}

	embed := &discordgo.MessageEmbed{
		Title: "Camera status",
		Color: colorBlue,
		Footer: &discordgo.MessageEmbedFooter{
			Text: b.env.CameraURL(),
		},
	}
	addField := func(name string, value string) {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   name,
			Value:  value,
			Inline: true,
		})
	}

	if camStatus.HeapFree > 0 {
		addField("Heap free", fmt.Sprintf("%v KB", camStatus.HeapFree/1024))
	}
	if camStatus.PsramFree > 0 {
		addField("PSRAM free", fmt.Sprintf("%v KB", camStatus.PsramFree/1024))
	}
	if camStatus.RSSI != 0 {
		addField("WiFi signal", fmt.Sprintf("%v dBm (%v)", camStatus.RSSI, camStatus.RSSIQuality()))
	}
	if camStatus.SSID != "" {
		addField("WiFi network", camStatus.SSID)
	}
	if camStatus.Uptime > 0 {
		addField("Uptime", camStatus.UptimeString())
	}
	if camStatus.SDTotalMB > 0 {
		addField("SD card", fmt.Sprintf("%v/%v MB used", camStatus.SDUsedMB, camStatus.SDTotalMB))
	}

	host, err := b.hostStatus(b.ctx)
	if err != nil {
		b.logf(log.LevelWarning, "host status: %v", err)
	} else {
		addField("Host CPU", fmt.Sprintf("%v%%", host.CPUUsage))
		addField("Host RAM", fmt.Sprintf("%v%%", host.RAMUsage))
		addField("Host disk", host.DiskUsageFormatted)
	}

	b.sendEmbed(channelID, embed)
}

func (b *Bot) handleHelp(channelID string) {
	embed := &discordgo.MessageEmbed{
		Title:       "Commands",
		Description: "Control the camera from Discord.",
		Color:       colorGold,
	}
	commands := [][2]string{
		{"photo", "Capture and send a live photo"},
		{"flashphoto", "Capture with the flash on"},
		{"daily", "Today's photo from the SD card, or a live capture"},
		{"video [seconds]", fmt.Sprintf("Record and send a video, at most %v seconds", maxVideoSeconds)},
		{"status", "Camera and host status"},
		{"help", "This list"},
	}
	for _, command := range commands {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("`%v%v`", b.prefix, command[0]),
			Value: command[1],
		})
	}
	b.sendEmbed(channelID, embed)
}

func (b *Bot) sendPhoto(channelID string, photo []byte, name string, embed *discordgo.MessageEmbed) {
	embed.Image = &discordgo.MessageEmbedImage{URL: "attachment://" + name}

	_, err := b.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{embed},
		Files: []*discordgo.File{{
			Name:        name,
			ContentType: "image/jpeg",
			Reader:      bytes.NewReader(photo),
		}},
	})
	if err != nil {
		b.logf(log.LevelError, "send photo: %v", err)
	}
}
