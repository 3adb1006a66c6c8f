// SPDX-License-Identifier: GPL-2.0-or-later

package camrec

import (
	"camrec/pkg/camera"
	"camrec/pkg/log"
	"camrec/pkg/recorder"
	"camrec/pkg/storage"
	"camrec/pkg/system"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

// Run parses the command line and runs the selected command.
func Run() error {
	configDir := flag.String("configDir", "configs", "configuration directory")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	command := flag.Arg(0)
	args := flag.Args()[1:]

	if command == "bot" {
		return runBot(ctx, *configDir)
	}

	env, err := loadEnv(*configDir)
	if err != nil {
		return err
	}

	switch command {
	case "record":
		return cmdRecord(ctx, env, args)
	case "photo":
		return cmdPhoto(ctx, env, args)
	case "daily":
		return cmdDaily(ctx, env, args)
	case "flash":
		return cmdFlash(ctx, env, args)
	case "status":
		return cmdStatus(ctx, env)
	case "photos":
		return cmdPhotos(ctx, env, args)
	case "recordings":
		return cmdRecordings(env)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command: %v", command)
	}
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: camrec [flags] <command>

Commands:
  photo       capture a live photo (-o path, -flash)
  daily       fetch today's photo from the SD card (-o path)
  record      record the stream to an AVI file (-url, -d seconds, -o path, -fps)
  flash       turn the flash LED on or off: flash on|off
  status      print camera and host status
  photos      list photos on the SD card (-get name, -o path)
  recordings  list stored recordings
  bot         run the Discord bot

Flags:
`)
	flag.PrintDefaults()
}

// loadEnv reads the environment config from configDir.
func loadEnv(configDir string) (*storage.ConfigEnv, error) {
	configDir, err := filepath.Abs(configDir)
	if err != nil {
		return nil, fmt.Errorf("could not get absolute path of config directory: %w", err)
	}

	envPath := filepath.Join(configDir, "env.yaml")
	envYAML, err := readEnvYAML(envPath)
	if err != nil {
		return nil, err
	}

	env, err := storage.NewConfigEnv(envPath, envYAML)
	if err != nil {
		return nil, fmt.Errorf("could not get environment config: %w", err)
	}
	return env, nil
}

// runBot runs the bot until a fatal error or an interrupt.
func runBot(ctx context.Context, configDir string) error {
	wg := &sync.WaitGroup{}
	app, err := NewApp(configDir, wg)
	if err != nil {
		return err
	}

	botCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fatal := make(chan error, 1)
	go func() { fatal <- app.run(botCtx) }()

	select {
	case err = <-fatal:
		app.logf(log.LevelError, "fatal error: %v", err)
	case <-ctx.Done():
		app.logf(log.LevelInfo, "received interrupt, stopping")
		cancel()
		err = <-fatal
	}

	cancel()
	wg.Wait()
	return err
}

func cmdRecord(ctx context.Context, env *storage.ConfigEnv, args []string) error {
	flags := flag.NewFlagSet("record", flag.ContinueOnError)
	url := flags.String("url", "", "stream url (default: the configured camera)")
	durationSec := flags.Int("d", 10, "duration in seconds")
	output := flags.String("o", "", "output path (default: the recordings directory)")
	fps := flags.Int("fps", recorder.DefaultFPS, "playback frame rate")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *durationSec <= 0 {
		return fmt.Errorf("duration must be positive, got %v", *durationSec)
	}

	streamURL := *url
	if streamURL == "" {
		streamURL = env.StreamURL()
	}

	outputPath := *output
	if outputPath == "" {
		if err := os.MkdirAll(env.RecordingsDir(), 0o700); err != nil {
			return fmt.Errorf("could not create recordings directory: %w", err)
		}
		manager := storage.NewManager(env, log.Discard)
		outputPath = manager.RecordingFilePath("rec", time.Now())
	}

	conf := recorder.Config{
		URL:        streamURL,
		Duration:   time.Duration(*durationSec) * time.Second,
		OutputPath: outputPath,
		FPS:        *fps,
		OnProgress: func(elapsed, total time.Duration, frames int) {
			printProgress(os.Stderr, elapsed, total, frames)
		},
	}

	fmt.Fprintf(os.Stderr, "recording %vs from %v\n", *durationSec, streamURL)

	result, err := recorder.NewSession(conf, cliLogFunc).Record(ctx)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		if result != nil && result.FramesWritten > 0 {
			fmt.Fprintf(os.Stderr, "keeping partial recording: %v\n", result.OutputPath)
		}
		return err
	}

	fmt.Printf("%v  %v frames  %v\n",
		result.OutputPath, result.FramesWritten, formatSize(result.FileSize))
	return nil
}

func cmdPhoto(ctx context.Context, env *storage.ConfigEnv, args []string) error {
	flags := flag.NewFlagSet("photo", flag.ContinueOnError)
	output := flags.String("o", "", "output path (default: photo_<timestamp>.jpg)")
	flash := flags.Bool("flash", false, "fire the flash LED")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cam := camera.NewClient(env.CameraURL(), env.StreamPath)

	var photo []byte
	var err error
	if *flash {
		photo, err = cam.CaptureWithFlash(ctx)
	} else {
		photo, err = cam.Capture(ctx)
	}
	if err != nil {
		return fmt.Errorf("could not capture photo: %w", err)
	}

	outputPath := *output
	if outputPath == "" {
		outputPath = "photo_" + time.Now().Format("2006-01-02_15-04-05") + ".jpg"
	}
	if err := os.WriteFile(outputPath, photo, 0o600); err != nil {
		return fmt.Errorf("could not write photo: %w", err)
	}

	fmt.Printf("%v  %v\n", outputPath, formatSize(int64(len(photo))))
	return nil
}

func cmdDaily(ctx context.Context, env *storage.ConfigEnv, args []string) error {
	flags := flag.NewFlagSet("daily", flag.ContinueOnError)
	output := flags.String("o", "", "output path (default: the photo name)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cam := camera.NewClient(env.CameraURL(), env.StreamPath)
	photo, name, err := cam.DailyPhoto(ctx)
	if err != nil {
		return fmt.Errorf("could not fetch daily photo: %w", err)
	}

	outputPath := *output
	if outputPath == "" {
		outputPath = filepath.Base(name)
	}
	if err := os.WriteFile(outputPath, photo, 0o600); err != nil {
		return fmt.Errorf("could not write photo: %w", err)
	}

	fmt.Printf("%v  %v\n", outputPath, formatSize(int64(len(photo))))
	return nil
}

func cmdFlash(ctx context.Context, env *storage.ConfigEnv, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: camrec flash on|off")
	}
	if args[0] != "on" && args[0] != "off" {
		return fmt.Errorf("expected on or off, got %q", args[0])
	}

	cam := camera.NewClient(env.CameraURL(), env.StreamPath)
	if err := cam.SetFlash(ctx, args[0] == "on"); err != nil {
		return fmt.Errorf("could not set flash: %w", err)
	}

	fmt.Printf("flash %v\n", args[0])
	return nil
}

func cmdStatus(ctx context.Context, env *storage.ConfigEnv) error {
	cam := camera.NewClient(env.CameraURL(), env.StreamPath)
	status, err := cam.Status(ctx)
	if err != nil {
		return fmt.Errorf("could not get camera status: %w", err)
	}

	fmt.Printf("Camera %v\n", env.CameraURL())
	if status.HeapFree > 0 {
		fmt.Printf("  Heap free:    %v KB\n", status.HeapFree/1024)
	}
	if status.PsramFree > 0 {
		fmt.Printf("  PSRAM free:   %v KB\n", status.PsramFree/1024)
	}
	if status.RSSI != 0 {
		fmt.Printf("  WiFi signal:  %v dBm (%v)\n", status.RSSI, status.RSSIQuality())
	}
	if status.SSID != "" {
		fmt.Printf("  WiFi network: %v\n", status.SSID)
	}
	if status.Uptime > 0 {
		fmt.Printf("  Uptime:       %v\n", status.UptimeString())
	}
	if status.SDTotalMB > 0 {
		fmt.Printf("  SD card:      %v/%v MB used\n", status.SDUsedMB, status.SDTotalMB)
	}

	sys := system.New(storage.NewManager(env, log.Discard).Usage)
	hostStatus, err := sys.Status(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "host status unavailable: %v\n", err)
		return nil
	}

	fmt.Println("Host")
	fmt.Printf("  CPU:  %v%%\n", hostStatus.CPUUsage)
	fmt.Printf("  RAM:  %v%%\n", hostStatus.RAMUsage)
	fmt.Printf("  Disk: %v\n", hostStatus.DiskUsageFormatted)
	return nil
}

func cmdPhotos(ctx context.Context, env *storage.ConfigEnv, args []string) error {
	flags := flag.NewFlagSet("photos", flag.ContinueOnError)
	get := flags.String("get", "", "download the named photo")
	output := flags.String("o", "", "output path for -get (default: the photo name)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cam := camera.NewClient(env.CameraURL(), env.StreamPath)

	if *get != "" {
		photo, err := cam.Photo(ctx, *get)
		if err != nil {
			return fmt.Errorf("could not download photo: %w", err)
		}
		outputPath := *output
		if outputPath == "" {
			outputPath = filepath.Base(*get)
		}
		if err := os.WriteFile(outputPath, photo, 0o600); err != nil {
			return fmt.Errorf("could not write photo: %w", err)
		}
		fmt.Printf("%v  %v\n", outputPath, formatSize(int64(len(photo))))
		return nil
	}

	photos, err := cam.Photos(ctx)
	if err != nil {
		return fmt.Errorf("could not list photos: %w", err)
	}
	if len(photos) == 0 {
		fmt.Println("no photos")
		return nil
	}
	for _, photo := range photos {
		if photo.Size > 0 {
			fmt.Printf("%v  %v\n", photo.Name, formatSize(photo.Size))
		} else {
			fmt.Println(photo.Name)
		}
	}
	return nil
}

func cmdRecordings(env *storage.ConfigEnv) error {
	manager := storage.NewManager(env, log.Discard)
	recordings, err := manager.Recordings()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Println("no recordings")
			return nil
		}
		return fmt.Errorf("could not list recordings: %w", err)
	}
	if len(recordings) == 0 {
		fmt.Println("no recordings")
		return nil
	}

	for _, rec := range recordings {
		fmt.Printf("%v  %v  %v\n",
			rec.ModTime.Format("2006-01-02 15:04"), formatSize(rec.Size), rec.Name)
	}
	return nil
}

// cliLogFunc prints session logs to stderr, skipping debug entries.
func cliLogFunc(level log.Level, format string, args ...interface{}) {
	if level > log.LevelInfo {
		return
	}
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}

// printProgress renders a single line progress bar.
//
//	[=====>    ]  42%  4/10s  63 frames
func printProgress(w io.Writer, elapsed, total time.Duration, frames int) {
	if total <= 0 {
		return
	}
	ratio := float64(elapsed) / float64(total)
	if ratio > 1 {
		ratio = 1
	}

	const width = 10
	bar := make([]byte, width)
	filled := int(ratio * width)
	for i := range bar {
		switch {
		case i < filled:
			bar[i] = '='
		case i == filled:
			bar[i] = '>'
		default:
			bar[i] = ' '
		}
	}

	fmt.Fprintf(w, "\r[%s] %3.0f%%  %v/%vs  %v frames",
		bar, ratio*100, int(elapsed.Seconds()), int(total.Seconds()), frames)
}

func formatSize(n int64) string {
	if n >= 1024*1024 {
		return fmt.Sprintf("%.1f MB", float64(n)/1024/1024)
	}
	return fmt.Sprintf("%.0f KB", float64(n)/1024)
}
