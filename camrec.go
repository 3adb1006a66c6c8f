// SPDX-License-Identifier: GPL-2.0-or-later

// Package camrec wires the camera client, recorder, storage and
// Discord bot into a single application.
package camrec

import (
	"camrec/pkg/bot"
	"camrec/pkg/camera"
	"camrec/pkg/log"
	"camrec/pkg/storage"
	"camrec/pkg/system"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrMissingToken .
var ErrMissingToken = errors.New("discordToken is not set in env.yaml")

// App is the main application struct.
type App struct {
	WG      *sync.WaitGroup
	Env     *storage.ConfigEnv
	Logger  *log.Logger
	Camera  *camera.Client
	Storage *storage.Manager
	System  *system.System
	Bot     *bot.Bot

	logDB *log.DB
	logf  log.Func
}

// NewApp reads the environment config and wires up the application.
func NewApp(configDir string, wg *sync.WaitGroup) (*App, error) {
	env, err := loadEnv(configDir)
	if err != nil {
		return nil, err
	}
	if env.DiscordToken == "" {
		return nil, ErrMissingToken
	}

	logger := log.NewLogger()
	logDB := log.NewDB(env.LogDBPath(), wg)

	cam := camera.NewClient(env.CameraURL(), env.StreamPath)
	manager := storage.NewManager(env, logger)
	sys := system.New(manager.Usage)

	b, err := bot.New(env, cam, sys, logFunc(logger, "bot", env.CameraHost))
	if err != nil {
		return nil, fmt.Errorf("could not create bot: %w", err)
	}

	return &App{
		WG:      wg,
		Env:     env,
		Logger:  logger,
		Camera:  cam,
		Storage: manager,
		System:  sys,
		Bot:     b,

		logDB: logDB,
		logf:  logFunc(logger, "app", ""),
	}, nil
}

func (a *App) run(ctx context.Context) error {
	go a.Logger.Start(ctx)
	go a.Logger.LogToStdout(ctx)

	if err := a.logDB.Init(ctx); err != nil {
		// Continue even if the log database is corrupt.
		time.Sleep(10 * time.Millisecond)
		a.logf(log.LevelError, "could not initialize log database: %v", err)
	} else {
		go a.logDB.SaveLogs(ctx, a.Logger)
		time.Sleep(10 * time.Millisecond)
	}

	if err := a.Env.PrepareEnvironment(); err != nil {
		return fmt.Errorf("could not prepare environment: %w", err)
	}

	go a.Storage.PurgeLoop(ctx, 1*time.Hour)

	a.logf(log.LevelInfo, "storage directory: %v", a.Env.StorageDir)
	return a.Bot.Run(ctx)
}

// readEnvYAML reads env.yaml, generating a default config on first run.
func readEnvYAML(envPath string) ([]byte, error) {
	envYAML, err := os.ReadFile(envPath)
	if err == nil {
		return envYAML, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("could not read env.yaml: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(envPath), 0o700); err != nil {
		return nil, fmt.Errorf("could not create config directory: %w", err)
	}
	if err := os.WriteFile(envPath, []byte(defaultEnvYAML), 0o600); err != nil {
		return nil, fmt.Errorf("could not generate default config: %w", err)
	}
	fmt.Fprintf(os.Stderr, "generated default config: %v\n", envPath)

	return []byte(defaultEnvYAML), nil
}

// Defaults match the stock camera firmware.
const defaultEnvYAML = `# Camera address.
cameraHost: 192.168.1.100
cameraPort: 80
streamPath: /stream

# Discord bot token, required for bot mode.
discordToken: ""

# Maximum Discord upload size in megabytes.
maxUploadMB: 25

# Recordings and logs are stored here. Defaults to the config directory.
#storageDir: /var/lib/camrec
`

// logFunc returns a Func that fills in the log source and camera.
func logFunc(logger *log.Logger, src string, cameraID string) log.Func {
	return func(level log.Level, format string, args ...interface{}) {
		logger.Log(log.Entry{
			Level:    level,
			Src:      src,
			CameraID: cameraID,
			Msg:      fmt.Sprintf(format, args...),
		})
	}
}
