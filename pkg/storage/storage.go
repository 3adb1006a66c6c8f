// SPDX-License-Identifier: GPL-2.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"camrec/pkg/log"

	"github.com/shirou/gopsutil/v3/disk"
	"gopkg.in/yaml.v2"
)

// Recordings older than this are deleted when the disk fills up.
const purgeThreshold = 95

// Manager owns the recordings directory.
type Manager struct {
	storageDir    string
	recordingsDir string

	diskUsage func(string) (*disk.UsageStat, error)
	remove    func(string) error

	logger log.ILogger
}

// NewManager returns new manager.
func NewManager(env *ConfigEnv, logger log.ILogger) *Manager {
	return &Manager{
		storageDir:    env.StorageDir,
		recordingsDir: env.RecordingsDir(),

		diskUsage: disk.Usage,
		remove:    os.Remove,

		logger: logger,
	}
}

// RecordingsDir returns the path to the recordings directory.
func (s *Manager) RecordingsDir() string {
	return s.recordingsDir
}

// RecordingFilePath returns the output path for a recording started at t.
func (s *Manager) RecordingFilePath(prefix string, t time.Time) string {
	name := prefix + "_" + t.Format("2006-01-02_15-04-05") + ".avi"
	return filepath.Join(s.recordingsDir, name)
}

// Recording is a single stored recording.
type Recording struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// Recordings returns stored recordings, newest first.
func (s *Manager) Recordings() ([]Recording, error) {
	entries, err := os.ReadDir(s.recordingsDir)
	if err != nil {
		return nil, fmt.Errorf("read recordings directory: %w", err)
	}

	var recordings []Recording
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".avi" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		recordings = append(recordings, Recording{
			Name:    entry.Name(),
			Path:    filepath.Join(s.recordingsDir, entry.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(recordings, func(i, j int) bool {
		return recordings[i].ModTime.After(recordings[j].ModTime)
	})
	return recordings, nil
}

// DiskUsage of the filesystem backing the storage directory.
type DiskUsage struct {
	Used      uint64
	Total     uint64
	Percent   int
	Formatted string
}

// Usage returns the disk usage of the storage directory.
func (s *Manager) Usage() (DiskUsage, error) {
	stat, err := s.diskUsage(s.storageDir)
	if err != nil {
		return DiskUsage{}, fmt.Errorf("disk usage: %v: %w", s.storageDir, err)
	}

	percent := int(stat.UsedPercent)
	return DiskUsage{
		Used:      stat.Used,
		Total:     stat.Total,
		Percent:   percent,
		Formatted: fmt.Sprintf("%v (%d%%)", formatBytes(float64(stat.Used)), percent),
	}, nil
}

// purge deletes the oldest recordings while disk usage is above the
// threshold. Usage is re-checked before every delete.
func (s *Manager) purge() error {
	for {
		usage, err := s.Usage()
		if err != nil {
			return err
		}
		if usage.Percent < purgeThreshold {
			return nil
		}

		recordings, err := s.Recordings()
		if err != nil {
			return err
		}
		if len(recordings) == 0 {
			return nil
		}

		oldest := recordings[len(recordings)-1]
		if err := s.remove(oldest.Path); err != nil {
			return fmt.Errorf("remove oldest recording: %v: %w", oldest.Name, err)
		}

		s.logger.Log(log.Entry{
			Level: log.LevelInfo,
			Src:   "storage",
			Msg:   fmt.Sprintf("disk usage %v%%, purged %v", usage.Percent, oldest.Name),
		})
	}
}

// PurgeLoop runs purge on an interval until context is canceled.
func (s *Manager) PurgeLoop(ctx context.Context, duration time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(duration):
			if err := s.purge(); err != nil {
				s.logger.Log(log.Entry{
					Level: log.LevelError,
					Src:   "storage",
					Msg:   fmt.Sprintf("could not purge storage: %v", err),
				})
			}
		}
	}
}

const (
	kilobyte float64 = 1000
	megabyte         = kilobyte * 1000
	gigabyte         = megabyte * 1000
	terabyte         = gigabyte * 1000
)

func formatBytes(used float64) string {
	switch {
	case used < 1000*megabyte:
		return fmt.Sprintf("%.0fMB", used/megabyte)
	case used < 10*gigabyte:
		return fmt.Sprintf("%.2fGB", used/gigabyte)
	case used < 100*gigabyte:
		return fmt.Sprintf("%.1fGB", used/gigabyte)
	case used < 1000*gigabyte:
		return fmt.Sprintf("%.0fGB", used/gigabyte)
	case used < 10*terabyte:
		return fmt.Sprintf("%.2fTB", used/terabyte)
	case used < 100*terabyte:
		return fmt.Sprintf("%.1fTB", used/terabyte)
	default:
		return fmt.Sprintf("%.0fTB", used/terabyte)
	}
}

// ConfigEnv stores system configuration.
type ConfigEnv struct {
	CameraHost string `yaml:"cameraHost"`
	CameraPort int    `yaml:"cameraPort"`
	StreamPath string `yaml:"streamPath"`

	DiscordToken string `yaml:"discordToken"`
	MaxUploadMB  int    `yaml:"maxUploadMB"`

	StorageDir string `yaml:"storageDir"`
	TempDir    string

	ConfigDir string
}

// ErrPathNotAbsolute path is not absolute.
var ErrPathNotAbsolute = errors.New("path is not absolute")

// ErrCameraHostMissing camera host is not set.
var ErrCameraHostMissing = errors.New("cameraHost is not set")

// NewConfigEnv return new environment configuration.
func NewConfigEnv(envPath string, envYAML []byte) (*ConfigEnv, error) {
	var env ConfigEnv

	if err := yaml.Unmarshal(envYAML, &env); err != nil {
		return nil, fmt.Errorf("unmarshal env.yaml: %w", err)
	}

	env.ConfigDir = filepath.Dir(envPath)
	env.TempDir = filepath.Join(os.TempDir(), "camrec")

	if env.CameraHost == "" {
		return nil, ErrCameraHostMissing
	}
	if env.CameraPort == 0 {
		env.CameraPort = 80
	}
	if env.StreamPath == "" {
		env.StreamPath = "/stream"
	}
	if !strings.HasPrefix(env.StreamPath, "/") {
		env.StreamPath = "/" + env.StreamPath
	}
	if env.MaxUploadMB == 0 {
		env.MaxUploadMB = 25
	}
	if env.StorageDir == "" {
		env.StorageDir = filepath.Join(env.ConfigDir, "storage")
	}

	if !filepath.IsAbs(env.StorageDir) {
		return nil, fmt.Errorf("storageDir '%v': %w", env.StorageDir, ErrPathNotAbsolute)
	}

	return &env, nil
}

// CameraURL returns the base URL of the camera web interface.
func (env ConfigEnv) CameraURL() string {
	return "http://" + net.JoinHostPort(env.CameraHost, strconv.Itoa(env.CameraPort))
}

// StreamURL returns the URL of the camera MJPEG stream.
func (env ConfigEnv) StreamURL() string {
	return env.CameraURL() + env.StreamPath
}

// RecordingsDir return recordings directory.
func (env ConfigEnv) RecordingsDir() string {
	return filepath.Join(env.StorageDir, "recordings")
}

// LogDBPath return log database path.
func (env ConfigEnv) LogDBPath() string {
	return filepath.Join(env.StorageDir, "logs.db")
}

// MaxUploadBytes return upload size cap in bytes.
func (env ConfigEnv) MaxUploadBytes() int64 {
	return int64(env.MaxUploadMB) * 1024 * 1024
}

// PrepareEnvironment prepares directories.
func (env ConfigEnv) PrepareEnvironment() error {
	err := os.MkdirAll(env.RecordingsDir(), 0o700)
	if err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("create recordings directory: %v: %w", env.StorageDir, err)
	}

	// Make sure env.TempDir isn't set to "/".
	if len(env.TempDir) <= 4 {
		panic(fmt.Sprintf("tempDir sanity check: %v", env.TempDir))
	}
	err = os.RemoveAll(env.TempDir)
	if err != nil {
		return fmt.Errorf("clear tempDir: %v: %w", env.TempDir, err)
	}

	err = os.MkdirAll(env.TempDir, 0o700)
	if err != nil {
		return fmt.Errorf("create tempDir: %v: %w", env.TempDir, err)
	}

	return nil
}
