// Package config resolves the on-disk layout (lock file, database,
// settings file) and the user-configurable settings profile that the
// download engine, the BitTorrent manager, and the media extractor all
// read their tunables from.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/surge-downloader/surge/internal/engine/types"
	"github.com/surge-downloader/surge/internal/store"
)

// Settings holds all user-configurable application settings organized by
// category, matching the grouping shown in the settings UI.
type Settings struct {
	General     GeneralSettings     `json:"general"`
	Network     NetworkSettings     `json:"network"`
	Torrent     TorrentSettings     `json:"torrent"`
	Media       MediaSettings       `json:"media"`
	Performance PerformanceSettings `json:"performance"`
}

// GeneralSettings contains application behavior settings.
type GeneralSettings struct {
	DefaultDownloadDir string `json:"default_download_dir"`
	WarnOnDuplicate    bool   `json:"warn_on_duplicate"`
	AutoResume         bool   `json:"auto_resume"`

	ClipboardMonitor  bool `json:"clipboard_monitor"`
	LogRetentionCount int  `json:"log_retention_count"`

	SchedulerEnabled   bool   `json:"scheduler_enabled"`
	SchedulerStartTime string `json:"scheduler_start_time"` // HH:MM, resume time
	SchedulerPauseTime string `json:"scheduler_pause_time"` // HH:MM, pause time
}

// NetworkSettings contains direct-download connection parameters.
type NetworkSettings struct {
	MaxConnectionsPerHost  int    `json:"max_connections_per_host"`
	MaxConcurrentDownloads int    `json:"max_concurrent_downloads"`
	Connections            int    `json:"connections"`
	UserAgent              string `json:"user_agent"`
	ProxyURL               string `json:"proxy_url"`
	MinChunkSize           int64  `json:"min_chunk_size"`
	MaxChunkSize           int64  `json:"max_chunk_size"`
	TargetChunkSize        int64  `json:"target_chunk_size"`
	WorkerBufferSize       int64  `json:"worker_buffer_size"`
}

// TorrentSettings contains BitTorrent session tuning, passed through to the
// qBittorrent-backed session manager.
type TorrentSettings struct {
	WebUIHost                string `json:"webui_host"`
	WebUIPort                int    `json:"webui_port"`
	WebUIUsername            string `json:"webui_username"`
	WebUIPassword            string `json:"webui_password"`
	MaxConnectionsPerTorrent int    `json:"max_connections_per_torrent"`
	UploadSlotsPerTorrent    int    `json:"upload_slots_per_torrent"`
	DownloadDir              string `json:"download_dir"`
}

// MediaSettings configures the yt-dlp-backed video/audio extractor.
type MediaSettings struct {
	BinaryPath      string `json:"binary_path"` // path to yt-dlp, empty means look up $PATH
	DefaultFormat   string `json:"default_format"`
	PreferredRes    string `json:"preferred_resolution"`
	EmbedSubtitles  bool   `json:"embed_subtitles"`
	DownloadPlaylist bool  `json:"download_playlist"`
}

// PerformanceSettings contains the concurrent engine's chunk-health tuning.
type PerformanceSettings struct {
	MaxTaskRetries        int           `json:"max_task_retries"`
	SlowWorkerThreshold    float64       `json:"slow_worker_threshold"`
	SlowWorkerGracePeriod time.Duration `json:"slow_worker_grace_period"`
	StallTimeout          time.Duration `json:"stall_timeout"`
	SpeedEmaAlpha         float64       `json:"speed_ema_alpha"`

	// PerDownloadRateLimitBps caps sustained throughput of a single
	// download's shared token bucket; 0 means unlimited.
	PerDownloadRateLimitBps int64 `json:"per_download_rate_limit_bps"`
}

// SettingMeta describes one setting for UI rendering/validation.
type SettingMeta struct {
	Key         string
	Label       string
	Description string
	Type        string // "string", "int", "int64", "bool", "duration", "float64"
}

// GetSettingsMetadata returns metadata for all settings, organized by
// category, in display order.
func GetSettingsMetadata() map[string][]SettingMeta {
	return map[string][]SettingMeta{
		"General": {
			{Key: "default_download_dir", Label: "Default Download Dir", Description: "Default directory for new downloads.", Type: "string"},
			{Key: "warn_on_duplicate", Label: "Warn on Duplicate", Description: "Show a warning when adding a download that already exists.", Type: "bool"},
			{Key: "auto_resume", Label: "Auto Resume", Description: "Automatically resume paused downloads on startup.", Type: "bool"},
			{Key: "clipboard_monitor", Label: "Clipboard Monitor", Description: "Watch the clipboard for URLs and magnet links.", Type: "bool"},
			{Key: "log_retention_count", Label: "Log Retention Count", Description: "Number of recent log files to keep.", Type: "int"},
			{Key: "scheduler_enabled", Label: "Scheduler Enabled", Description: "Automatically resume/pause downloads on a daily schedule.", Type: "bool"},
			{Key: "scheduler_start_time", Label: "Scheduler Resume Time", Description: "HH:MM local time to resume downloads.", Type: "string"},
			{Key: "scheduler_pause_time", Label: "Scheduler Pause Time", Description: "HH:MM local time to pause downloads.", Type: "string"},
		},
		"Network": {
			{Key: "max_connections_per_host", Label: "Max Connections/Host", Description: "Maximum concurrent connections per host.", Type: "int"},
			{Key: "max_concurrent_downloads", Label: "Max Concurrent Downloads", Description: "Maximum downloads running at once.", Type: "int"},
			{Key: "connections", Label: "Connections per Download", Description: "Parallel range requests planned per HTTP download.", Type: "int"},
			{Key: "user_agent", Label: "User Agent", Description: "Custom User-Agent string. Empty for default.", Type: "string"},
			{Key: "proxy_url", Label: "Proxy URL", Description: "HTTP/HTTPS proxy URL.", Type: "string"},
			{Key: "min_chunk_size", Label: "Min Chunk Size", Description: "Minimum download chunk size in bytes.", Type: "int64"},
			{Key: "worker_buffer_size", Label: "Worker Buffer Size", Description: "I/O buffer size per worker in bytes.", Type: "int64"},
		},
		"Torrent": {
			{Key: "webui_host", Label: "qBittorrent Host", Description: "Host of the qBittorrent WebUI session engine.", Type: "string"},
			{Key: "webui_port", Label: "qBittorrent Port", Description: "Port of the qBittorrent WebUI session engine.", Type: "int"},
			{Key: "download_dir", Label: "Torrent Download Dir", Description: "Save path handed to the session engine for new torrents.", Type: "string"},
		},
		"Media": {
			{Key: "default_format", Label: "Default Format", Description: "yt-dlp format selector used when none is specified.", Type: "string"},
			{Key: "preferred_resolution", Label: "Preferred Resolution", Description: "Resolution label to prefer when multiple formats match.", Type: "string"},
		},
		"Performance": {
			{Key: "max_task_retries", Label: "Max Task Retries", Description: "Retries for a failed chunk before giving up.", Type: "int"},
			{Key: "slow_worker_threshold", Label: "Slow Worker Threshold", Description: "Restart workers slower than this fraction of mean speed.", Type: "float64"},
			{Key: "stall_timeout", Label: "Stall Timeout", Description: "Restart workers with no data for this long.", Type: "duration"},
			{Key: "per_download_rate_limit_bps", Label: "Per-Download Rate Limit", Description: "Bytes/sec cap per download; 0 disables.", Type: "int64"},
		},
	}
}

func CategoryOrder() []string {
	return []string{"General", "Network", "Torrent", "Media", "Performance"}
}

// DefaultSettings returns a new Settings instance with sensible defaults.
func DefaultSettings() *Settings {
	homeDir, _ := os.UserHomeDir()

	defaultDir := ""
	if xdgDir := os.Getenv("XDG_DOWNLOAD_DIR"); xdgDir != "" {
		if info, err := os.Stat(xdgDir); err == nil && info.IsDir() {
			defaultDir = xdgDir
		}
	}
	if defaultDir == "" && homeDir != "" {
		downloadsDir := filepath.Join(homeDir, "Downloads")
		if info, err := os.Stat(downloadsDir); err == nil && info.IsDir() {
			defaultDir = downloadsDir
		}
	}

	return &Settings{
		General: GeneralSettings{
			DefaultDownloadDir: defaultDir,
			WarnOnDuplicate:    true,
			ClipboardMonitor:   true,
			LogRetentionCount:  5,
			SchedulerStartTime: "02:00",
			SchedulerPauseTime: "08:00",
		},
		Network: NetworkSettings{
			MaxConnectionsPerHost:  types.PerHostMax,
			MaxConcurrentDownloads: 3,
			Connections:            types.DefaultConnections,
			MinChunkSize:           types.MinChunk,
			MaxChunkSize:           types.MaxChunk,
			TargetChunkSize:        types.TargetChunk,
			WorkerBufferSize:       types.WorkerBuffer,
		},
		Torrent: TorrentSettings{
			WebUIHost:                "127.0.0.1",
			WebUIPort:                8080,
			MaxConnectionsPerTorrent: 200,
			UploadSlotsPerTorrent:    8,
			DownloadDir:              defaultDir,
		},
		Media: MediaSettings{
			DefaultFormat: "bestvideo+bestaudio/best",
			PreferredRes:  "1080p",
		},
		Performance: PerformanceSettings{
			MaxTaskRetries:        types.MaxTaskRetries,
			SlowWorkerThreshold:   types.SlowWorkerThreshold,
			SlowWorkerGracePeriod: types.SlowWorkerGrace,
			StallTimeout:          types.StallTimeout,
			SpeedEmaAlpha:         types.SpeedEMAAlpha,
		},
	}
}

// GetSettingsPath returns the path to the settings JSON file.
func GetSettingsPath() string {
	return filepath.Join(GetSurgeDir(), "settings.json")
}

// LoadSettings loads settings from disk, filling in defaults for anything
// missing. A missing file is not an error: it returns pure defaults.
func LoadSettings() (*Settings, error) {
	data, err := os.ReadFile(GetSettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return nil, err
	}

	settings := DefaultSettings()
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// SaveSettings writes settings to disk atomically (temp file + rename) and
// mirrors the scheduler, autocatch and max_concurrent fields into the flat
// settings table so the running engine and the CLI agree on those values
// without restarting.
func SaveSettings(s *Settings) error {
	if err := EnsureDirs(); err != nil {
		return err
	}

	path := GetSettingsPath()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tempPath, path); err != nil {
		return err
	}

	return syncToDatabase(s)
}

// syncToDatabase mirrors the JSON profile into the flat key/value settings
// table, so any component that only talks to SQLite (the scheduler, the
// clipboard monitor) sees the same values as the CLI.
func syncToDatabase(s *Settings) error {
	db, err := store.Shared(GetDBPath())
	if err != nil {
		return err
	}

	kv := map[string]string{
		"scheduler_enabled":     boolStr(s.General.SchedulerEnabled),
		"scheduler_start_time":  s.General.SchedulerStartTime,
		"scheduler_pause_time":  s.General.SchedulerPauseTime,
		"autocatch_enabled":     boolStr(s.General.ClipboardMonitor),
		"max_concurrent":        strconv.Itoa(s.Network.MaxConcurrentDownloads),
	}
	for k, v := range kv {
		if err := store.PutSetting(db, k, v); err != nil {
			return err
		}
	}
	return nil
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// ToRuntimeConfig converts a settings profile into the engine's runtime
// tunables.
func (s *Settings) ToRuntimeConfig() *types.RuntimeConfig {
	return &types.RuntimeConfig{
		MaxConnectionsPerHost: s.Network.MaxConnectionsPerHost,
		Connections:           s.Network.Connections,
		UserAgent:             s.Network.UserAgent,
		MinChunkSize:          s.Network.MinChunkSize,
		MaxChunkSize:          s.Network.MaxChunkSize,
		TargetChunkSize:       s.Network.TargetChunkSize,
		WorkerBufferSize:      s.Network.WorkerBufferSize,
		MaxTaskRetries:        s.Performance.MaxTaskRetries,
		SlowWorkerThreshold:   s.Performance.SlowWorkerThreshold,
		SlowWorkerGracePeriod: s.Performance.SlowWorkerGracePeriod,
		StallTimeout:          s.Performance.StallTimeout,
		SpeedEmaAlpha:         s.Performance.SpeedEmaAlpha,
		SpeedLimitBps:         s.Performance.PerDownloadRateLimitBps,
	}
}
