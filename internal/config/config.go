// Package config loads the trainer core's JSON configuration file using
// a plain encoding/json-backed Config/Load shape.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// BLEConfig holds Bluetooth transport timing and retry settings.
type BLEConfig struct {
	DeviceNamePrefixes []string `json:"DeviceNamePrefixes"`
	ScanTimeout        string   `json:"ScanTimeout"`
	ConnectTimeout     string   `json:"ConnectTimeout"`
	ConnectRetryCount  int      `json:"ConnectRetryCount"`
	ConnectRetryDelay  string   `json:"ConnectRetryDelay"`
	HeartbeatInterval  string   `json:"HeartbeatInterval"`
	DiagnosticInterval string   `json:"DiagnosticInterval"`
	DesiredMTU         int      `json:"DesiredMTU"`
	CommandRateLimit   float64  `json:"CommandRateLimit"`
	CommandRateBurst   int      `json:"CommandRateBurst"`
}

// SafetyConfig holds the stall/danger-zone supervisor thresholds and
// the monitor processor's validation constants.
type SafetyConfig struct {
	MinPositionMM           float64 `json:"MinPositionMM"`
	MaxPositionMM           float64 `json:"MaxPositionMM"`
	MaxWeightKg             float64 `json:"MaxWeightKg"`
	PositionJumpThresholdMM float64 `json:"PositionJumpThresholdMM"`
	StrictValidation        bool    `json:"StrictValidation"`
	VelocitySmoothingAlpha  float64 `json:"VelocitySmoothingAlpha"`
	DeloadDebounceMs        int64   `json:"DeloadDebounceMs"`
	StallVelocityLowMMps    float64 `json:"StallVelocityLowMMps"`
	StallDurationSeconds    float64 `json:"StallDurationSeconds"`
	AutoStopDurationSeconds float64 `json:"AutoStopDurationSeconds"`
	RestPositionMM          float64 `json:"RestPositionMM"`
	GrabPositionMM          float64 `json:"GrabPositionMM"`
	GrabVelocityMMps        float64 `json:"GrabVelocityMMps"`
	GrabSustainMs           int64   `json:"GrabSustainMs"`
	PollWarningAvgMs        float64 `json:"PollWarningAvgMs"`
}

// ServerConfig holds the UI-facing HTTP/WebSocket server settings.
type ServerConfig struct {
	Port           string   `json:"Port"`
	WebFilesDir    string   `json:"WebFilesDir"`
	AllowedOrigins []string `json:"AllowedOrigins"`
}

// MQTTConfig holds the optional telemetry-sink settings.
type MQTTConfig struct {
	Enabled     bool   `json:"Enabled"`
	Broker      string `json:"Broker"`
	ClientID    string `json:"ClientID"`
	Username    string `json:"Username"`
	Password    string `json:"Password"`
	TopicPrefix string `json:"TopicPrefix"`
}

// DiscoConfig holds the idle-mode color-scripting engine's settings.
type DiscoConfig struct {
	ScriptsDir string `json:"ScriptsDir"`
}

// SchedulerConfig holds the auto-arm-window scheduler's settings.
type SchedulerConfig struct {
	WindowsFile string `json:"WindowsFile"`
}

// Config holds the application's configurable settings.
type Config struct {
	BLE       BLEConfig       `json:"BLE"`
	Safety    SafetyConfig    `json:"Safety"`
	Server    ServerConfig    `json:"Server"`
	MQTT      MQTTConfig      `json:"MQTT"`
	Disco     DiscoConfig     `json:"Disco"`
	Scheduler SchedulerConfig `json:"Scheduler"`
}

// Default returns a Config populated with sensible retry counts,
// thresholds, and buffer depths so a deployment without a config file
// still runs correctly.
func Default() *Config {
	return &Config{
		BLE: BLEConfig{
			DeviceNamePrefixes: []string{"Vee_", "VIT"},
			ScanTimeout:        "10s",
			ConnectTimeout:     "8s",
			ConnectRetryCount:  3,
			ConnectRetryDelay:  "2s",
			HeartbeatInterval:  "2s",
			DiagnosticInterval: "500ms",
			DesiredMTU:         247,
			CommandRateLimit:   20,
			CommandRateBurst:   10,
		},
		Safety: SafetyConfig{
			MinPositionMM:           0,
			MaxPositionMM:           1000,
			MaxWeightKg:             120,
			PositionJumpThresholdMM: 20,
			StrictValidation:        true,
			VelocitySmoothingAlpha:  0.3,
			DeloadDebounceMs:        2000,
			StallVelocityLowMMps:    2.5,
			StallDurationSeconds:    5.0,
			AutoStopDurationSeconds: 2.5,
			RestPositionMM:          5.0,
			GrabPositionMM:          8.0,
			GrabVelocityMMps:        50.0,
			GrabSustainMs:           200,
			PollWarningAvgMs:        30,
		},
		Server: ServerConfig{
			Port:        "8080",
			WebFilesDir: "./web",
		},
		Disco: DiscoConfig{
			ScriptsDir: "./disco_scripts",
		},
		Scheduler: SchedulerConfig{
			WindowsFile: "auto_arm_windows.json",
		},
	}
}

// Load reads a JSON configuration file, overlaying it on top of
// Default() so a partial file is enough to get started.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file %q: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	return cfg, nil
}
