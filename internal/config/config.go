// Package config loads the bridge configuration. The file is read once
// at startup; only the log filter and upload schedule change at runtime
// and those live outside Config.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/moonblokz/moonprobe/internal/logging"
)

const (
	DefaultPath                = "config.yaml"
	DefaultBaudRate            = 115200
	DefaultBufferSize          = 10000
	DefaultUploadInterval      = 60
	DefaultUpdateCheckInterval = 3600
	DefaultDeployedDir         = "deployed"
	DefaultStartScript         = "start.sh"
	DefaultStateDir            = ".moonprobe"
	DefaultMountPoint          = "/mnt/rp2"
	DefaultBootloaderLabel     = "RPI-RP2"

	// AutoPort makes the serial manager pick the first RP2040 USB port.
	AutoPort = "auto"
)

// Config holds all bridge configuration.
type Config struct {
	NodeID           string `json:"node_id" yaml:"node_id"`
	APIKey           string `json:"api_key" yaml:"api_key"`
	USBPort          string `json:"usb_port" yaml:"usb_port"`
	BaudRate         int    `json:"baud_rate,omitempty" yaml:"baud_rate,omitempty"`
	ServerURL        string `json:"server_url" yaml:"server_url"`
	NodeFirmwareURL  string `json:"node_firmware_url" yaml:"node_firmware_url"`
	ProbeFirmwareURL string `json:"probe_firmware_url" yaml:"probe_firmware_url"`

	BufferSize          int  `json:"buffer_size,omitempty" yaml:"buffer_size,omitempty"`
	UploadInterval      int  `json:"upload_interval,omitempty" yaml:"upload_interval,omitempty"`
	UpdateCheckInterval int  `json:"update_check_interval,omitempty" yaml:"update_check_interval,omitempty"`
	RequireLevelTag     bool `json:"require_level_tag,omitempty" yaml:"require_level_tag,omitempty"`
	CompressUploads     bool `json:"compress_uploads,omitempty" yaml:"compress_uploads,omitempty"`

	DeployedDir     string `json:"deployed_dir,omitempty" yaml:"deployed_dir,omitempty"`
	StartScript     string `json:"start_script,omitempty" yaml:"start_script,omitempty"`
	StateDir        string `json:"state_dir,omitempty" yaml:"state_dir,omitempty"`
	MountPoint      string `json:"mount_point,omitempty" yaml:"mount_point,omitempty"`
	BootloaderLabel string `json:"bootloader_label,omitempty" yaml:"bootloader_label,omitempty"`
	UseSudo         bool   `json:"use_sudo" yaml:"use_sudo"`

	LogLevel     string `json:"log_level,omitempty" yaml:"log_level,omitempty"`
	LogFormat    string `json:"log_format,omitempty" yaml:"log_format,omitempty"`
	StatusListen string `json:"status_listen,omitempty" yaml:"status_listen,omitempty"`

	// Path is the absolute path the config was loaded from. The self
	// update writes it into the generated start script.
	Path string `json:"-" yaml:"-"`
}

// Overrides are command-line values that take precedence over the file.
type Overrides struct {
	USBPort   string
	ServerURL string
	NodeID    string
	LogLevel  string
}

// Defaults returns a Config with default values.
func Defaults() Config {
	return Config{
		BaudRate:            DefaultBaudRate,
		BufferSize:          DefaultBufferSize,
		UploadInterval:      DefaultUploadInterval,
		UpdateCheckInterval: DefaultUpdateCheckInterval,
		DeployedDir:         DefaultDeployedDir,
		StartScript:         DefaultStartScript,
		StateDir:            DefaultStateDir,
		MountPoint:          DefaultMountPoint,
		BootloaderLabel:     DefaultBootloaderLabel,
		UseSudo:             true,
		LogLevel:            "INFO",
		LogFormat:           logging.FormatJSON,
	}
}

// Load reads path over Defaults, applies overrides and validates the
// result. YAML is used for .yaml/.yml files, JSON (comments allowed)
// for everything else.
func Load(path string, ov Overrides) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := decode(path, data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if abs, err := filepath.Abs(path); err == nil {
		cfg.Path = abs
	} else {
		cfg.Path = path
	}

	ov.apply(&cfg)
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(jsonc.ToJSON(data), cfg)
	}
}

func (ov Overrides) apply(cfg *Config) {
	if ov.USBPort != "" {
		cfg.USBPort = ov.USBPort
	}
	if ov.ServerURL != "" {
		cfg.ServerURL = ov.ServerURL
	}
	if ov.NodeID != "" {
		cfg.NodeID = ov.NodeID
	}
	if ov.LogLevel != "" {
		cfg.LogLevel = ov.LogLevel
	}
}

func (c *Config) normalize() {
	c.ServerURL = strings.TrimRight(c.ServerURL, "/")
	c.NodeFirmwareURL = strings.TrimRight(c.NodeFirmwareURL, "/")
	c.ProbeFirmwareURL = strings.TrimRight(c.ProbeFirmwareURL, "/")
}

// Validate reports every missing or invalid field at once.
func (c Config) Validate() error {
	var errs []error
	required := []struct{ name, value string }{
		{"node_id", c.NodeID},
		{"api_key", c.APIKey},
		{"usb_port", c.USBPort},
		{"server_url", c.ServerURL},
		{"node_firmware_url", c.NodeFirmwareURL},
		{"probe_firmware_url", c.ProbeFirmwareURL},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.name))
		}
	}
	for _, u := range []struct{ name, value string }{
		{"server_url", c.ServerURL},
		{"node_firmware_url", c.NodeFirmwareURL},
		{"probe_firmware_url", c.ProbeFirmwareURL},
	} {
		if u.value == "" {
			continue
		}
		if err := checkURL(u.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u.name, err))
		}
	}
	positive := []struct {
		name  string
		value int
	}{
		{"baud_rate", c.BaudRate},
		{"buffer_size", c.BufferSize},
		{"upload_interval", c.UploadInterval},
		{"update_check_interval", c.UpdateCheckInterval},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", p.name, p.value))
		}
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.DeployedDir == "" {
		errs = append(errs, errors.New("deployed_dir must not be empty"))
	}
	return errors.Join(errs...)
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// UploadEvery returns the default upload interval.
func (c Config) UploadEvery() time.Duration {
	return time.Duration(c.UploadInterval) * time.Second
}

// UpdateEvery returns the update check interval.
func (c Config) UpdateEvery() time.Duration {
	return time.Duration(c.UpdateCheckInterval) * time.Second
}
