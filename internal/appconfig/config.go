package appconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pkt.systems/vimgrid/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int             `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string          `mapstructure:"state_dir" yaml:"state_dir"`
	Transport     TransportConfig `mapstructure:"transport" yaml:"transport"`
	Backend       BackendConfig   `mapstructure:"backend" yaml:"backend"`
	Frontend      FrontendConfig  `mapstructure:"frontend" yaml:"frontend"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// TransportConfig configures the socket shared by frontend and backends.
type TransportConfig struct {
	SocketPath       string `mapstructure:"socket_path" yaml:"socket_path"`
	SendNowTimeoutMS int    `mapstructure:"send_now_timeout_ms" yaml:"send_now_timeout_ms"`
	ReplyTimeoutMS   int    `mapstructure:"reply_timeout_ms" yaml:"reply_timeout_ms"`
	CheckinTimeoutMS int    `mapstructure:"checkin_timeout_ms" yaml:"checkin_timeout_ms"`
}

// SendNowTimeout returns the bound on blocking sends.
func (c TransportConfig) SendNowTimeout() time.Duration {
	return time.Duration(c.SendNowTimeoutMS) * time.Millisecond
}

// ReplyTimeout returns the default wait for a reply port.
func (c TransportConfig) ReplyTimeout() time.Duration {
	return time.Duration(c.ReplyTimeoutMS) * time.Millisecond
}

// CheckinTimeout returns how long either side waits for the checkin exchange.
func (c TransportConfig) CheckinTimeout() time.Duration {
	return time.Duration(c.CheckinTimeoutMS) * time.Millisecond
}

// BackendConfig configures the editor side.
type BackendConfig struct {
	ServerName string `mapstructure:"server_name" yaml:"server_name"`
	WaitForAck bool   `mapstructure:"wait_for_ack" yaml:"wait_for_ack"`
	Rows       int    `mapstructure:"rows" yaml:"rows"`
	Cols       int    `mapstructure:"cols" yaml:"cols"`
}

// FrontendConfig configures the display side.
type FrontendConfig struct {
	Rows        int    `mapstructure:"rows" yaml:"rows"`
	Cols        int    `mapstructure:"cols" yaml:"cols"`
	MinRows     int    `mapstructure:"min_rows" yaml:"min_rows"`
	MinCols     int    `mapstructure:"min_cols" yaml:"min_cols"`
	GeometryDir string `mapstructure:"geometry_dir" yaml:"geometry_dir"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		runtimeDir = filepath.Join("/run", "user", fmt.Sprintf("%d", os.Getuid()))
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(home, ".vimgrid", "state"),
		Transport: TransportConfig{
			SocketPath:       filepath.Join(runtimeDir, "vimgrid", "vimgrid.sock"),
			SendNowTimeoutMS: 1000,
			ReplyTimeoutMS:   5000,
			CheckinTimeoutMS: 10000,
		},
		Backend: BackendConfig{
			ServerName: "VIMGRID",
			WaitForAck: true,
			Rows:       24,
			Cols:       80,
		},
		Frontend: FrontendConfig{
			Rows:        24,
			Cols:        80,
			MinRows:     schema.MinRows,
			MinCols:     schema.MinColumns,
			GeometryDir: filepath.Join(home, ".vimgrid", "state", "geometry"),
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".vimgrid", "config.yaml"), nil
}
