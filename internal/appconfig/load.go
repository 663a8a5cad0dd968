package appconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pkt.systems/vimgrid/schema"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("transport.socket_path", cfg.Transport.SocketPath)
	v.SetDefault("transport.send_now_timeout_ms", cfg.Transport.SendNowTimeoutMS)
	v.SetDefault("transport.reply_timeout_ms", cfg.Transport.ReplyTimeoutMS)
	v.SetDefault("transport.checkin_timeout_ms", cfg.Transport.CheckinTimeoutMS)
	v.SetDefault("backend.server_name", cfg.Backend.ServerName)
	v.SetDefault("backend.wait_for_ack", cfg.Backend.WaitForAck)
	v.SetDefault("backend.rows", cfg.Backend.Rows)
	v.SetDefault("backend.cols", cfg.Backend.Cols)
	v.SetDefault("frontend.rows", cfg.Frontend.Rows)
	v.SetDefault("frontend.cols", cfg.Frontend.Cols)
	v.SetDefault("frontend.min_rows", cfg.Frontend.MinRows)
	v.SetDefault("frontend.min_cols", cfg.Frontend.MinCols)
	v.SetDefault("frontend.geometry_dir", cfg.Frontend.GeometryDir)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
		if !v.IsSet("transport.socket_path") {
			return Config{}, fmt.Errorf("transport.socket_path is required for config_version %d", CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Transport.SocketPath) == "" {
		return fmt.Errorf("transport.socket_path must not be empty")
	}
	if cfg.Transport.SendNowTimeoutMS <= 0 || cfg.Transport.ReplyTimeoutMS <= 0 || cfg.Transport.CheckinTimeoutMS <= 0 {
		return fmt.Errorf("transport timeouts must be positive")
	}
	if cfg.Backend.Rows <= 0 || cfg.Backend.Cols <= 0 {
		return fmt.Errorf("backend.rows and backend.cols must be positive")
	}
	if cfg.Frontend.MinRows < schema.MinRows || cfg.Frontend.MinCols < schema.MinColumns {
		return fmt.Errorf("frontend minimum size must be at least %dx%d", schema.MinRows, schema.MinColumns)
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.StateDir = expandEnv(cfg.StateDir)
	cfg.Transport.SocketPath = expandEnv(cfg.Transport.SocketPath)
	cfg.Frontend.GeometryDir = expandEnv(cfg.Frontend.GeometryDir)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
