// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	AppName       = "badgecore"
	ConfigType    = "yaml"
	DefaultConfig = `# Badge firmware configuration

# Storage
recordings_dir: "/mnt/rec"  # where recording files live
nvstore_path: "/mnt/nv/boot.yaml"  # non-volatile bootstrap partition

# Audio capture
device_index: -1            # -1 for default capture device

# Wireless peripheral
device_name: "badge"        # advertised name
preferred_mtu: 185          # requested ATT MTU

# User interface
gpio_chip: "gpiochip0"      # character device chip for button and LED
button_line: 4              # button GPIO offset (active low)
led_line: 17                # status LED GPIO offset

# Modes
sim: false                  # synthetic source, stub button/LED
debug: false                # verbose logging
`
)

// Settings holds all firmware configuration.
type Settings struct {
	// Storage
	RecordingsDir string `mapstructure:"recordings_dir"`
	NVStorePath   string `mapstructure:"nvstore_path"`

	// Audio capture
	DeviceIndex int `mapstructure:"device_index"`

	// Wireless peripheral
	DeviceName   string `mapstructure:"device_name"`
	PreferredMTU int    `mapstructure:"preferred_mtu"`

	// User interface
	GPIOChip   string `mapstructure:"gpio_chip"`
	ButtonLine int    `mapstructure:"button_line"`
	LEDLine    int    `mapstructure:"led_line"`

	// Modes
	Sim   bool `mapstructure:"sim"`
	Debug bool `mapstructure:"debug"`
}

// Init initializes Viper with defaults and config file.
// Config file search order: current directory, then ~/.config/badgecore/
func Init() error {
	viper.SetDefault("recordings_dir", "/mnt/rec")
	viper.SetDefault("nvstore_path", "/mnt/nv/boot.yaml")
	viper.SetDefault("device_index", -1)
	viper.SetDefault("device_name", "badge")
	viper.SetDefault("preferred_mtu", 185)
	viper.SetDefault("gpio_chip", "gpiochip0")
	viper.SetDefault("button_line", 4)
	viper.SetDefault("led_line", 17)
	viper.SetDefault("sim", false)
	viper.SetDefault("debug", false)

	viper.SetConfigType(ConfigType)
	viper.AddConfigPath(".")

	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	viper.AddConfigPath(filepath.Join(configDir, AppName))

	viper.SetConfigName(".config")
	if err = viper.ReadInConfig(); err != nil {
		viper.SetConfigName("config")
		err = viper.ReadInConfig()
	}

	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			xdgConfigPath := filepath.Join(configDir, AppName)
			if err = ensureConfigExists(xdgConfigPath); err != nil {
				return err
			}
			if err = viper.ReadInConfig(); err != nil {
				return fmt.Errorf("read config: %w", err)
			}
		} else {
			return fmt.Errorf("read config: %w", err)
		}
	}

	return nil
}

func ensureConfigExists(configPath string) error {
	configFile := filepath.Join(configPath, "config.yaml")

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if err = os.MkdirAll(configPath, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		if err = os.WriteFile(configFile, []byte(DefaultConfig), 0644); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
	}
	return nil
}

// Get returns the current settings
func Get() (*Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &s, nil
}

// Validate checks that all settings are within acceptable ranges
func (s *Settings) Validate() error {
	var errs []error

	if s.RecordingsDir == "" {
		errs = append(errs, errors.New("recordings_dir must not be empty"))
	}
	if s.NVStorePath == "" {
		errs = append(errs, errors.New("nvstore_path must not be empty"))
	}
	if s.DeviceName == "" || len(s.DeviceName) > 29 {
		errs = append(errs, fmt.Errorf("device_name must be 1-29 bytes, got %q", s.DeviceName))
	}
	if s.PreferredMTU < 23 || s.PreferredMTU > 517 {
		errs = append(errs, fmt.Errorf("preferred_mtu must be between 23 and 517, got %d", s.PreferredMTU))
	}
	if s.ButtonLine < 0 || s.LEDLine < 0 {
		errs = append(errs, errors.New("gpio line offsets must be non-negative"))
	}
	if !s.Sim {
		if s.GPIOChip == "" {
			errs = append(errs, errors.New("gpio_chip must not be empty outside sim mode"))
		}
		if s.ButtonLine == s.LEDLine {
			errs = append(errs, fmt.Errorf("button_line and led_line must differ, both %d", s.ButtonLine))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
