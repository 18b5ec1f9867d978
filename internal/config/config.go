// Package config loads and persists the monitor's settings (§6): a JSON
// file in a platform-appropriate data directory, with environment
// variables able to override or auto-start a session. Uses
// github.com/spf13/viper for the file/env layering rather than the
// teacher's hand-rolled os.ReadFile+json.Unmarshal (client/internal/config),
// since viper is already pulled in by the rest of the pack and gives env
// binding for free; the on-disk path convention (os.UserConfigDir()-based)
// is kept from the teacher.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Settings mirrors the persisted JSON shape from §6.
type Settings struct {
	Device      *string `mapstructure:"device"`
	SampleRate  uint32  `mapstructure:"sample_rate"`
	ChannelPair [2]int  `mapstructure:"channel_pair"`
}

// Default returns the documented defaults: {null, 96000, [1, 2]}.
func Default() Settings {
	return Settings{
		Device:      nil,
		SampleRate:  96000,
		ChannelPair: [2]int{1, 2},
	}
}

// ValidRates are the sample rates the command interface allows selecting.
var ValidRates = map[uint32]bool{
	44100: true, 48000: true, 88200: true,
	96000: true, 176400: true, 192000: true,
}

// Validate rejects invalid channel pairs (either zero, or equal) and
// unsupported sample rates, at the application boundary (§6).
func (s Settings) Validate() error {
	if s.ChannelPair[0] == 0 || s.ChannelPair[1] == 0 {
		return fmt.Errorf("channel_pair: channels are 1-based, got %v", s.ChannelPair)
	}
	if s.ChannelPair[0] == s.ChannelPair[1] {
		return fmt.Errorf("channel_pair: signal and counter channel must differ, got %v", s.ChannelPair)
	}
	if !ValidRates[s.SampleRate] {
		return fmt.Errorf("sample_rate: %d is not one of the supported rates", s.SampleRate)
	}
	return nil
}

// Path returns the absolute path to the settings file.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "audiotester", "config.json"), nil
}

// Load reads settings from disk, falling back to Default for anything
// missing, and binds the DEVICE/SAMPLE_RATE auto-start environment
// variables on top (env takes precedence, matching viper's normal
// file-then-env precedence).
func Load() (Settings, error) {
	path, err := Path()
	if err != nil {
		return Default(), err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	def := Default()
	v.SetDefault("sample_rate", def.SampleRate)
	v.SetDefault("channel_pair", []int{def.ChannelPair[0], def.ChannelPair[1]})
	v.SetDefault("device", nil)

	v.SetEnvPrefix("AUDIOTESTER")
	v.AutomaticEnv()
	_ = v.BindEnv("device", "DEVICE")
	_ = v.BindEnv("sample_rate", "SAMPLE_RATE")

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return def, err
			}
		}
	}

	settings := def
	if dev := v.GetString("device"); dev != "" {
		settings.Device = &dev
	}
	if rate := v.GetUint32("sample_rate"); rate != 0 {
		settings.SampleRate = rate
	}
	if pair := v.GetIntSlice("channel_pair"); len(pair) == 2 {
		settings.ChannelPair = [2]int{pair[0], pair[1]}
	}
	return settings, nil
}

// Save writes settings to disk as JSON, creating the directory if needed.
func Save(settings Settings) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if settings.Device != nil {
		v.Set("device", *settings.Device)
	} else {
		v.Set("device", nil)
	}
	v.Set("sample_rate", settings.SampleRate)
	v.Set("channel_pair", []int{settings.ChannelPair[0], settings.ChannelPair[1]})
	return v.WriteConfigAs(path)
}

// AutoStart is the parsed shape of the AUTO_START auto-start environment
// variables (§6).
type AutoStart struct {
	Enabled    bool
	Device     string
	SampleRate uint32
}

// LoadAutoStart reads the DEVICE/SAMPLE_RATE/AUTO_START environment
// variables directly (as opposed to Load's viper-bound config file
// overlay), since AUTO_START itself decides whether auto-start even
// applies and has no file-based equivalent.
func LoadAutoStart() AutoStart {
	a := AutoStart{
		Device: os.Getenv("DEVICE"),
	}
	if r, err := strconv.ParseUint(os.Getenv("SAMPLE_RATE"), 10, 32); err == nil {
		a.SampleRate = uint32(r)
	}
	truthy := strings.ToLower(strings.TrimSpace(os.Getenv("AUTO_START")))
	a.Enabled = truthy == "true" || truthy == "1"
	return a
}
