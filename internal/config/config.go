/* SPDX-License-Identifier: GPL-3.0-or-later
 *
 * QAnotherRTSP
 * Copyright (C) 2025 e1z0 <e1z0@icloud.com>
 *
 * This file is part of QAnotherRTSP.
 *
 * QAnotherRTSP is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * QAnotherRTSP is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with QAnotherRTSP.  If not, see <https://www.gnu.org/licenses/>.
 */

// Package config loads and persists rewind's settings, following the
// teacher's config.go: a YAML file under the user's config directory,
// atomic tmp-then-rename saves, and a package-level mutex guarding the
// in-memory copy.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v2"
)

const appName = "rewind"

// Config is the persisted settings surface (spec.md §6 CLI/config
// parameters, plus the hotkey chord and output naming pattern).
type Config struct {
	OutDir      string `yaml:"out_dir"`
	BaseName    string `yaml:"base_name"`
	Seconds     int    `yaml:"seconds"`      // retained snapshot window, in seconds
	FPS         int    `yaml:"fps"`          // video capture framerate
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	SampleRate  int    `yaml:"sample_rate"`  // audio capture sample rate
	BitRate     int64  `yaml:"bit_rate"`
	SoundFile   string `yaml:"sound_file"`   // confirmation sound played on snapshot, empty disables it (spec.md §6 --save-sound)
	HotkeyChord string `yaml:"hotkey_chord"` // e.g. "ctrl+alt+f9"
	GroupedRing bool   `yaml:"grouped_ring"` // keyframe-grouped eviction vs flat duration eviction
}

// Default returns the built-in defaults, used when no settings file
// exists yet (spec.md §6).
func Default() Config {
	return Config{
		OutDir:      defaultOutDir(),
		BaseName:    "clip",
		Seconds:     30,
		FPS:         30,
		Width:       1920,
		Height:      1080,
		SampleRate:  48000,
		BitRate:     8_000_000,
		SoundFile:   "",
		HotkeyChord: "ctrl+alt+f9",
		GroupedRing: true,
	}
}

func defaultOutDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, "Videos", "Rewind")
}

// Environment mirrors the teacher's Environment: the set of resolved
// filesystem locations the running process needs.
type Environment struct {
	ConfigDir    string
	SettingsFile string
	HomeDir      string
}

var (
	mu      sync.Mutex
	current Config
	env     Environment
)

// Init resolves the environment's directories and loads (or seeds) the
// settings file, mirroring the teacher's InitializeEnvironment +
// loadConfig pair.
func Init() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf("config: resolve home dir: %w", err)
	}
	configDir := filepath.Join(home, ".config", appName)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return Config{}, fmt.Errorf("config: create config dir: %w", err)
	}

	mu.Lock()
	env = Environment{
		ConfigDir:    configDir,
		SettingsFile: filepath.Join(configDir, "settings.yml"),
		HomeDir:      home,
	}
	settingsFile := env.SettingsFile
	mu.Unlock()

	cfg, err := load(settingsFile)
	if os.IsNotExist(err) {
		cfg = Default()
		mu.Lock()
		current = cfg
		mu.Unlock()
		return cfg, Save(cfg)
	}
	if err != nil {
		return Config{}, err
	}

	mu.Lock()
	current = cfg
	mu.Unlock()
	return cfg, nil
}

func load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save persists cfg to the settings file via a tmp-file-then-rename,
// matching the teacher's SaveConfig so a crash mid-write never
// corrupts the previous settings.
func Save(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	if env.SettingsFile == "" {
		return fmt.Errorf("config: Save called before Init")
	}
	log.Printf("config: saving settings to %s", env.SettingsFile)

	tmp := env.SettingsFile + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(f)
	if err := enc.Encode(&cfg); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, env.SettingsFile); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	current = cfg
	return nil
}

// Current returns the last loaded or saved configuration.
func Current() Config {
	mu.Lock()
	defer mu.Unlock()
	return current
}
