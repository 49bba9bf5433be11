/* SPDX-License-Identifier: GPL-3.0-or-later
 *
 * camcore
 * Copyright (C) 2025 e1z0 <e1z0@icloud.com>
 *
 * This file is part of camcore.
 *
 * camcore is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * camcore is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with camcore.  If not, see <https://www.gnu.org/licenses/>.
 */

// Package appconfig loads the key=value overlay/recording/discovery
// configuration file via viper, layered under CLI flags parsed with
// pflag so command-line overrides win over the file, which in turn
// wins over built-in defaults.
package appconfig

import (
	"bytes"
	"os"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full set of tunables a camera session reads at
// startup: resolution, discovery/retry behavior, overlay rendering,
// and per-session output options.
type Config struct {
	ResolutionWidth  int     `mapstructure:"resolution_width"`
	ResolutionHeight int     `mapstructure:"resolution_height"`
	PreviewWidth     int     `mapstructure:"preview_width"`
	PreviewHeight    int     `mapstructure:"preview_height"`
	TargetFPS        float64 `mapstructure:"target_fps"`
	MinCameras       int     `mapstructure:"min_cameras"`
	AllowPartial     bool    `mapstructure:"allow_partial"`
	DiscoveryTimeout float64 `mapstructure:"discovery_timeout"`
	DiscoveryRetry   float64 `mapstructure:"discovery_retry"`
	OutputDir        string  `mapstructure:"output_dir"`
	SessionPrefix    string  `mapstructure:"session_prefix"`
	AutoStartRec     bool    `mapstructure:"auto_start_recording"`
	ShowPreview      bool    `mapstructure:"show_preview"`
	ConsoleOutput    bool    `mapstructure:"console_output"`

	FontScaleBase  float64 `mapstructure:"font_scale_base"`
	ThicknessBase  int     `mapstructure:"thickness_base"`
	OutlineEnabled bool    `mapstructure:"outline_enabled"`
	LineStartY     int     `mapstructure:"line_start_y"`
	LineSpacing    int     `mapstructure:"line_spacing"`
	MarginLeft     int     `mapstructure:"margin_left"`
	TextColorR     int     `mapstructure:"text_color_r"`
	TextColorG     int     `mapstructure:"text_color_g"`
	TextColorB     int     `mapstructure:"text_color_b"`

	ShowFrameNumber    bool `mapstructure:"show_frame_number"`
	ShowRecordingInfo  bool `mapstructure:"show_recording_info"`
	EnableCSVTimingLog bool `mapstructure:"enable_csv_timing_log"`
	DisableMP4Convert  bool `mapstructure:"disable_mp4_conversion"`
}

// Defaults returns the built-in configuration used when no config
// file is present and no CLI flag overrides a value.
func Defaults() Config {
	return Config{
		ResolutionWidth:  1920,
		ResolutionHeight: 1080,
		PreviewWidth:     640,
		PreviewHeight:    360,
		TargetFPS:        30.0,
		MinCameras:       1,
		AllowPartial:     true,
		DiscoveryTimeout: 5.0,
		DiscoveryRetry:   3.0,
		OutputDir:        "recordings",
		SessionPrefix:    "session",
		AutoStartRec:     false,
		ShowPreview:      true,
		ConsoleOutput:    false,

		FontScaleBase:  0.6,
		ThicknessBase:  2,
		OutlineEnabled: true,
		LineStartY:     30,
		LineSpacing:    30,
		MarginLeft:     10,
		TextColorR:     255,
		TextColorG:     255,
		TextColorB:     255,

		ShowFrameNumber:    true,
		ShowRecordingInfo:  true,
		EnableCSVTimingLog: true,
		DisableMP4Convert:  true,
	}
}

func bindDefaults(v *viper.Viper, d Config) {
	v.SetDefault("resolution_width", d.ResolutionWidth)
	v.SetDefault("resolution_height", d.ResolutionHeight)
	v.SetDefault("preview_width", d.PreviewWidth)
	v.SetDefault("preview_height", d.PreviewHeight)
	v.SetDefault("target_fps", d.TargetFPS)
	v.SetDefault("min_cameras", d.MinCameras)
	v.SetDefault("allow_partial", d.AllowPartial)
	v.SetDefault("discovery_timeout", d.DiscoveryTimeout)
	v.SetDefault("discovery_retry", d.DiscoveryRetry)
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("session_prefix", d.SessionPrefix)
	v.SetDefault("auto_start_recording", d.AutoStartRec)
	v.SetDefault("show_preview", d.ShowPreview)
	v.SetDefault("console_output", d.ConsoleOutput)

	v.SetDefault("font_scale_base", d.FontScaleBase)
	v.SetDefault("thickness_base", d.ThicknessBase)
	v.SetDefault("outline_enabled", d.OutlineEnabled)
	v.SetDefault("line_start_y", d.LineStartY)
	v.SetDefault("line_spacing", d.LineSpacing)
	v.SetDefault("margin_left", d.MarginLeft)
	v.SetDefault("text_color_r", d.TextColorR)
	v.SetDefault("text_color_g", d.TextColorG)
	v.SetDefault("text_color_b", d.TextColorB)

	v.SetDefault("show_frame_number", d.ShowFrameNumber)
	v.SetDefault("show_recording_info", d.ShowRecordingInfo)
	v.SetDefault("enable_csv_timing_log", d.EnableCSVTimingLog)
	v.SetDefault("disable_mp4_conversion", d.DisableMP4Convert)
}

// Load reads configPath (a "key = value" properties-style file,
// '#'-comments allowed, trailing inline comments stripped) layered
// over built-in defaults, then layers cliFlags (if non-nil) on top so
// command-line overrides win. A missing config file is not an error —
// it falls back to defaults exactly like the source.
func Load(configPath string, cliFlags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	bindDefaults(v, Defaults())

	if configPath != "" {
		raw, err := os.ReadFile(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, err
			}
		} else {
			v.SetConfigType("properties")
			if err := v.ReadConfig(bytes.NewReader(stripInlineComments(raw))); err != nil {
				return Config{}, err
			}
		}
	}

	if cliFlags != nil {
		_ = v.BindPFlags(cliFlags)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// stripInlineComments removes a trailing "# ..." remark from each
// value so "target_fps = 24.0 # override" parses as a bare float;
// viper's properties parser only understands whole-line comments.
func stripInlineComments(raw []byte) []byte {
	lines := bytes.Split(raw, []byte("\n"))
	for i, line := range lines {
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 || trimmed[0] == '#' {
			continue
		}
		eq := bytes.IndexByte(line, '=')
		if eq < 0 {
			continue
		}
		key, value := line[:eq+1], line[eq+1:]
		if hash := bytes.IndexByte(value, '#'); hash >= 0 {
			value = value[:hash]
		}
		lines[i] = append(key, bytes.TrimRight(value, " \t\r")...)
	}
	return bytes.Join(lines, []byte("\n"))
}
