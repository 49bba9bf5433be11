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

package appconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does_not_exist.txt"), nil)
	if err != nil {
		t.Fatalf("expected missing file to be tolerated, got %v", err)
	}
	d := Defaults()
	if cfg.TargetFPS != d.TargetFPS || cfg.MinCameras != d.MinCameras {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadParsesKeyValueFileWithComments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.txt")
	body := "# comment line\n" +
		"target_fps = 24.0 # inline comment\n" +
		"min_cameras=2\n" +
		"allow_partial = false\n" +
		"output_dir = captures\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TargetFPS != 24.0 {
		t.Fatalf("expected target_fps 24.0, got %v", cfg.TargetFPS)
	}
	if cfg.MinCameras != 2 {
		t.Fatalf("expected min_cameras 2, got %v", cfg.MinCameras)
	}
	if cfg.AllowPartial {
		t.Fatal("expected allow_partial false")
	}
	if cfg.OutputDir != "captures" {
		t.Fatalf("expected output_dir captures, got %q", cfg.OutputDir)
	}
}

func TestLoadCLIFlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.txt")
	if err := os.WriteFile(path, []byte("target_fps = 24.0\n"), 0644); err != nil {
		t.Fatal(err)
	}

	fs := NewFlagSet("camcored")
	if err := fs.Parse([]string{"--target_fps=15"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, fs)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TargetFPS != 15 {
		t.Fatalf("expected CLI override 15, got %v", cfg.TargetFPS)
	}
}
