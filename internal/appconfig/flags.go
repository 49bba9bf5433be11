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

import "github.com/spf13/pflag"

// NewFlagSet declares the CLI surface: the handful of config.txt keys
// a caller commonly wants to override for one run without editing the
// file itself.
func NewFlagSet(progName string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(progName, pflag.ContinueOnError)
	fs.String("config", "", "path to the properties-style config file")
	fs.Float64("target_fps", 0, "override target collation FPS")
	fs.Int("min_cameras", 0, "override minimum required cameras")
	fs.Bool("allow_partial", false, "proceed even if fewer than min_cameras were found")
	fs.String("output_dir", "", "override recording output directory")
	fs.Bool("console_output", false, "mirror structured logs to stdout")
	fs.Bool("debug", false, "enable debug-level logging")
	return fs
}
