//go:build mage

/*
TapTo
Copyright (C) 2024 Callan Barrett

This file is part of TapTo.

TapTo is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

TapTo is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with TapTo.  If not, see <http://www.gnu.org/licenses/>.
*/

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	_ "github.com/joho/godotenv/autoload"
	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

var (
	cwd, _         = os.Getwd()
	binDir         = filepath.Join(cwd, "_bin")
	binReleasesDir = filepath.Join(binDir, "releases")
	appPath        = filepath.Join(cwd, "cmd", "tapto-pcsc")
	// pcsc-lite headers are needed on linux, windows and macos link the
	// system frameworks
	cgoEnv = map[string]string{
		"CGO_ENABLED": "1",
	}
)

func platform() string {
	return runtime.GOOS + "_" + runtime.GOARCH
}

func binName() string {
	if runtime.GOOS == "windows" {
		return "tapto-pcsc.exe"
	}
	return "tapto-pcsc"
}

func Clean() {
	_ = sh.Rm(binDir)
}

func Build() error {
	out := filepath.Join(binDir, platform(), binName())
	fmt.Println("Building", out)
	return sh.RunWithV(cgoEnv, "go", "build", "-o", out, appPath)
}

func Test() error {
	return sh.RunWithV(cgoEnv, "go", "test", "-race", "./...")
}

// Mock runs the service against the simulated reader with console logging.
func Mock() error {
	mg.Deps(Build)
	env := map[string]string{
		"TAPTO_PCSC_CONFIG": filepath.Join(binDir, "mock.ini"),
	}
	return sh.RunWithV(env, filepath.Join(binDir, platform(), binName()), "-mock", "-daemon")
}

func Release() error {
	mg.Deps(Clean, Test, Build)

	err := os.MkdirAll(binReleasesDir, 0755)
	if err != nil {
		return err
	}

	zipName := fmt.Sprintf("tapto-pcsc_%s.zip", platform())
	return sh.RunV(
		"zip", "-j",
		filepath.Join(binReleasesDir, zipName),
		filepath.Join(binDir, platform(), binName()),
	)
}
