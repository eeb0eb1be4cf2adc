// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Set via -ldflags at build time, for example:
//
//	go build -ldflags "-X github.com/stelliberty/hub/lib/version.Version=1.4.0"
var (
	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// GitDirty is "true" when the tree had uncommitted changes.
	GitDirty = "false"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// Version is the semantic version.
	Version = "0.1.0-dev"
)

const shortCommitLength = 7

var stampOnce sync.Once

// stamp fills unset build variables from the embedded VCS settings.
func stamp() {
	stampOnce.Do(func() {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		applySettings(info.Settings)
	})
}

func applySettings(settings []debug.BuildSetting) {
	for _, setting := range settings {
		switch setting.Key {
		case "vcs.revision":
			if GitCommit == "unknown" && setting.Value != "" {
				GitCommit = setting.Value
				if len(GitCommit) > shortCommitLength {
					GitCommit = GitCommit[:shortCommitLength]
				}
			}
		case "vcs.modified":
			if setting.Value == "true" {
				GitDirty = "true"
			}
		case "vcs.time":
			if BuildTime == "unknown" && setting.Value != "" {
				BuildTime = setting.Value
			}
		}
	}
}

// Info returns a one-line version string for --version output.
func Info() string {
	stamp()
	dirty := ""
	if GitDirty == "true" {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, GitCommit, dirty, BuildTime)
}

// Full returns Info plus the Go version and platform.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Print writes "name Info()" to stdout.
func Print(name string) {
	fmt.Printf("%s %s\n", name, Info())
}
