// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func restoreVariables(t *testing.T) {
	commit, dirty, buildTime, version := GitCommit, GitDirty, BuildTime, Version
	t.Cleanup(func() {
		GitCommit, GitDirty, BuildTime, Version = commit, dirty, buildTime, version
	})
}

func TestApplySettings(t *testing.T) {
	restoreVariables(t)
	GitCommit, GitDirty, BuildTime = "unknown", "false", "unknown"

	applySettings([]debug.BuildSetting{
		{Key: "vcs", Value: "git"},
		{Key: "vcs.revision", Value: "0123456789abcdef"},
		{Key: "vcs.modified", Value: "true"},
		{Key: "vcs.time", Value: "2026-03-01T12:00:00Z"},
	})

	if GitCommit != "0123456" {
		t.Errorf("GitCommit = %q, want 0123456", GitCommit)
	}
	if GitDirty != "true" {
		t.Errorf("GitDirty = %q, want true", GitDirty)
	}
	if BuildTime != "2026-03-01T12:00:00Z" {
		t.Errorf("BuildTime = %q", BuildTime)
	}
}

func TestApplySettingsKeepsInjectedValues(t *testing.T) {
	restoreVariables(t)
	GitCommit, BuildTime = "feedbee", "2026-01-01T00:00:00Z"

	applySettings([]debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef"},
		{Key: "vcs.time", Value: "2026-03-01T12:00:00Z"},
	})

	if GitCommit != "feedbee" || BuildTime != "2026-01-01T00:00:00Z" {
		t.Errorf("injected values overwritten: commit %q, time %q", GitCommit, BuildTime)
	}
}

func TestFull(t *testing.T) {
	restoreVariables(t)
	Version = "1.4.0"

	full := Full()
	if !strings.HasPrefix(full, "1.4.0 (") {
		t.Errorf("Full() = %q, want it to start with the version", full)
	}
	if !strings.Contains(full, "Go: go") {
		t.Errorf("Full() = %q, want the Go version", full)
	}
}
