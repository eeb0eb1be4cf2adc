// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the hub binary.
//
// [Version], [GitCommit], [GitDirty], and [BuildTime] may be injected
// with -ldflags -X. Any left at their defaults are filled from the VCS
// stamp the Go toolchain embeds (vcs.revision, vcs.modified, vcs.time)
// when one is present.
package version
