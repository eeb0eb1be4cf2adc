// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the hub's YAML configuration.
//
// Configuration comes from at most one file, named either by the
// STELLIBERTY_CONFIG environment variable (via [Load]) or by a
// --config flag (via [LoadFile]). There is no file discovery. When no
// file is named, [Default] applies unchanged.
//
// Durations are written as Go duration strings ("500ms", "30s").
// Endpoint paths and the metrics address accept ${VAR} and
// ${VAR:-default} patterns, expanded from the environment after
// loading.
package config
