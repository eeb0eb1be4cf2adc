// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint helpers used by the hub binary
// before its structured logger exists or after main's work has failed.
package process
