// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !release

package endpoint

// buildSuffix keeps development builds off the release endpoints.
const buildSuffix = "_dev"
