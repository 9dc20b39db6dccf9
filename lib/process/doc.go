// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers. These centralize
// the one legitimate raw-I/O pattern that exists before the structured
// logger is configured: fatal error reporting to stderr from main().
// All other output in command binaries goes through log/slog.
package process
