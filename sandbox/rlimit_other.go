// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package sandbox

// applyProcessBudget is a no-op where prlimit is unavailable. The
// seatbelt flavor enforces its budget in the SBPL profile instead.
func applyProcessBudget(pid, budget int) error {
	return nil
}
