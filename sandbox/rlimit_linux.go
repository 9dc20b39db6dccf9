// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import "golang.org/x/sys/unix"

// applyProcessBudget caps the number of processes the runtime's user
// may have within the runtime, using prlimit on the started child.
// This is the fork budget backing the "no process spawning beyond a
// small fixed count" invariant on flavors without pid-namespace
// support of their own.
func applyProcessBudget(pid, budget int) error {
	limit := unix.Rlimit{Cur: uint64(budget), Max: uint64(budget)}
	return unix.Prlimit(pid, unix.RLIMIT_NPROC, &limit, nil)
}
