// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"strings"
)

// Access describes how a path is exposed inside the sandbox.
type Access int

const (
	// ReadOnly paths are visible inside the sandbox but writes fail or
	// have no effect outside it.
	ReadOnly Access = iota

	// WritableEphemeral paths accept writes that vanish when the
	// runtime exits; nothing written there is visible on the host
	// filesystem afterwards.
	WritableEphemeral

	// Hidden paths exist on the host but are masked inside the
	// sandbox (typically by an empty tmpfs mounted over them).
	Hidden
)

func (a Access) String() string {
	switch a {
	case ReadOnly:
		return "ro"
	case WritableEphemeral:
		return "ephemeral"
	case Hidden:
		return "hidden"
	default:
		return fmt.Sprintf("access(%d)", int(a))
	}
}

// MountPoint is one entry in a sandbox's filesystem view. HostPath is
// empty for synthetic mounts (tmpfs scratch areas) that have no host
// backing.
type MountPoint struct {
	HostPath    string
	SandboxPath string
	Access      Access
}

// FilesystemView records which host directories a sandbox can see and
// how. Built once by the backend at spawn time and immutable
// afterwards; exposed to callers only for diagnostics.
type FilesystemView struct {
	root   string
	mounts []MountPoint
}

// newFilesystemView copies mounts so later mutation of the caller's
// slice cannot change the view.
func newFilesystemView(root string, mounts []MountPoint) *FilesystemView {
	copied := make([]MountPoint, len(mounts))
	copy(copied, mounts)
	return &FilesystemView{root: root, mounts: copied}
}

// Root returns the sandbox-visible filesystem root.
func (v *FilesystemView) Root() string {
	return v.root
}

// Mounts returns a copy of the mount table.
func (v *FilesystemView) Mounts() []MountPoint {
	copied := make([]MountPoint, len(v.mounts))
	copy(copied, v.mounts)
	return copied
}

// String renders the view as a one-line-per-mount table for logs.
func (v *FilesystemView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "root %s", v.root)
	for _, m := range v.mounts {
		if m.HostPath == "" {
			fmt.Fprintf(&b, "\n  %-9s %s", m.Access, m.SandboxPath)
			continue
		}
		fmt.Fprintf(&b, "\n  %-9s %s -> %s", m.Access, m.HostPath, m.SandboxPath)
	}
	return b.String()
}
