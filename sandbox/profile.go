// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile defines the filesystem and namespace policy for a spawned
// runtime. Profiles are declarative YAML, support single inheritance
// via the inherit field, and are resolved once at spawn time.
type Profile struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Inherit     string            `yaml:"inherit,omitempty"`
	Filesystem  []Mount           `yaml:"filesystem,omitempty"`
	Namespaces  NamespaceConfig   `yaml:"namespaces,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`
	Security    SecurityConfig    `yaml:"security,omitempty"`
	CreateDirs  []string          `yaml:"create_dirs,omitempty"`

	// MaxProcesses bounds how many processes the runtime may have at
	// once (the fork budget). Zero means the flavor default.
	MaxProcesses int `yaml:"max_processes,omitempty"`
}

// Mount defines one filesystem mount in the sandbox.
type Mount struct {
	Source   string `yaml:"source,omitempty"`
	Dest     string `yaml:"dest"`
	Mode     string `yaml:"mode,omitempty"`
	Type     string `yaml:"type,omitempty"`
	Optional bool   `yaml:"optional,omitempty"`
}

// MountType constants for the Type field.
const (
	MountTypeBind  = ""      // Default: bind mount
	MountTypeTmpfs = "tmpfs" // Writable, discarded at exit
	MountTypeHide  = "hide"  // Empty tmpfs masking an existing host path
	MountTypeProc  = "proc"  // /proc
	MountTypeDev   = "dev"   // /dev (minimal)
)

// MountMode constants for the Mode field.
const (
	MountModeRO = "ro" // Read-only
	MountModeRW = "rw" // Read-write
)

// NamespaceConfig defines which namespaces to unshare.
type NamespaceConfig struct {
	PID    bool `yaml:"pid"`
	Net    bool `yaml:"net"`
	IPC    bool `yaml:"ipc"`
	UTS    bool `yaml:"uts"`
	Cgroup bool `yaml:"cgroup"`
	User   bool `yaml:"user"`
}

// SecurityConfig defines security settings for the sandbox.
type SecurityConfig struct {
	NewSession    bool `yaml:"new_session"`
	DieWithParent bool `yaml:"die_with_parent"`
}

// Clone creates a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	clone := &Profile{
		Name:         p.Name,
		Description:  p.Description,
		Inherit:      p.Inherit,
		Namespaces:   p.Namespaces,
		Security:     p.Security,
		MaxProcesses: p.MaxProcesses,
	}

	if p.Filesystem != nil {
		clone.Filesystem = make([]Mount, len(p.Filesystem))
		copy(clone.Filesystem, p.Filesystem)
	}
	if p.CreateDirs != nil {
		clone.CreateDirs = make([]string, len(p.CreateDirs))
		copy(clone.CreateDirs, p.CreateDirs)
	}
	if p.Environment != nil {
		clone.Environment = make(map[string]string)
		for k, v := range p.Environment {
			clone.Environment[k] = v
		}
	}

	return clone
}

// mergeProfiles merges child profile settings into parent. Child
// settings override parent settings; filesystem entries replace
// matching dest paths and add new ones.
func mergeProfiles(parent, child *Profile) *Profile {
	result := parent.Clone()
	result.Name = child.Name
	result.Inherit = ""

	if child.Description != "" {
		result.Description = child.Description
	}

	if len(child.Filesystem) > 0 {
		destIndex := make(map[string]int)
		for i, m := range result.Filesystem {
			destIndex[m.Dest] = i
		}
		for _, m := range child.Filesystem {
			if i, ok := destIndex[m.Dest]; ok {
				result.Filesystem[i] = m
			} else {
				result.Filesystem = append(result.Filesystem, m)
			}
		}
	}

	if child.Namespaces != (NamespaceConfig{}) {
		result.Namespaces = child.Namespaces
	}

	if len(child.Environment) > 0 {
		if result.Environment == nil {
			result.Environment = make(map[string]string)
		}
		for k, v := range child.Environment {
			result.Environment[k] = v
		}
	}

	if child.Security != (SecurityConfig{}) {
		result.Security = child.Security
	}

	if child.MaxProcesses != 0 {
		result.MaxProcesses = child.MaxProcesses
	}

	if len(child.CreateDirs) > 0 {
		seen := make(map[string]bool)
		for _, d := range result.CreateDirs {
			seen[d] = true
		}
		for _, d := range child.CreateDirs {
			if !seen[d] {
				result.CreateDirs = append(result.CreateDirs, d)
				seen[d] = true
			}
		}
	}

	return result
}

// Validate checks that a profile is internally consistent.
func (p *Profile) Validate() error {
	var problems []string

	for i, m := range p.Filesystem {
		if m.Dest == "" {
			problems = append(problems, fmt.Sprintf("filesystem[%d]: dest is required", i))
		}
		if m.Type == MountTypeBind && m.Source == "" {
			problems = append(problems, fmt.Sprintf("filesystem[%d]: source is required for bind mounts", i))
		}
		if m.Mode != "" && m.Mode != MountModeRO && m.Mode != MountModeRW {
			problems = append(problems, fmt.Sprintf("filesystem[%d]: invalid mode %q (must be ro or rw)", i, m.Mode))
		}
		switch m.Type {
		case MountTypeBind, MountTypeTmpfs, MountTypeHide, MountTypeProc, MountTypeDev:
		default:
			problems = append(problems, fmt.Sprintf("filesystem[%d]: unknown mount type %q", i, m.Type))
		}
	}

	if p.MaxProcesses < 0 {
		problems = append(problems, "max_processes must be >= 0")
	}

	if len(problems) > 0 {
		return fmt.Errorf("profile %q validation failed:\n  %s", p.Name, strings.Join(problems, "\n  "))
	}
	return nil
}

// view derives the immutable FilesystemView recorded on the handle
// from the profile's mount list.
func (p *Profile) view(root string) *FilesystemView {
	var mounts []MountPoint
	for _, m := range p.Filesystem {
		switch m.Type {
		case MountTypeTmpfs:
			mounts = append(mounts, MountPoint{SandboxPath: m.Dest, Access: WritableEphemeral})
		case MountTypeHide:
			mounts = append(mounts, MountPoint{HostPath: m.Dest, SandboxPath: m.Dest, Access: Hidden})
		case MountTypeProc, MountTypeDev:
			// Synthetic kernel filesystems, not part of the view.
		default:
			access := ReadOnly
			if m.Mode == MountModeRW {
				access = WritableEphemeral
			}
			mounts = append(mounts, MountPoint{HostPath: m.Source, SandboxPath: m.Dest, Access: access})
		}
	}
	return newFilesystemView(root, mounts)
}

// Variables holds the values for ${VAR} expansion in profiles.
type Variables map[string]string

var variablePattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Expand expands ${VAR} references using the Variables map, falling
// back to the process environment. Unknown variables are left as-is.
func (v Variables) Expand(s string) string {
	return variablePattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if value, ok := v[name]; ok {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return match
	})
}

// ExpandProfile expands all variables in a profile.
func (v Variables) ExpandProfile(p *Profile) *Profile {
	result := p.Clone()
	for i := range result.Filesystem {
		result.Filesystem[i].Source = v.Expand(result.Filesystem[i].Source)
		result.Filesystem[i].Dest = v.Expand(result.Filesystem[i].Dest)
	}
	for key, value := range result.Environment {
		result.Environment[key] = v.Expand(value)
	}
	for i := range result.CreateDirs {
		result.CreateDirs[i] = v.Expand(result.CreateDirs[i])
	}
	return result
}

// ProfilesConfig is one parsed profiles YAML document.
type ProfilesConfig struct {
	Profiles map[string]*Profile `yaml:"profiles"`
}

// ParseProfilesConfig parses a profiles YAML document and names each
// profile after its map key.
func ParseProfilesConfig(data []byte) (*ProfilesConfig, error) {
	var config ProfilesConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse profiles config: %w", err)
	}
	for name, profile := range config.Profiles {
		profile.Name = name
	}
	return &config, nil
}

// LoadProfilesConfig reads and parses a profiles YAML file.
func LoadProfilesConfig(path string) (*ProfilesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles config: %w", err)
	}
	config, err := ParseProfilesConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// ProfileLoader loads and resolves sandbox profiles. Later-loaded
// configs override earlier ones; resolution applies inheritance and
// caches the result.
type ProfileLoader struct {
	configs  []*ProfilesConfig
	resolved map[string]*Profile
}

// NewProfileLoader creates an empty loader.
func NewProfileLoader() *ProfileLoader {
	return &ProfileLoader{
		resolved: make(map[string]*Profile),
	}
}

// LoadDefaults loads the built-in default profiles.
func (l *ProfileLoader) LoadDefaults() error {
	config, err := ParseProfilesConfig([]byte(defaultProfilesYAML))
	if err != nil {
		return fmt.Errorf("parse default profiles: %w", err)
	}
	l.configs = append(l.configs, config)
	return nil
}

// LoadFile loads profiles from a YAML file.
func (l *ProfileLoader) LoadFile(path string) error {
	config, err := LoadProfilesConfig(path)
	if err != nil {
		return err
	}
	l.configs = append(l.configs, config)
	return nil
}

// Resolve resolves a profile by name, applying inheritance.
func (l *ProfileLoader) Resolve(name string) (*Profile, error) {
	if profile, ok := l.resolved[name]; ok {
		return profile, nil
	}

	var base *Profile
	for _, config := range l.configs {
		if profile, ok := config.Profiles[name]; ok {
			base = profile
		}
	}
	if base == nil {
		return nil, fmt.Errorf("profile not found: %s", name)
	}

	var profile *Profile
	if base.Inherit != "" {
		parent, err := l.Resolve(base.Inherit)
		if err != nil {
			return nil, fmt.Errorf("resolve parent profile %q: %w", base.Inherit, err)
		}
		profile = mergeProfiles(parent, base)
	} else {
		profile = base.Clone()
	}

	if err := profile.Validate(); err != nil {
		return nil, err
	}

	l.resolved[name] = profile
	return profile, nil
}

// List returns all available profile names, sorted.
func (l *ProfileLoader) List() []string {
	names := make(map[string]bool)
	for _, config := range l.configs {
		for name := range config.Profiles {
			names[name] = true
		}
	}
	result := make([]string, 0, len(names))
	for name := range names {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// defaultProfilesYAML contains the built-in profile definitions. The
// formula profile is the baseline every flavor starts from: the
// runtime's own code directory read-only, a private tmpfs scratch
// area, and every namespace unshared (no network, private pid space).
const defaultProfilesYAML = `
profiles:
  formula:
    description: "Formula runtime: read-only code, ephemeral scratch, no network"

    filesystem:
      - source: ${RUNTIME_DIR}
        dest: /runtime
        mode: ro
      - type: tmpfs
        dest: /tmp
      - type: proc
        dest: /proc
      - type: dev
        dest: /dev
      - source: /usr
        dest: /usr
        mode: ro
      - source: /bin
        dest: /bin
        mode: ro
      - source: /lib
        dest: /lib
        mode: ro
      - source: /lib64
        dest: /lib64
        mode: ro
        optional: true
      - source: /etc/alternatives
        dest: /etc/alternatives
        mode: ro
        optional: true

    namespaces:
      pid: true
      net: true
      ipc: true
      uts: true

    environment:
      PATH: "/usr/local/bin:/usr/bin:/bin"
      HOME: "/tmp"
      TMPDIR: "/tmp"

    security:
      new_session: true
      die_with_parent: true

    create_dirs:
      - /tmp

    max_processes: 8

  formula-debug:
    description: "Formula runtime with the host's network left reachable"
    inherit: formula

    namespaces:
      pid: true
      net: false
      ipc: true
      uts: true
`
