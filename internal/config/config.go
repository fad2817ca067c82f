// Package config holds the mount configuration record and the YAML
// file loader. The record is immutable once constructed; CLI parsing
// and validation happen before values reach this package.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/driftfs/driftfs/internal/storage/s3"
)

// DefaultSocketPath is the well-known readiness socket location used
// when no override is given.
const DefaultSocketPath = "/tmp/driftfs.sock"

// Identity resolves a numeric owner id either from the calling process
// or from an explicit override.
type Identity struct {
	explicit bool
	value    uint32
}

// InheritIdentity resolves to the calling process's own id.
func InheritIdentity() Identity {
	return Identity{}
}

// ExplicitIdentity resolves to v regardless of the process identity.
func ExplicitIdentity(v uint32) Identity {
	return Identity{explicit: true, value: v}
}

// Resolve returns the explicit value if one was set, otherwise the
// result of current (os.Getuid or os.Getgid wrapped by the caller).
func (id Identity) Resolve(current func() int) uint32 {
	if id.explicit {
		return id.value
	}
	c := current()
	if c < 0 {
		// Windows reports -1; the mount path is unix-only, but keep
		// the conversion well defined.
		return 0
	}
	return uint32(c)
}

// IsExplicit reports whether the identity carries an override.
func (id Identity) IsExplicit() bool {
	return id.explicit
}

// MountOptions contains the boolean mount toggles and optional
// free-form options forwarded to the FUSE layer. The interaction
// between read-only and write-back caching is left to the kernel.
type MountOptions struct {
	ReadOnly           bool   `yaml:"read_only"`
	AllowOther         bool   `yaml:"allow_other"`
	AllowRoot          bool   `yaml:"allow_root"`
	DefaultPermissions bool   `yaml:"default_permissions"`
	NonEmpty           bool   `yaml:"nonempty"`
	WriteBackCache     bool   `yaml:"write_back_cache"`
	FSName             string `yaml:"fs_name"`
	ExtraOptions       string `yaml:"extra_options"`
}

// MountConfig is the immutable configuration for one mount session.
type MountConfig struct {
	// MountDir is where the filesystem is mounted. Created
	// (recursively) if absent. Must be non-empty.
	MountDir string `yaml:"mount_dir"`

	// UID and GID own all files in the mounted tree.
	UID Identity `yaml:"-"`
	GID Identity `yaml:"-"`

	Options MountOptions `yaml:"options"`
}

// File is the on-disk YAML configuration. Identity overrides live
// here as optional numbers; nil means inherit.
type File struct {
	Mount       MountConfig `yaml:"mount"`
	UID         *uint32     `yaml:"uid"`
	GID         *uint32     `yaml:"gid"`
	SocketPath  string      `yaml:"socket_path"`
	MetricsAddr string      `yaml:"metrics_addr"`
	LogLevel    string      `yaml:"log_level"`
	S3          s3.Config   `yaml:"s3"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if f.UID != nil {
		f.Mount.UID = ExplicitIdentity(*f.UID)
	}
	if f.GID != nil {
		f.Mount.GID = ExplicitIdentity(*f.GID)
	}
	if f.SocketPath == "" {
		f.SocketPath = DefaultSocketPath
	}
	return &f, nil
}
