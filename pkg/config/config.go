// Package config loads the options spec.md §6 lists as external
// configuration into a raft.Options plus the ACL/dedup/bus knobs that
// sit alongside it. Grounded on cuemby-warren's YAML resource loading
// (cmd/warren/apply.go): plain struct tags decoded with
// gopkg.in/yaml.v3, no schema-validation framework.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vzdtic/raftcore/pkg/id"
	"github.com/vzdtic/raftcore/pkg/raft"
	"github.com/vzdtic/raftcore/pkg/rpcdispatch"
)

// File is the on-disk shape of a node's configuration file.
type File struct {
	MemberID        string   `yaml:"memberId,omitempty"`
	ElectionTimeout struct {
		Min time.Duration `yaml:"min"`
		Max time.Duration `yaml:"max"`
	} `yaml:"electionTimeoutRange"`
	HeartbeatInterval         time.Duration `yaml:"heartbeatInterval"`
	RaftRPCTimeout            time.Duration `yaml:"raftRpcTimeout"`
	AllowedNetworks           []string      `yaml:"allowedNetworks,omitempty"`
	DuplicateDetectorCapacity int           `yaml:"duplicateDetectorCapacity,omitempty"`
	DuplicateDetectorMaxAge   time.Duration `yaml:"duplicateDetectorMaxAge,omitempty"`
	RPCRateLimitPerSecond     float64       `yaml:"rpcRateLimitPerSecond,omitempty"`
	RPCRateLimitBurst         int           `yaml:"rpcRateLimitBurst,omitempty"`
	Buffering                 struct {
		Enabled           bool   `yaml:"enabled"`
		InMemoryThreshold int    `yaml:"inMemoryThreshold"`
		ScratchDir        string `yaml:"scratchDir"`
	} `yaml:"bufferingOptions"`
	HTTPAddr string            `yaml:"httpAddr,omitempty"`
	Peers    map[string]string `yaml:"peers,omitempty"`
}

// Load reads and parses a YAML configuration file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &f, nil
}

// ToRaftOptions maps the file into raft.Options, filling in defaults
// for anything left zero.
func (f *File) ToRaftOptions() (raft.Options, error) {
	opts := raft.DefaultOptions()

	if f.MemberID != "" {
		memberID, err := id.Parse(f.MemberID)
		if err != nil {
			return opts, fmt.Errorf("config: invalid memberId %q: %w", f.MemberID, err)
		}
		opts.MemberID = memberID
	}
	if f.ElectionTimeout.Min > 0 {
		opts.ElectionTimeoutRange.Min = f.ElectionTimeout.Min
	}
	if f.ElectionTimeout.Max > 0 {
		opts.ElectionTimeoutRange.Max = f.ElectionTimeout.Max
	}
	if f.HeartbeatInterval > 0 {
		opts.HeartbeatInterval = f.HeartbeatInterval
	}
	if f.RaftRPCTimeout > 0 {
		opts.RaftRPCTimeout = f.RaftRPCTimeout
	}
	opts.Buffering = raft.BufferingOptions{
		Enabled:           f.Buffering.Enabled,
		InMemoryThreshold: f.Buffering.InMemoryThreshold,
		ScratchDir:        f.Buffering.ScratchDir,
	}
	return opts, nil
}

// ValidateAllowedNetworks checks every configured CIDR parses, ahead
// of handing it to rpcdispatch.NewACL, so a malformed config fails
// fast at startup rather than on the first inbound RPC.
func (f *File) ValidateAllowedNetworks() error {
	for _, cidr := range f.AllowedNetworks {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("config: invalid allowedNetworks entry %q: %w", cidr, err)
		}
	}
	return nil
}

// DedupRetention returns the configured detector capacity and max age,
// applying sane defaults when unset.
func (f *File) DedupRetention() (capacity int, maxAge time.Duration) {
	capacity = f.DuplicateDetectorCapacity
	if capacity <= 0 {
		capacity = 4096
	}
	maxAge = f.DuplicateDetectorMaxAge
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	return capacity, maxAge
}

// RateLimiter builds the per-sender RPC rate limiter the file
// configures, or nil if rpcRateLimitPerSecond is left unset (no
// limiting).
func (f *File) RateLimiter() *rpcdispatch.RateLimiter {
	if f.RPCRateLimitPerSecond <= 0 {
		return nil
	}
	burst := f.RPCRateLimitBurst
	if burst <= 0 {
		burst = 1
	}
	return rpcdispatch.NewRateLimiter(f.RPCRateLimitPerSecond, burst)
}
