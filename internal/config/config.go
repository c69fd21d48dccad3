// Package config loads the tunables spec.md leaves as configuration
// rather than hard invariants: lattice dimensions and per-voxel capacity,
// arena sizes, the initial braid interval, which transport the braid
// exchange uses, and which backing store BlockFS mounts on. Every field
// has a compiled-in default matching spec.md's stated constants, so a
// missing or partial config.toml still produces a fully usable Config
// (grounded on dsmmcken-dh-cli's Load, which returns defaults rather than
// an error when no file is present).
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// LatticeConfig sizes the toroidal lattice (spec.md 4.B).
type LatticeConfig struct {
	Width    int `toml:"width,omitempty"`
	Height   int `toml:"height,omitempty"`
	Depth    int `toml:"depth,omitempty"`
	Capacity int `toml:"voxel_capacity,omitempty"`
}

// ArenaConfig sizes the fixed-capacity pools (spec.md 4.A) used across
// the kernel: processes, mem-fs files, and physical frames.
type ArenaConfig struct {
	MaxProcesses int `toml:"max_processes,omitempty"`
	MemFSFiles   int `toml:"memfs_files,omitempty"`
	PhysFrames   int `toml:"phys_frames,omitempty"`
}

// BraidConfig tunes the coordinator's exchange cadence (spec.md 4.F).
type BraidConfig struct {
	InitialInterval    uint64  `toml:"initial_interval,omitempty"`
	MinInterval        uint64  `toml:"min_interval,omitempty"`
	MaxInterval        uint64  `toml:"max_interval,omitempty"`
	ViolationThreshold float64 `toml:"violation_threshold,omitempty"`
	ParallelEngine     bool    `toml:"parallel_engine,omitempty"`
	TicksPerExchange   uint64  `toml:"ticks_per_exchange,omitempty"`
}

// TransportConfig selects and tunes the inter-instance projection
// transport (spec.md section 6).
type TransportConfig struct {
	// Kind is "shmem" (in-process simulated ring, the default — suitable
	// for a single host process running all three instances) or "udp"
	// (real sockets, useful when instances run as separate processes).
	Kind     string `toml:"kind,omitempty"`
	Host     string `toml:"host,omitempty"`
	BasePort int    `toml:"base_port,omitempty"`
}

// BlockConfig selects the backing store BlockFS mounts on (spec.md 4.L).
type BlockConfig struct {
	// Kind is "memory" (the default — a blockdev.Store byte slab, reset
	// every run) or "file" (a blockdev.FileStore at Path, persisting
	// BlockFS content across restarts).
	Kind        string `toml:"kind,omitempty"`
	Path        string `toml:"path,omitempty"`
	BlockSize   uint32 `toml:"block_size,omitempty"`
	TotalBlocks uint64 `toml:"total_blocks,omitempty"`
}

// Config is the full set of runtime tunables, loaded from an optional
// TOML file and otherwise defaulted.
type Config struct {
	Lattice   LatticeConfig   `toml:"lattice,omitempty"`
	Arena     ArenaConfig     `toml:"arena,omitempty"`
	Braid     BraidConfig     `toml:"braid,omitempty"`
	Transport TransportConfig `toml:"transport,omitempty"`
	Block     BlockConfig     `toml:"block,omitempty"`
}

// Default returns the compiled-in configuration matching spec.md's
// stated constants: an 8x8x8 lattice with voxel capacity 4, 64 processes
// (internal/projection.MaxProcesses), 128 MemFS files (spec.md 4.L), 256
// braid-interval ticks initially, and the in-process shmem transport.
func Default() *Config {
	return &Config{
		Lattice: LatticeConfig{Width: 8, Height: 8, Depth: 8, Capacity: 4},
		Arena:   ArenaConfig{MaxProcesses: 64, MemFSFiles: 128, PhysFrames: 4096},
		Braid: BraidConfig{
			InitialInterval:    256,
			MinInterval:        100,
			MaxInterval:        10000,
			ViolationThreshold: 0.05,
			ParallelEngine:     false,
			TicksPerExchange:   256,
		},
		Transport: TransportConfig{Kind: "shmem", Host: "127.0.0.1", BasePort: 40000},
		Block:     BlockConfig{Kind: "memory", Path: "toriskernel-block", BlockSize: 512, TotalBlocks: 16384},
	}
}

// Load reads path and overlays it onto Default(); a missing file is not
// an error (the defaults stand alone), but a malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}
