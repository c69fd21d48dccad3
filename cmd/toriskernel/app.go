// Package main is the toriskernel CLI: a cobra root command wiring
// together three torus.Runtime instances, a braid coordinator, and the
// constraint/reconstruction machinery into the scenarios spec.md section
// 8 describes, reproducing section 6's optional shell surface as a real
// CLI subcommand rather than the excluded decorative TTY app.
package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/justanotherdot-student/toriskernel/internal/blockdev"
	"github.com/justanotherdot-student/toriskernel/internal/braid"
	"github.com/justanotherdot-student/toriskernel/internal/config"
	"github.com/justanotherdot-student/toriskernel/internal/constraint"
	"github.com/justanotherdot-student/toriskernel/internal/device"
	"github.com/justanotherdot-student/toriskernel/internal/events"
	"github.com/justanotherdot-student/toriskernel/internal/lattice"
	"github.com/justanotherdot-student/toriskernel/internal/proc"
	"github.com/justanotherdot-student/toriskernel/internal/reconstruct"
	"github.com/justanotherdot-student/toriskernel/internal/sched"
	"github.com/justanotherdot-student/toriskernel/internal/torus"
	"github.com/justanotherdot-student/toriskernel/internal/vfs"
	"github.com/justanotherdot-student/toriskernel/internal/vmem"
	"github.com/justanotherdot-student/toriskernel/internal/wire"
	"github.com/sirupsen/logrus"
)

// world is every subcommand's fully wired three-instance system: a run
// id (google/uuid, per SPEC_FULL.md's DOMAIN STACK), the three instance
// runtimes and their namespaces, and the braid coordinator tying them
// together. Built once per CLI invocation from the loaded config.
type world struct {
	runID string
	cfg   *config.Config
	log   *logrus.Logger

	instances  [3]*torus.Runtime
	namespaces [3]*vfs.Namespace

	coord      *braid.Coordinator
	recon      *reconstruct.Reconstructor
	transport  wire.Transport
	blockFiles []*blockdev.FileStore
}

// buildTransport constructs the wire.Transport cfg.Transport selects:
// "udp" for real sockets between instances, anything else (including the
// default "shmem") for the in-process simulated ring.
func buildTransport(cfg *config.Config) (wire.Transport, error) {
	switch cfg.Transport.Kind {
	case "udp":
		t, err := wire.NewUDPTransport(cfg.Transport.Host, cfg.Transport.BasePort)
		if err != nil {
			return nil, fmt.Errorf("starting udp transport: %w", err)
		}
		return t, nil
	default:
		return wire.NewShmemRing(), nil
	}
}

// buildBlockStore constructs the blockdev.BlockDevice instance i's
// BlockFS mounts on: cfg.Block.Kind "file" opens a per-instance on-disk
// FileStore (suffixed by instance index so the three instances never
// share a file), anything else (including the default "memory") builds
// an in-memory Store that resets every run.
func buildBlockStore(cfg *config.Config, i int) (blockdev.BlockDevice, error) {
	size, total := cfg.Block.BlockSize, cfg.Block.TotalBlocks
	if cfg.Block.Kind != "file" {
		return blockdev.New(size, total), nil
	}
	path := fmt.Sprintf("%s.%d", cfg.Block.Path, i)
	return blockdev.OpenFileStore(path, size, total)
}

// close releases the world's transport, if any (e.g. the UDP transport's
// sockets), and any open block-store files; safe to call on a world
// whose transport is the shmem ring or whose block backend is in-memory.
func (w *world) close() error {
	var err error
	for _, f := range w.blockFiles {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if w.transport == nil {
		return err
	}
	if terr := w.transport.Close(); terr != nil && err == nil {
		err = terr
	}
	return err
}

func newWorld(cfg *config.Config, log *logrus.Logger) (*world, error) {
	runID := uuid.NewString()
	w := &world{runID: runID, cfg: cfg, log: log}

	engine := constraint.NewEngine()
	entry := log.WithField("run_id", runID)
	w.coord = braid.NewCoordinator(runID, cfg.Braid.InitialInterval, engine, entry)
	w.recon = reconstruct.New(entry)

	transport, err := buildTransport(cfg)
	if err != nil {
		return nil, err
	}
	w.transport = transport

	for i := 0; i < 3; i++ {
		lat := lattice.New(cfg.Lattice.Width, cfg.Lattice.Height, cfg.Lattice.Depth, cfg.Lattice.Capacity)
		vm := vmem.NewManager(cfg.Arena.PhysFrames, cfg.Arena.MaxProcesses)
		r := torus.New(i, lat, events.NewQueue(), events.NewDelayMap(), sched.New(cfg.Arena.MaxProcesses), vm, entry.WithField("instance", i))
		if err := r.WireLatticeEdges(4); err != nil {
			return nil, fmt.Errorf("wiring instance %d lattice edges: %w", i, err)
		}
		w.instances[i] = r

		// Capacity must exceed BlockFS's fixed layout: MaxBlockFiles slots
		// of SlotBytes each, plus the header/entry-table/GPT-guard
		// overhead (internal/vfs/blockfs.go's Mount). The default geometry,
		// 16384 blocks of 512 bytes (8 MiB), clears that with headroom.
		store, err := buildBlockStore(cfg, i)
		if err != nil {
			return nil, fmt.Errorf("building block store for instance %d: %w", i, err)
		}
		if fs, ok := store.(*blockdev.FileStore); ok {
			w.blockFiles = append(w.blockFiles, fs)
		}
		block := vfs.NewBlockFS(store)
		if !block.Mount() {
			return nil, fmt.Errorf("mounting BlockFS for instance %d: store too small for fixed layout", i)
		}
		console := &device.Console{}
		table := device.NewTable(console.Ops())
		table.Register("block", device.NewBlock(store).Ops())
		table.Register("net", device.NewNet().Ops())
		ns := vfs.NewNamespace(vfs.NewMemFS(), block, table)
		w.namespaces[i] = ns
	}
	return w, nil
}

// spawnInit creates process 1 on instance i, bound to console stdio, the
// conventional first process every instance boots (mirroring biscuit's
// own init/sh bring-up).
func (w *world) spawnInit(i int) (*proc.Process, error) {
	r := w.instances[i]
	p := proc.NewProcess(1, 0, i)
	pt, err := r.Vmem.NewPageTable()
	if err != nil {
		return nil, fmt.Errorf("allocating init page table: %w", err)
	}
	p.PageTable = pt
	if err := r.Lattice.Insert(p.PID, 0, 0, 0); err != nil {
		return nil, fmt.Errorf("seating init process in lattice: %w", err)
	}
	if errno := w.namespaces[i].BindStdio(p); errno != proc.OK {
		return nil, fmt.Errorf("binding init stdio: %w", errno.AsError())
	}
	pooled, err := r.Sched.Add(p)
	if err != nil {
		return nil, fmt.Errorf("adding init to scheduler: %w", err)
	}
	return pooled, nil
}
