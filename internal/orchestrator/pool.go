package orchestrator

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/sells-group/phi-regress/internal/config"
)

const (
	gib = 1 << 30

	minMemoryBytes = 8 * gib
	memPerWorker   = 4 * gib
	minCPUWorkers  = 2
	maxCPUWorkers  = 8
	cpuFraction    = 0.25
)

// HostResources describes the machine trials run on.
type HostResources struct {
	CPUs        int
	MemoryBytes uint64
}

// PoolSize derives the worker count from host resources. Hosts below 8 GiB
// run serially; otherwise the smaller of a CPU bound and a memory bound wins.
func PoolSize(h HostResources) int {
	if h.MemoryBytes < minMemoryBytes {
		return 1
	}
	cpuBased := int(float64(h.CPUs) * cpuFraction)
	if cpuBased < minCPUWorkers {
		cpuBased = minCPUWorkers
	}
	if cpuBased > maxCPUWorkers {
		cpuBased = maxCPUWorkers
	}
	memBased := int(h.MemoryBytes / memPerWorker)
	return min(cpuBased, memBased)
}

// DetectHost reads the logical CPU count and total memory.
func DetectHost(ctx context.Context) (HostResources, error) {
	cpus, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return HostResources{}, eris.Wrap(err, "orchestrator: count cpus")
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return HostResources{}, eris.Wrap(err, "orchestrator: read memory")
	}
	return HostResources{CPUs: cpus, MemoryBytes: vm.Total}, nil
}

// Resolve picks the effective pool size: serial mode forces 1, a positive
// configured size wins next, otherwise the host decides.
func Resolve(cfg config.PoolConfig, serial bool, h HostResources) int {
	switch {
	case serial:
		return 1
	case cfg.Size > 0:
		return cfg.Size
	default:
		return PoolSize(h)
	}
}
