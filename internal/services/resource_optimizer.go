package services

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// callsPerCore is how many concurrent provider calls one core sustains.
// Calls spend nearly all their time waiting on the network.
const callsPerCore = 4

const fallbackMemoryGB = 8.0

// ResourceOptimizerConfig bounds the provider fan-out ceiling.
type ResourceOptimizerConfig struct {
	CPUThreshold    float64 `yaml:"cpu_threshold" default:"80.0"`
	MemoryThreshold float64 `yaml:"memory_threshold" default:"85.0"`
	MinWorkers      int     `yaml:"min_workers" default:"4"`
	MaxWorkers      int     `yaml:"max_workers" default:"64"`
}

func (c *ResourceOptimizerConfig) applyDefaults() {
	if c.CPUThreshold == 0 {
		c.CPUThreshold = 80.0
	}
	if c.MemoryThreshold == 0 {
		c.MemoryThreshold = 85.0
	}
	if c.MinWorkers == 0 {
		c.MinWorkers = 4
	}
	if c.MaxWorkers == 0 {
		c.MaxWorkers = 64
	}
}

// HostStats is the host snapshot the ceiling is derived from.
type HostStats struct {
	CPUCores      int       `json:"cpu_cores"`
	MemoryGB      float64   `json:"memory_gb"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	Goroutines    int       `json:"goroutines"`
	MaxWorkers    int       `json:"max_workers"`
	SampledAt     time.Time `json:"sampled_at"`
}

// ResourceOptimizer sizes the provider fan-out from the host's CPU and memory.
type ResourceOptimizer struct {
	mu         sync.RWMutex
	config     ResourceOptimizerConfig
	host       HostStats
	maxWorkers int
	logger     *slog.Logger
}

func NewResourceOptimizer(config ResourceOptimizerConfig, logger *slog.Logger) *ResourceOptimizer {
	config.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	host := HostStats{CPUCores: runtime.NumCPU(), MemoryGB: fallbackMemoryGB}
	if vm, err := mem.VirtualMemory(); err == nil {
		host.MemoryGB = float64(vm.Total) / (1 << 30)
	} else {
		logger.Warn("Could not read host memory, assuming default", "memory_gb", fallbackMemoryGB, "error", err)
	}

	ro := &ResourceOptimizer{config: config, host: host, logger: logger}
	ro.maxWorkers = workerCeiling(host, config)
	logger.Info("Sized provider fan-out",
		"cpu_cores", host.CPUCores,
		"memory_gb", host.MemoryGB,
		"max_workers", ro.maxWorkers)
	return ro
}

// workerCeiling shrinks cores*callsPerCore on small hosts and under load,
// then clamps to the configured bounds.
func workerCeiling(host HostStats, cfg ResourceOptimizerConfig) int {
	scale := 1.0
	switch {
	case host.MemoryGB < 4:
		scale = 0.5
	case host.MemoryGB < 8:
		scale = 0.75
	}
	switch {
	case host.CPUPercent > cfg.CPUThreshold:
		scale *= 0.7
	case host.MemoryPercent > cfg.MemoryThreshold:
		scale *= 0.8
	}

	workers := int(float64(host.CPUCores*callsPerCore) * scale)
	return min(max(workers, cfg.MinWorkers), cfg.MaxWorkers)
}

// MaxWorkers returns the current ceiling.
func (ro *ResourceOptimizer) MaxWorkers() int {
	ro.mu.RLock()
	defer ro.mu.RUnlock()
	return ro.maxWorkers
}

// FanOutLimit returns how many provider calls may run at once so that
// expectedUsers aggregations can each reach every provider, capped by
// MaxWorkers but never below one slot per provider.
func (ro *ResourceOptimizer) FanOutLimit(providerCount, expectedUsers int) int {
	providerCount = max(providerCount, 1)
	expectedUsers = max(expectedUsers, 1)
	return max(min(providerCount*expectedUsers, ro.MaxWorkers()), providerCount)
}

// Sample measures current CPU and memory load and recomputes the ceiling.
// The CPU measurement blocks for one second.
func (ro *ResourceOptimizer) Sample(ctx context.Context) error {
	cpuPercent, err := cpu.PercentWithContext(ctx, time.Second, false)
	if err != nil {
		return fmt.Errorf("failed to sample CPU usage: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to sample memory usage: %w", err)
	}

	ro.mu.Lock()
	defer ro.mu.Unlock()
	if len(cpuPercent) > 0 {
		ro.host.CPUPercent = cpuPercent[0]
	}
	ro.host.MemoryPercent = vm.UsedPercent
	ro.host.SampledAt = time.Now()
	ro.maxWorkers = workerCeiling(ro.host, ro.config)
	return nil
}

// Host returns the latest snapshot.
func (ro *ResourceOptimizer) Host() HostStats {
	ro.mu.RLock()
	defer ro.mu.RUnlock()
	out := ro.host
	out.Goroutines = runtime.NumGoroutine()
	out.MaxWorkers = ro.maxWorkers
	return out
}
