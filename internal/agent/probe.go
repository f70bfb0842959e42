package agent

import (
	"context"
	"encoding/csv"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/kabir325/fogpool/internal/config"
	"github.com/kabir325/fogpool/internal/logx"
	"github.com/kabir325/fogpool/internal/pool"
)

// GPU is one device reported by the GPU provider.
type GPU struct {
	Name     string
	MemoryMB int
}

// GPUProvider lists the local GPUs.
type GPUProvider interface {
	GetGPUs(ctx context.Context) ([]GPU, error)
}

// NvidiaGPUProvider queries nvidia-smi.
type NvidiaGPUProvider struct{}

func (NvidiaGPUProvider) GetGPUs(ctx context.Context) ([]GPU, error) {
	out, err := exec.CommandContext(ctx, "nvidia-smi", "--query-gpu=name,memory.total", "--format=csv,noheader,nounits").Output()
	if err != nil {
		return nil, fmt.Errorf("calling nvidia-smi: %w", err)
	}
	return parseNvidiaSMI(out)
}

func parseNvidiaSMI(out []byte) ([]GPU, error) {
	r := csv.NewReader(strings.NewReader(string(out)))
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing nvidia-smi output: %w", err)
	}
	var gpus []GPU
	for _, rec := range records {
		if len(rec) < 2 {
			continue
		}
		memMB, err := strconv.Atoi(strings.TrimSpace(rec[1]))
		if err != nil {
			continue
		}
		gpus = append(gpus, GPU{Name: strings.TrimSpace(rec[0]), MemoryMB: memMB})
	}
	return gpus, nil
}

// Probe reports the local hardware. GPU lookup failures leave HasGPU false.
func Probe(ctx context.Context, gpus GPUProvider) (pool.Capability, error) {
	var c pool.Capability
	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return c, fmt.Errorf("cpu count: %w", err)
	}
	c.CPUCores = cores
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return c, fmt.Errorf("memory: %w", err)
	}
	c.RAMGB = float64(vm.Total) / (1 << 30)
	c.OS = runtime.GOOS
	if hi, err := host.InfoWithContext(ctx); err == nil && hi.Platform != "" {
		c.OS = hi.OS + "/" + hi.Platform
	}
	if gpus == nil {
		return c, nil
	}
	list, err := gpus.GetGPUs(ctx)
	if err != nil {
		logx.Log.Debug().Err(err).Msg("no gpu detected")
		return c, nil
	}
	for _, g := range list {
		vram := float64(g.MemoryMB) / 1024
		if !c.HasGPU || vram > c.GPUVRAMGB {
			c.HasGPU = true
			c.GPUVRAMGB = vram
			c.GPUName = g.Name
		}
	}
	return c, nil
}

// applyOverrides replaces probed values with configured ones.
func applyOverrides(c pool.Capability, cfg config.ClientConfig) pool.Capability {
	if cfg.CPUCores > 0 {
		c.CPUCores = cfg.CPUCores
	}
	if cfg.RAMGB > 0 {
		c.RAMGB = cfg.RAMGB
	}
	if cfg.GPUVRAMGB > 0 {
		c.GPUVRAMGB = cfg.GPUVRAMGB
		c.HasGPU = true
	}
	if cfg.ForceGPU {
		c.HasGPU = true
	}
	if cfg.DisableGPU {
		c.HasGPU = false
		c.GPUVRAMGB = 0
		c.GPUName = ""
	}
	return c
}
