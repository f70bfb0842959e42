package pool

import "math"

// Capability is the hardware report a client supplies at registration and
// may refresh on heartbeat.
type Capability struct {
	CPUCores  int     `json:"cpu_cores" yaml:"cpu_cores"`
	RAMGB     float64 `json:"ram_gb" yaml:"ram_gb"`
	HasGPU    bool    `json:"has_gpu" yaml:"has_gpu"`
	GPUVRAMGB float64 `json:"gpu_vram_gb" yaml:"gpu_vram_gb"`

	// Descriptive only; never scored.
	GPUName string `json:"gpu_name,omitempty" yaml:"gpu_name,omitempty"`
	OS      string `json:"os,omitempty" yaml:"os,omitempty"`
}

// Scorer maps a Capability to a performance score in [0,100].
//
// Each dimension is normalized with a saturating linear map against its
// ceiling and weighted. A client reporting a GPU with unknown VRAM receives
// IntegratedGPUFloor of the GPU weight.
type Scorer struct {
	CPUWeight float64
	RAMWeight float64
	GPUWeight float64

	MaxCPUCores float64
	MaxRAMGB    float64
	MaxVRAMGB   float64

	IntegratedGPUFloor float64
}

// DefaultScorer returns the standard 40/30/30 weighting saturating at
// 16 cores, 64 GB RAM and 24 GB VRAM.
func DefaultScorer() Scorer {
	return Scorer{
		CPUWeight:          40,
		RAMWeight:          30,
		GPUWeight:          30,
		MaxCPUCores:        16,
		MaxRAMGB:           64,
		MaxVRAMGB:          24,
		IntegratedGPUFloor: 0.2,
	}
}

// Score is pure and deterministic. It is monotonic non-decreasing in every
// capability dimension and always returns a value in [0,100], rounded to one
// decimal place.
func (s Scorer) Score(c Capability) float64 {
	cpu := norm(float64(c.CPUCores), s.MaxCPUCores)
	ram := norm(c.RAMGB, s.MaxRAMGB)
	gpu := 0.0
	if c.HasGPU {
		gpu = math.Max(s.IntegratedGPUFloor, norm(c.GPUVRAMGB, s.MaxVRAMGB))
	}
	total := nonNeg(s.CPUWeight)*cpu + nonNeg(s.RAMWeight)*ram + nonNeg(s.GPUWeight)*math.Min(gpu, 1)
	total = math.Round(total*10) / 10
	return clamp(total, 0, 100)
}

func norm(v, max float64) float64 {
	if max <= 0 || math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= max {
		return 1
	}
	return v / max
}

func nonNeg(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
