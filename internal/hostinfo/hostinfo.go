// Package hostinfo samples host load for the advisory status publish.
package hostinfo

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Load is an advisory host pressure reading. Values are percentages in
// [0, 100]; zero means the reading was unavailable.
type Load struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemPercent float64 `json:"mem_percent"`
}

// Sampler reads CPU and memory utilization. CPU percentages are computed
// against the interval since the previous Sample call, so the first
// reading after construction reports zero CPU.
type Sampler struct{}

func NewSampler() *Sampler {
	s := &Sampler{}
	// Prime the CPU counters so the next Sample has a reference interval.
	cpu.Percent(0, false)
	return s
}

// Sample returns the current host load. Failures degrade to zero values;
// the reading is advisory and never worth an error path upstream.
func (s *Sampler) Sample() Load {
	var l Load
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		l.CPUPercent = clampPercent(percents[0])
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		l.MemPercent = clampPercent(vm.UsedPercent)
	}
	return l
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
