package snapshot

import (
	"context"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// procHandle is the subset of *process.Process the collector reads.
type procHandle interface {
	NameWithContext(ctx context.Context) (string, error)
	TimesWithContext(ctx context.Context) (*cpu.TimesStat, error)
	CreateTimeWithContext(ctx context.Context) (int64, error)
	MemoryInfoWithContext(ctx context.Context) (*process.MemoryInfoStat, error)
	MemoryPercentWithContext(ctx context.Context) (float32, error)
	StatusWithContext(ctx context.Context) ([]string, error)
	UsernameWithContext(ctx context.Context) (string, error)
	CmdlineWithContext(ctx context.Context) (string, error)
}

type procRef struct {
	pid    int
	handle procHandle
}

type source interface {
	processes(ctx context.Context) ([]procRef, error)
	system(ctx context.Context) SystemMetrics
}

type gopsutilSource struct {
	logger *slog.Logger
}

func (s gopsutilSource) processes(ctx context.Context) ([]procRef, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	refs := make([]procRef, 0, len(procs))
	for _, p := range procs {
		refs = append(refs, procRef{pid: int(p.Pid), handle: p})
	}
	return refs, nil
}

func (s gopsutilSource) system(ctx context.Context) SystemMetrics {
	var m SystemMetrics

	if percent, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percent) > 0 {
		m.CPUPercent = percent[0]
	} else if err != nil {
		s.logger.Debug("cpu percent unavailable", "err", err)
	}

	if count, err := cpu.CountsWithContext(ctx, true); err == nil {
		m.CoreCount = count
	} else {
		s.logger.Debug("cpu count unavailable", "err", err)
	}

	if info, err := cpu.InfoWithContext(ctx); err == nil && len(info) > 0 {
		m.FrequencyMHz = info[0].Mhz
	} else if err != nil {
		s.logger.Debug("cpu info unavailable", "err", err)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		m.MemoryPercent = vm.UsedPercent
		m.MemoryTotalBytes = vm.Total
	} else {
		s.logger.Debug("virtual memory unavailable", "err", err)
	}

	if swap, err := mem.SwapMemoryWithContext(ctx); err == nil {
		m.SwapPercent = swap.UsedPercent
		m.SwapTotalBytes = swap.Total
	} else {
		s.logger.Debug("swap memory unavailable", "err", err)
	}

	if uptime, err := host.UptimeWithContext(ctx); err == nil {
		m.Uptime = time.Duration(uptime) * time.Second
	} else {
		s.logger.Debug("uptime unavailable", "err", err)
	}

	if avg, err := load.AvgWithContext(ctx); err == nil && avg != nil {
		m.Load1 = avg.Load1
		m.Load5 = avg.Load5
		m.Load15 = avg.Load15
	} else if err != nil {
		s.logger.Debug("load average unavailable", "err", err)
	}

	return m
}
