package monitor

import (
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
)

// CPU samples processor utilization.
type CPU struct{}

func NewCPU() *CPU { return &CPU{} }

func (c *CPU) Name() string { return "cpu" }

func (c *CPU) Sample() (map[string]float64, error) {
	metrics := map[string]float64{}

	// Overall utilization since the previous call.
	percent, err := cpu.Percent(0, false)
	if err != nil {
		return nil, err
	}
	if len(percent) > 0 {
		metrics["cpu"] = percent[0]
	}

	if count, err := cpu.Counts(true); err == nil {
		metrics["cpu.logical_count"] = float64(count)
	}

	return metrics, nil
}

// Memory samples virtual memory usage.
type Memory struct{}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Sample() (map[string]float64, error) {
	virtual, err := mem.VirtualMemory()
	if err != nil {
		return nil, err
	}

	return map[string]float64{
		"memory_percent":   virtual.UsedPercent,
		"memory.available": float64(virtual.Available),
		"memory.used":      float64(virtual.Used),
		"memory.total":     float64(virtual.Total),
	}, nil
}

// Disk samples usage of one filesystem path plus global I/O counters.
type Disk struct {
	path string
}

func NewDisk(path string) *Disk { return &Disk{path: path} }

func (d *Disk) Name() string { return "disk" }

func (d *Disk) Sample() (map[string]float64, error) {
	usage, err := disk.Usage(d.path)
	if err != nil {
		return nil, err
	}

	metrics := map[string]float64{
		"disk." + d.path + ".usagePercent": usage.UsedPercent,
		"disk." + d.path + ".usageGB":      float64(usage.Used) / 1024 / 1024 / 1024,
	}

	if counters, err := disk.IOCounters(); err == nil {
		var read, write uint64
		for _, counter := range counters {
			read += counter.ReadBytes
			write += counter.WriteBytes
		}
		metrics["disk.in"] = float64(read) / 1024 / 1024
		metrics["disk.out"] = float64(write) / 1024 / 1024
	}

	return metrics, nil
}

// Network samples global network I/O counters.
type Network struct{}

func NewNetwork() *Network { return &Network{} }

func (n *Network) Name() string { return "network" }

func (n *Network) Sample() (map[string]float64, error) {
	counters, err := net.IOCounters(false)
	if err != nil {
		return nil, err
	}
	if len(counters) == 0 {
		return nil, nil
	}

	return map[string]float64{
		"network.sent": float64(counters[0].BytesSent),
		"network.recv": float64(counters[0].BytesRecv),
	}, nil
}
