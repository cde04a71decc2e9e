package pipeline

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// DeviceKind names the compute device class backing a worker slot.
type DeviceKind string

const (
	DeviceCPU  DeviceKind = "cpu"
	DeviceCUDA DeviceKind = "cuda"
)

// DeviceContext is the execution slot a worker owns for its lifetime. Workers
// map to contexts one to one.
type DeviceContext struct {
	Kind    DeviceKind
	Ordinal int
}

func (d DeviceContext) String() string {
	return fmt.Sprintf("%s:%d", d.Kind, d.Ordinal)
}

// ProbeDevices builds n device contexts of the requested kind. A cuda request
// without a visible accelerator falls back to cpu with a warning instead of
// refusing to boot.
func ProbeDevices(requested string, n int, logger zerolog.Logger) []DeviceContext {
	kind := DeviceKind(requested)
	if kind == DeviceCUDA && !cudaVisible() {
		logger.Warn().Msg("pipeline: cuda requested but no accelerator visible, using cpu")
		kind = DeviceCPU
	}
	devices := make([]DeviceContext, n)
	for i := range devices {
		devices[i] = DeviceContext{Kind: kind, Ordinal: i}
	}
	return devices
}

// cudaVisible checks for an NVIDIA device node. The in-process backends are
// CPU-hosted either way; the probe keeps reported device info honest.
func cudaVisible() bool {
	if _, err := os.Stat("/dev/nvidia0"); err == nil {
		return true
	}
	if _, err := os.Stat("/proc/driver/nvidia/version"); err == nil {
		return true
	}
	return false
}
