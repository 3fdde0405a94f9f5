package embedding

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/rs/zerolog/log"
)

// Device is the accelerator the embedding runtime should use.
type Device string

const (
	DeviceMPS  Device = "mps"
	DeviceCUDA Device = "cuda"
	DeviceCPU  Device = "cpu"
)

// Detector checks whether one accelerator is usable on this host.
type Detector struct {
	Device    Device
	Available func() bool
}

// DefaultDetectors lists the accelerators in priority order: Apple Metal, then NVIDIA CUDA.
func DefaultDetectors() []Detector {
	return []Detector{
		{Device: DeviceMPS, Available: metalAvailable},
		{Device: DeviceCUDA, Available: cudaAvailable},
	}
}

// DetectDevice returns the first available device, or DeviceCPU when none is.
func DetectDevice(detectors ...Detector) Device {
	for _, d := range detectors {
		if d.Available != nil && d.Available() {
			return d.Device
		}
	}
	return DeviceCPU
}

// ResolveDevice honours a forced device name and detects otherwise.
func ResolveDevice(forced string) (Device, error) {
	var device Device
	switch Device(forced) {
	case "":
		device = DetectDevice(DefaultDetectors()...)
	case DeviceMPS, DeviceCUDA, DeviceCPU:
		device = Device(forced)
	default:
		return "", fmt.Errorf("unknown device: %s", forced)
	}
	log.Info().Str("device", string(device)).Bool("forced", forced != "").Msg("Selected embedding device")
	return device, nil
}

func metalAvailable() bool {
	return runtime.GOOS == "darwin" && runtime.GOARCH == "arm64"
}

func cudaAvailable() bool {
	if _, err := os.Stat("/dev/nvidiactl"); err == nil {
		return true
	}
	_, err := exec.LookPath("nvidia-smi")
	return err == nil
}
