// Package gpu detects accelerators to resolve the "auto" inference device.
package gpu

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

const (
	vendorNVIDIA = "10de"
	vendorAMD    = "1002"
	vendorIntel  = "8086"
)

// GPUInfo holds detected GPU information
type GPUInfo struct {
	Device    string `json:"device"`     // e.g. "NVIDIA GPU (2684)"
	Vendor    string `json:"vendor"`     // PCI vendor id
	VRAMTotal int64  `json:"vram_total"` // bytes, 0 if unknown
	VRAMFree  int64  `json:"vram_free"`  // bytes, 0 if unknown
	Driver    string `json:"driver"`     // e.g. "nvidia", "amdgpu"
	CUDA      bool   `json:"cuda"`
}

var (
	cachedGPU  *GPUInfo
	detectOnce sync.Once
)

// DetectGPU probes sysfs and procfs once and caches the answer.
func DetectGPU() *GPUInfo {
	detectOnce.Do(func() {
		cachedGPU = detectGPU("/")
		slog.Info("gpu detected",
			"component", "gpu",
			"device", cachedGPU.Device,
			"driver", cachedGPU.Driver,
			"vram_total_mb", cachedGPU.VRAMTotal/1024/1024,
			"cuda", cachedGPU.CUDA)
	})
	return cachedGPU
}

// ResolveDevice maps the "auto" device setting to a concrete device. Any
// other value is returned unchanged.
func ResolveDevice(requested string) string {
	if requested != "" && requested != "auto" {
		return requested
	}
	return resolve(DetectGPU(), runtime.GOOS, runtime.GOARCH)
}

func resolve(info *GPUInfo, goos, goarch string) string {
	switch {
	case info != nil && info.CUDA:
		return "cuda"
	case goos == "darwin" && goarch == "arm64":
		return "mps"
	default:
		return "cpu"
	}
}

func detectGPU(root string) *GPUInfo {
	info := &GPUInfo{}

	// The NVIDIA kernel module exposes its version here even in containers
	// where the DRM nodes are not mounted.
	if _, err := os.Stat(filepath.Join(root, "proc/driver/nvidia/version")); err == nil {
		info.CUDA = true
		info.Vendor = vendorNVIDIA
		info.Driver = "nvidia"
		info.Device = "NVIDIA GPU"
	}

	cards, err := filepath.Glob(filepath.Join(root, "sys/class/drm/card[0-9]*"))
	if err != nil {
		return info
	}

	for _, card := range cards {
		// Skip connectors (cardN-XXX)
		if strings.Contains(filepath.Base(card), "-") {
			continue
		}
		deviceDir := filepath.Join(card, "device")

		vendor, deviceID := readPCIID(deviceDir)
		if vendor == "" {
			continue
		}

		vramBytes, _ := readSysfsInt(filepath.Join(deviceDir, "mem_info_vram_total"))
		discrete := vendor == vendorNVIDIA || vramBytes > 0
		if !discrete {
			// Integrated GPU, keep looking but remember it
			if info.Device == "" {
				info.Vendor = vendor
				info.Device = deviceName(vendor, deviceID)
			}
			continue
		}

		info.Vendor = vendor
		info.Device = deviceName(vendor, deviceID)
		info.VRAMTotal = vramBytes
		if vramUsed, err := readSysfsInt(filepath.Join(deviceDir, "mem_info_vram_used")); err == nil && vramUsed > 0 {
			info.VRAMFree = vramBytes - vramUsed
		}
		if driverLink, err := os.Readlink(filepath.Join(deviceDir, "driver")); err == nil {
			info.Driver = filepath.Base(driverLink)
		}
		if vendor == vendorNVIDIA {
			info.CUDA = true
		}
		break
	}

	return info
}

func readSysfsInt(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}

// readPCIID returns the lower-case vendor and device ids from uevent.
func readPCIID(deviceDir string) (vendor, device string) {
	data, err := os.ReadFile(filepath.Join(deviceDir, "uevent"))
	if err != nil {
		return "", ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "PCI_ID=") {
			parts := strings.Split(strings.TrimPrefix(line, "PCI_ID="), ":")
			if len(parts) == 2 {
				return strings.ToLower(parts[0]), strings.ToLower(parts[1])
			}
		}
	}
	return "", ""
}

func deviceName(vendor, deviceID string) string {
	switch vendor {
	case vendorNVIDIA:
		return "NVIDIA GPU (" + deviceID + ")"
	case vendorAMD:
		return "AMD GPU (" + deviceID + ")"
	case vendorIntel:
		switch deviceID {
		case "56a5":
			return "Intel Arc A380"
		case "5690":
			return "Intel Arc A770"
		case "56c0":
			return "Intel Arc B580"
		}
		return "Intel GPU (" + deviceID + ")"
	}
	return "GPU (" + vendor + ":" + deviceID + ")"
}
