package gpu

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func addCard(t *testing.T, root, card, pciID string, vram int64) {
	t.Helper()
	dev := filepath.Join(root, "sys/class/drm", card, "device")
	writeFile(t, filepath.Join(dev, "uevent"), "DRIVER=x\nPCI_ID="+pciID+"\n")
	if vram > 0 {
		writeFile(t, filepath.Join(dev, "mem_info_vram_total"), "8589934592\n")
		writeFile(t, filepath.Join(dev, "mem_info_vram_used"), "1073741824\n")
	}
}

func TestDetectGPU(t *testing.T) {
	t.Run("no devices", func(t *testing.T) {
		info := detectGPU(t.TempDir())
		assert.False(t, info.CUDA)
		assert.Empty(t, info.Device)
	})

	t.Run("nvidia driver without drm nodes", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, filepath.Join(root, "proc/driver/nvidia/version"), "NVRM version: 550.54\n")
		info := detectGPU(root)
		assert.True(t, info.CUDA)
		assert.Equal(t, "nvidia", info.Driver)
	})

	t.Run("integrated intel and discrete nvidia", func(t *testing.T) {
		root := t.TempDir()
		addCard(t, root, "card0", "8086:46A6", 0)
		addCard(t, root, "card1", "10DE:2684", 0)
		require.NoError(t, os.MkdirAll(filepath.Join(root, "sys/class/drm/card1-DP-1"), 0o755))

		info := detectGPU(root)
		assert.True(t, info.CUDA)
		assert.Equal(t, "NVIDIA GPU (2684)", info.Device)
	})

	t.Run("discrete amd is not cuda", func(t *testing.T) {
		root := t.TempDir()
		addCard(t, root, "card0", "1002:744C", 1)

		info := detectGPU(root)
		assert.False(t, info.CUDA)
		assert.Equal(t, "AMD GPU (744c)", info.Device)
		assert.Equal(t, int64(8589934592), info.VRAMTotal)
		assert.Equal(t, int64(8589934592-1073741824), info.VRAMFree)
	})

	t.Run("integrated only", func(t *testing.T) {
		root := t.TempDir()
		addCard(t, root, "card0", "8086:56A5", 0)
		info := detectGPU(root)
		assert.False(t, info.CUDA)
		assert.Equal(t, "Intel Arc A380", info.Device)
	})
}

func TestResolve(t *testing.T) {
	assert.Equal(t, "cuda", resolve(&GPUInfo{CUDA: true}, "linux", "amd64"))
	assert.Equal(t, "cpu", resolve(&GPUInfo{}, "linux", "amd64"))
	assert.Equal(t, "mps", resolve(&GPUInfo{}, "darwin", "arm64"))
	assert.Equal(t, "cpu", resolve(nil, "darwin", "amd64"))
}

func TestResolveDevice_ExplicitValuesPassThrough(t *testing.T) {
	for _, d := range []string{"cpu", "cuda", "mps"} {
		assert.Equal(t, d, ResolveDevice(d))
	}
}
