//go:build linux

package rawusb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDescriptor(t *testing.T, bLength, bDescriptorType byte, vid, pid uint16) string {
	t.Helper()
	buf := make([]byte, 18)
	buf[0] = bLength
	buf[1] = bDescriptorType
	buf[8] = byte(vid)
	buf[9] = byte(vid >> 8)
	buf[10] = byte(pid)
	buf[11] = byte(pid >> 8)

	path := filepath.Join(t.TempDir(), "001")
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func TestReadDescriptorIDsParsesVendorAndProduct(t *testing.T) {
	path := writeDescriptor(t, 18, 1, 0x1d50, 0x6076)

	vid, pid, ok := readDescriptorIDs(path)
	require.True(t, ok)
	assert.Equal(t, uint16(0x1d50), vid)
	assert.Equal(t, uint16(0x6076), pid)
}

func TestReadDescriptorIDsRejectsWrongDescriptorType(t *testing.T) {
	path := writeDescriptor(t, 18, 2, 0x1d50, 0x6076)

	_, _, ok := readDescriptorIDs(path)
	assert.False(t, ok)
}

func TestReadDescriptorIDsRejectsMissingFile(t *testing.T) {
	_, _, ok := readDescriptorIDs(filepath.Join(t.TempDir(), "nonexistent"))
	assert.False(t, ok)
}
