//go:build windows

package monitor

import (
	"os"
	"syscall"
	"unsafe"
)

var procGetCompressedFileSize = syscall.NewLazyDLL("kernel32.dll").NewProc("GetCompressedFileSizeW")

// invalidFileSize is returned by GetCompressedFileSizeW on failure
const invalidFileSize = 0xFFFFFFFF

// diskUsage returns the bytes allocated to a file, which differs from the
// logical size for sparse and compressed files
func diskUsage(path string, info os.FileInfo) (int64, error) {
	name, err := syscall.UTF16PtrFromString(path)
	if err != nil {
		return info.Size(), nil
	}

	var high uint32
	low, _, _ := procGetCompressedFileSize.Call(uintptr(unsafe.Pointer(name)), uintptr(unsafe.Pointer(&high)))
	if low == invalidFileSize {
		return info.Size(), nil
	}
	return int64(high)<<32 | int64(low), nil
}
