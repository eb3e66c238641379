package tinyfs

import (
	"os"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// deviceGeometry asks the kernel for the byte size and sector sizes of an open block device
func deviceGeometry(f *os.File) (*geometry, error) {
	var (
		g    geometry
		size uint64
		err  error
	)
	// BLKGETSIZE64 writes a u64, which IoctlGetInt would truncate on 32 bit systems
	if _, _, errno := syscall.Syscall(syscall.SYS_IOCTL, f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size))); errno != 0 {
		return nil, os.NewSyscallError("ioctl: BLKGETSIZE64", errno)
	}
	g.size = int64(size)
	if g.logicalSector, err = unix.IoctlGetInt(int(f.Fd()), unix.BLKSSZGET); err != nil {
		return nil, os.NewSyscallError("ioctl: BLKSSZGET", err)
	}
	if g.physicalSector, err = unix.IoctlGetInt(int(f.Fd()), unix.BLKPBSZGET); err != nil {
		return nil, os.NewSyscallError("ioctl: BLKPBSZGET", err)
	}
	return &g, nil
}
