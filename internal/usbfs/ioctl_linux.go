//go:build linux && !(mips || mipsle || mips64 || mips64le || ppc64 || ppc64le)

package usbfs

import (
	"runtime"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Generic Linux ioctl encoding:
//
//	bits 0-7:   command number (nr)
//	bits 8-15:  ioctl type (type)
//	bits 16-29: argument size (size)
//	bits 30-31: direction (dir)
const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return (dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift)
}

func ior(typ, nr, size uintptr) uintptr  { return ioc(iocRead, typ, nr, size) }
func iowr(typ, nr, size uintptr) uintptr { return ioc(iocRead|iocWrite, typ, nr, size) }
func ion(typ, nr uintptr) uintptr        { return ioc(iocNone, typ, nr, 0) }

// bulkTransfer mirrors struct usbdevfs_bulktransfer.
type bulkTransfer struct {
	endpoint uint32
	length   uint32
	timeout  uint32 // milliseconds
	data     uintptr
}

const usbdevfsType = 'U'

var (
	usbdevfsBulk             = iowr(usbdevfsType, 2, unsafe.Sizeof(bulkTransfer{}))
	usbdevfsSetConfiguration = ior(usbdevfsType, 5, unsafe.Sizeof(uint32(0)))
	usbdevfsClaimInterface   = ior(usbdevfsType, 15, unsafe.Sizeof(uint32(0)))
	usbdevfsReleaseInterface = ior(usbdevfsType, 16, unsafe.Sizeof(uint32(0)))
	usbdevfsReset            = ion(usbdevfsType, 20)
)

// ioctl issues req with a pointer argument. The uintptr conversion stays
// inside the Syscall call expression so arg remains valid for the call.
func ioctl(fd int, req uintptr, arg unsafe.Pointer) (int, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return int(r), errno
	}
	return int(r), nil
}

func ioctlUint32(fd int, req uintptr, v uint32) error {
	_, err := ioctl(fd, req, unsafe.Pointer(&v))
	return err
}

func setConfiguration(fd int, config uint32) error {
	return ioctlUint32(fd, usbdevfsSetConfiguration, config)
}

func claimInterface(fd int, iface uint8) error {
	return ioctlUint32(fd, usbdevfsClaimInterface, uint32(iface))
}

func releaseInterface(fd int, iface uint8) error {
	return ioctlUint32(fd, usbdevfsReleaseInterface, uint32(iface))
}

func resetDevice(fd int) error {
	_, err := ioctl(fd, usbdevfsReset, nil)
	return err
}

// bulk performs a synchronous bulk transfer on endpoint; the direction
// follows bit 7 of the address. data must be heap allocated: the kernel
// reads it through a raw address.
func bulk(fd int, endpoint uint8, data []byte, timeout time.Duration) (int, error) {
	bt := &bulkTransfer{
		endpoint: uint32(endpoint),
		length:   uint32(len(data)),
		timeout:  uint32(timeout / time.Millisecond),
	}
	if len(data) > 0 {
		bt.data = uintptr(unsafe.Pointer(&data[0]))
	}
	n, err := ioctl(fd, usbdevfsBulk, unsafe.Pointer(bt))
	runtime.KeepAlive(data)
	return n, err
}
