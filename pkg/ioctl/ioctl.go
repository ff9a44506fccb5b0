// Package ioctl composes Linux ioctl request codes the way the kernel's
// _IOR/_IOW/_IOWR macros do, so drivers can derive codes from their Go
// struct sizes instead of hardcoding per-arch hex tables.
package ioctl

import "bytes"

// https://github.com/torvalds/linux/blob/master/include/uapi/asm-generic/ioctl.h

const (
	write = 1
	read  = 2
)

func code(mode, typ, number byte, size uint16) uintptr {
	return uintptr(mode)<<30 | uintptr(size)<<16 | uintptr(typ)<<8 | uintptr(number)
}

// IOR is _IOR: the kernel writes size bytes back through the argument.
func IOR(typ, number byte, size uint16) uintptr {
	return code(read, typ, number, size)
}

// IOW is _IOW: the kernel reads size bytes from the argument.
func IOW(typ, number byte, size uint16) uintptr {
	return code(write, typ, number, size)
}

// IORW is _IOWR: the argument moves both ways.
func IORW(typ, number byte, size uint16) uintptr {
	return code(read|write, typ, number, size)
}

// Str cuts a NUL terminated driver string out of a fixed array.
func Str(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
