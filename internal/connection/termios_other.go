//go:build !linux
// +build !linux

package connection

import "golang.org/x/sys/unix"

const ioctlTermiosGet = unix.TIOCGETA
