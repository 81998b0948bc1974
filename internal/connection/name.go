// File: internal/connection/name.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Name resolution gives every connection a human-readable identity for
// logs before any bytes have crossed it: socket peer address, resolved
// path, pipe/tty/device classification, or a synthetic "INVALID" when
// neither side has a live fd.

package connection

import (
	"fmt"
	"strconv"

	"golang.org/x/sys/unix"
)

// ResolveName computes the display name for a connection from its input
// and output fds, mirroring _set_connection_name: socket peer first, then
// path resolution, then file-type classification, joined with "->" when
// input and output differ.
func ResolveName(inputFD, outputFD int, isSocket bool) string {
	hasIn := inputFD >= 0
	hasOut := outputFD >= 0
	isSame := inputFD == outputFD

	if !hasIn && !hasOut {
		return "INVALID"
	}

	var inStr, outStr string
	if isSocket && hasOut {
		outStr = resolvePeer(outputFD)
	}
	if hasOut && outStr == "" {
		outStr = resolveFD(outputFD)
	}
	if hasIn {
		inStr = resolveFD(inputFD)
	}

	if inStr != "" && outStr != "" && inStr == outStr {
		isSame = true
		outStr = ""
	}

	switch {
	case isSame:
		return fmt.Sprintf("%s(fd:%d)", orUnknown(inStr), inputFD)
	case hasIn && hasOut:
		return fmt.Sprintf("%s(fd:%d)->%s(fd:%d)", orUnknown(inStr), inputFD, orUnknown(outStr), outputFD)
	case hasIn:
		return fmt.Sprintf("%s(fd:%d)->()", orUnknown(inStr), inputFD)
	default:
		return fmt.Sprintf("()->%s(fd:%d)", orUnknown(outStr), outputFD)
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// resolvePeer formats the remote address of a connected socket, empty if
// the fd has no peer (e.g. listening sockets).
func resolvePeer(fd int) string {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return ""
	}
	return formatSockaddr(sa)
}

// resolveFD classifies fd by file type: socket local address, resolved
// path, pipe, tty, character device, or block device.
func resolveFD(fd int) string {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return ""
	}

	if st.Mode&unix.S_IFMT == unix.S_IFSOCK {
		if sa, err := unix.Getsockname(fd); err == nil {
			if s := formatSockaddr(sa); s != "" {
				return s
			}
		}
	}

	if path := resolveLinkPath(fd); path != "" {
		return path
	}

	switch st.Mode & unix.S_IFMT {
	case unix.S_IFIFO:
		return "pipe"
	case unix.S_IFCHR:
		if isatty(fd) {
			if name := resolveTTYName(fd); name != "" {
				return name
			}
		}
		return "device:" + majorMinor(uint64(st.Rdev))
	case unix.S_IFBLK:
		return "block:" + majorMinor(uint64(st.Rdev))
	}

	return ""
}

// majorMinor splits a raw st_rdev into its "MAJOR.MINOR" form, matching
// major()/minor() in _resolve_fd's device/block classification.
func majorMinor(rdev uint64) string {
	return strconv.FormatUint(uint64(unix.Major(rdev)), 10) + "." + strconv.FormatUint(uint64(unix.Minor(rdev)), 10)
}

// resolveLinkPath reads the /proc/self/fd symlink for fd, the Linux
// equivalent of fd_resolve_path.
func resolveLinkPath(fd int) string {
	link := "/proc/self/fd/" + strconv.Itoa(fd)
	buf := make([]byte, unix.PathMax)
	n, err := unix.Readlink(link, buf)
	if err != nil || n <= 0 {
		return ""
	}
	return string(buf[:n])
}

// resolveTTYName reports the controlling terminal path for fd.
func resolveTTYName(fd int) string {
	return resolveLinkPath(fd)
}

// isatty reports whether fd refers to a terminal, probed via a
// termios ioctl rather than the C library isatty(3).
func isatty(fd int) bool {
	_, err := unix.IoctlGetTermios(fd, ioctlTermiosGet)
	return err == nil
}

func formatSockaddr(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ip := a.Addr
		return fmt.Sprintf("%d.%d.%d.%d:%d", ip[0], ip[1], ip[2], ip[3], a.Port)
	case *unix.SockaddrInet6:
		return fmt.Sprintf("[%x]:%d", a.Addr, a.Port)
	case *unix.SockaddrUnix:
		if a.Name == "" {
			return ""
		}
		return "unix:" + a.Name
	default:
		return ""
	}
}
