// File: internal/dial/collaborators.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The manager treats host/port parsing and address resolution as
// external collaborators it only depends on through an interface, never
// owns: callers may substitute their own DNS or service-discovery layer.
// DefaultParser and DefaultResolver give it a standalone, stdlib-backed
// default so the manager works out of the box.

package dial

import (
	"context"
	"net"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/momentics/conmgr/internal/conmgrerr"
)

// HostPortParser splits a "host:port" string. Implementations may accept
// service names instead of numeric ports.
type HostPortParser interface {
	ParseHostPort(hostPort string) (host, port string, err error)
}

// AddressResolver resolves a host/port pair to every sockaddr a listen
// or connect attempt should try, in order.
type AddressResolver interface {
	Resolve(ctx context.Context, host, port string) ([]unix.Sockaddr, error)
}

// DefaultParser splits on the last colon, same as net.SplitHostPort.
type DefaultParser struct{}

func (DefaultParser) ParseHostPort(hostPort string) (string, string, error) {
	host, port, err := net.SplitHostPort(hostPort)
	if err != nil {
		return "", "", conmgrerr.Wrap(err, "parse host:port")
	}
	return host, port, nil
}

// DefaultResolver resolves addresses via the standard library's
// resolver, covering both IPv4 and IPv6 results.
type DefaultResolver struct{}

func (DefaultResolver) Resolve(ctx context.Context, host, port string) ([]unix.Sockaddr, error) {
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, conmgrerr.Wrap(err, "parse port")
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, conmgrerr.Wrap(err, "resolve host")
	}

	addrs := make([]unix.Sockaddr, 0, len(ips))
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			addrs = append(addrs, &unix.SockaddrInet4{Port: portNum, Addr: [4]byte(v4)})
			continue
		}
		if v6 := ip.To16(); v6 != nil {
			addrs = append(addrs, &unix.SockaddrInet6{Port: portNum, Addr: [16]byte(v6)})
		}
	}
	return addrs, nil
}

const unixPrefix = "unix:"

// splitUnixPath reports the path after "unix:" and whether listenOn used
// that prefix at all.
func splitUnixPath(listenOn string) (string, bool) {
	if !strings.HasPrefix(listenOn, unixPrefix) {
		return "", false
	}
	return strings.TrimPrefix(listenOn, unixPrefix), true
}
