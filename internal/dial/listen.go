// File: internal/dial/listen.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Listen socket setup for both TCP and local-domain addresses, grounded
// in conmgr_create_listen_socket: skip duplicates, bind with
// SO_REUSEADDR, listen with the configured backlog, adopt the fd as a
// listen-type connection.

package dial

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/momentics/conmgr/api"
	"github.com/momentics/conmgr/internal/conmgrerr"
	"github.com/momentics/conmgr/internal/registry"
)

// Deps bundles the collaborators every listen/connect call needs.
type Deps struct {
	Registry        *registry.Registry
	Poll            api.PollController
	Log             *zap.Logger
	Backlog         int
	BufferStartSize int
	// KeepAlive arms SO_KEEPALIVE on every qualifying adopted socket;
	// see connection.Options.KeepAlive.
	KeepAlive bool
}

// CreateListenSockets parses listenOn ("unix:/path" or "host:port"),
// resolves every address, and binds a listening socket for each one not
// already bound, registering each as a listen connection.
func CreateListenSockets(ctx context.Context, d Deps, parser HostPortParser, resolver AddressResolver, typ api.ConnType, listenOn string, events api.Events, arg any) ([]*api.Connection, error) {
	if path, ok := splitUnixPath(listenOn); ok {
		d.Registry.Lock()
		dup := d.Registry.FindListenByAddress(&unix.SockaddrUnix{Name: path}) != nil
		d.Registry.Unlock()
		if dup {
			d.Log.Info("ignoring duplicate listen request", zap.String("listen_on", listenOn))
			return nil, nil
		}

		con, err := createUnixListenSocket(d, typ, path, events, arg)
		if err != nil {
			return nil, err
		}
		return []*api.Connection{con}, nil
	}

	host, port, err := parser.ParseHostPort(listenOn)
	if err != nil {
		return nil, err
	}

	addrs, err := resolver.Resolve(ctx, host, port)
	if err != nil {
		return nil, err
	}

	var created []*api.Connection
	for _, addr := range addrs {
		d.Registry.Lock()
		dup := d.Registry.FindListenByAddress(addr) != nil
		d.Registry.Unlock()
		if dup {
			d.Log.Info("ignoring duplicate listen request", zap.String("listen_on", listenOn))
			continue
		}

		con, err := createInetListenSocket(d, typ, addr, events, arg)
		if err != nil {
			return created, err
		}
		created = append(created, con)
	}
	return created, nil
}

func createInetListenSocket(d Deps, typ api.ConnType, addr unix.Sockaddr, events api.Events, arg any) (*api.Connection, error) {
	family := unix.AF_INET
	if _, ok := addr.(*unix.SockaddrInet6); ok {
		family = unix.AF_INET6
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, conmgrerr.Wrap(err, "socket")
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, conmgrerr.Wrap(err, "setsockopt SO_REUSEADDR")
	}

	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		d.Log.Fatal("bind failed", zap.Error(err))
	}

	if err := unix.Listen(fd, backlogOrDefault(d.Backlog)); err != nil {
		unix.Close(fd)
		d.Log.Fatal("listen failed", zap.Error(err))
	}

	return ProcessFDListen(d, fd, typ, events, addr, arg)
}

func createUnixListenSocket(d Deps, typ api.ConnType, path string, events api.Events, arg any) (*api.Connection, error) {
	if path == "" {
		return nil, conmgrerr.Wrap(conmgrerr.ErrInvalidArgument, "empty unix socket path")
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, conmgrerr.Wrap(err, "socket")
	}

	if err := unix.Unlink(path); err != nil && err != unix.ENOENT {
		d.Log.Warn("unable to unlink existing socket path", zap.String("path", path), zap.Error(err))
	}

	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		d.Log.Fatal("bind unix socket failed", zap.String("path", path), zap.Error(err))
	}

	if err := unix.Listen(fd, backlogOrDefault(d.Backlog)); err != nil {
		unix.Close(fd)
		d.Log.Fatal("listen failed", zap.String("path", path), zap.Error(err))
	}

	return ProcessFDUnixListen(d, fd, typ, events, addr, path, arg)
}

func backlogOrDefault(backlog int) int {
	if backlog <= 0 {
		return 1024
	}
	return backlog
}
