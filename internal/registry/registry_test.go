package registry

import (
	"testing"

	"github.com/momentics/conmgr/api"
	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestAddActiveAndMoveToComplete(t *testing.T) {
	r := New()
	con := api.NewConnection(4096, false)

	r.Lock()
	r.AddActive(con)
	active, listen, complete := r.Counts()
	r.Unlock()

	assert.Equal(t, 1, active)
	assert.Equal(t, 0, listen)
	assert.Equal(t, 0, complete)

	r.Lock()
	r.MoveToComplete(con)
	active, listen, complete = r.Counts()
	drained := r.DrainComplete()
	r.Unlock()

	assert.Equal(t, 0, active)
	assert.Equal(t, 0, listen)
	assert.Equal(t, 1, complete)
	assert.Equal(t, []*api.Connection{con}, drained)
}

func TestFindListenByAddressDistinguishesFamilies(t *testing.T) {
	r := New()

	inet := api.NewConnection(0, true)
	inet.Address = &unix.SockaddrInet4{Port: 8080, Addr: [4]byte{127, 0, 0, 1}}

	unixSock := api.NewConnection(0, true)
	unixSock.Address = &unix.SockaddrUnix{Name: "/tmp/conmgr.sock"}

	r.Lock()
	r.AddListen(inet)
	r.AddListen(unixSock)
	r.Unlock()

	r.Lock()
	found := r.FindListenByAddress(&unix.SockaddrInet4{Port: 8080, Addr: [4]byte{127, 0, 0, 1}})
	r.Unlock()
	assert.Same(t, inet, found)

	r.Lock()
	notFound := r.FindListenByAddress(&unix.SockaddrInet4{Port: 9090, Addr: [4]byte{127, 0, 0, 1}})
	r.Unlock()
	assert.Nil(t, notFound)

	r.Lock()
	foundUnix := r.FindListenByAddress(&unix.SockaddrUnix{Name: "/tmp/conmgr.sock"})
	r.Unlock()
	assert.Same(t, unixSock, foundUnix)
}

func TestShutdownWakesWaiters(t *testing.T) {
	r := New()
	done := make(chan struct{})

	go func() {
		r.Lock()
		for !r.IsShutdown() {
			r.Wait()
		}
		r.Unlock()
		close(done)
	}()

	r.Lock()
	r.SetShutdown()
	r.Unlock()

	<-done
}
