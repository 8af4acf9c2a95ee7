//go:build linux
// +build linux

package transport

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-http/reactor"
)

func acceptEventually(t *testing.T, l Listener) (int, string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		fd, remote, err := l.Accept()
		if err == nil {
			return fd, remote
		}
		require.True(t, reactor.IsWouldBlock(err), "unexpected accept error: %v", err)
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no connection accepted")
	return -1, ""
}

func TestTCPListenerEphemeralPort(t *testing.T) {
	l, err := NewTCP("127.0.0.1:0").Listen()
	require.NoError(t, err)
	defer l.Close()

	addr, ok := l.Addr().(*net.TCPAddr)
	require.True(t, ok)
	assert.NotZero(t, addr.Port)

	_, _, err = l.Accept()
	assert.True(t, reactor.IsWouldBlock(err))

	c, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer c.Close()

	fd, remote := acceptEventually(t, l)
	defer unix.Close(fd)
	assert.Equal(t, c.LocalAddr().String(), remote)

	nodelay, err := unix.GetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY)
	require.NoError(t, err)
	assert.Equal(t, 1, nodelay)

	require.NoError(t, l.Close())
	assert.NoError(t, l.Close())
}

func TestUnixListenerRemovesStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hioload.sock")

	first, err := NewUnix(path).Listen()
	require.NoError(t, err)
	// Simulate a crashed process: the descriptor goes away, the file stays.
	require.NoError(t, unix.Close(first.FD()))

	l, err := NewUnix(path).Listen()
	require.NoError(t, err)
	defer l.Close()

	c, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer c.Close()

	fd, _ := acceptEventually(t, l)
	defer unix.Close(fd)
	_, err = c.Write([]byte("x"))
	require.NoError(t, err)
}

func TestIsTemporary(t *testing.T) {
	assert.True(t, IsTemporary(unix.EMFILE))
	assert.True(t, IsTemporary(unix.ECONNABORTED))
	assert.False(t, IsTemporary(unix.EBADF))
}
