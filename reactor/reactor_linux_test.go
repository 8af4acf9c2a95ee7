//go:build linux
// +build linux

package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func socketPair(t *testing.T) (int, int) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestPollerReadiness(t *testing.T) {
	p, err := NewPoller()
	require.NoError(t, err)
	defer p.Close()

	a, b := socketPair(t)
	require.NoError(t, p.Add(a, EventRead))

	events := make([]Event, 8)
	n, err := p.Wait(events, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = Write(b, []byte("ping"))
	require.NoError(t, err)
	n, err = p.Wait(events, 1000)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, a, events[0].Fd)
	assert.True(t, events[0].Events.Has(EventRead))

	// Level-triggered: unread data is reported again.
	n, err = p.Wait(events, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	buf := make([]byte, 16)
	got, err := Read(a, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:got]))
	_, err = Read(a, buf)
	assert.True(t, IsWouldBlock(err))

	require.NoError(t, p.Mod(a, EventRead|EventWrite))
	n, err = p.Wait(events, 1000)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.True(t, events[0].Events.Has(EventWrite))

	require.NoError(t, p.Del(a))
	n, err = p.Wait(events, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPollerWake(t *testing.T) {
	p, err := NewPoller()
	require.NoError(t, err)
	defer p.Close()

	done := make(chan int, 1)
	go func() {
		n, _ := p.Wait(make([]Event, 4), -1)
		done <- n
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.Wake())
	require.NoError(t, p.Wake())

	select {
	case n := <-done:
		assert.Zero(t, n)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait was not interrupted")
	}
}

func TestPeerCloseReported(t *testing.T) {
	p, err := NewPoller()
	require.NoError(t, err)
	defer p.Close()

	a, b := socketPair(t)
	require.NoError(t, p.Add(a, EventRead))
	require.NoError(t, ShutdownWrite(b))

	events := make([]Event, 4)
	n, err := p.Wait(events, 1000)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	got, err := Read(a, make([]byte, 4))
	assert.NoError(t, err)
	assert.Zero(t, got)
}
