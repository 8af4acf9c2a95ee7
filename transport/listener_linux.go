//go:build linux
// +build linux

// File: transport/listener_linux.go
// Author: momentics <momentics@gmail.com>

package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"

	"golang.org/x/sys/unix"
)

type sockListener struct {
	fd       int
	addr     net.Addr
	unixPath string
	noDelay  bool
	once     sync.Once
	closeErr error
}

// Listen binds and listens.
func (t *TCP) Listen() (Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", t.Addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", t.Addr, err)
	}
	family := unix.AF_INET
	var sa unix.Sockaddr
	if ip4 := tcpAddr.IP.To4(); ip4 != nil || tcpAddr.IP == nil {
		s4 := &unix.SockaddrInet4{Port: tcpAddr.Port}
		if ip4 != nil {
			copy(s4.Addr[:], ip4)
		}
		sa = s4
	} else {
		family = unix.AF_INET6
		s6 := &unix.SockaddrInet6{Port: tcpAddr.Port}
		copy(s6.Addr[:], tcpAddr.IP.To16())
		sa = s6
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if t.ReusePort {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("setsockopt SO_REUSEPORT: %w", err)
		}
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", t.Addr, err)
	}
	if err := unix.Listen(fd, backlog(t.Backlog)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("listen %s: %w", t.Addr, err)
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("getsockname: %w", err)
	}
	return &sockListener{fd: fd, addr: toNetAddr(bound), noDelay: t.NoDelay}, nil
}

// Listen binds the socket path and listens.
func (u *Unix) Listen() (Listener, error) {
	if u.Path == "" {
		return nil, errors.New("unix listener: empty path")
	}
	if fi, err := os.Lstat(u.Path); err == nil && fi.Mode()&os.ModeSocket != 0 {
		_ = os.Remove(u.Path)
	}
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: u.Path}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", u.Path, err)
	}
	if err := unix.Listen(fd, backlog(u.Backlog)); err != nil {
		_ = unix.Close(fd)
		_ = os.Remove(u.Path)
		return nil, fmt.Errorf("listen %s: %w", u.Path, err)
	}
	return &sockListener{fd: fd, addr: &net.UnixAddr{Name: u.Path, Net: "unix"}, unixPath: u.Path}, nil
}

func (l *sockListener) FD() int        { return l.fd }
func (l *sockListener) Addr() net.Addr { return l.addr }

func (l *sockListener) Accept() (int, string, error) {
	for {
		nfd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return -1, "", err
		}
		if l.noDelay {
			_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		}
		remote := ""
		if a := toNetAddr(sa); a != nil {
			remote = a.String()
		} else if l.unixPath != "" {
			remote = "@" + l.unixPath
		}
		return nfd, remote, nil
	}
}

func (l *sockListener) Close() error {
	l.once.Do(func() {
		l.closeErr = unix.Close(l.fd)
		if l.unixPath != "" {
			_ = os.Remove(l.unixPath)
		}
	})
	return l.closeErr
}

func toNetAddr(sa unix.Sockaddr) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), a.Addr[:]...)), Port: a.Port}
	case *unix.SockaddrInet6:
		zone := ""
		if a.ZoneId != 0 {
			zone = strconv.Itoa(int(a.ZoneId))
		}
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), a.Addr[:]...)), Port: a.Port, Zone: zone}
	case *unix.SockaddrUnix:
		if a.Name == "" {
			return nil
		}
		return &net.UnixAddr{Name: a.Name, Net: "unix"}
	}
	return nil
}

// IsTemporary reports accept errors the loop should log and survive.
func IsTemporary(err error) bool {
	switch {
	case errors.Is(err, unix.EMFILE), errors.Is(err, unix.ENFILE),
		errors.Is(err, unix.ECONNABORTED), errors.Is(err, unix.ENOBUFS),
		errors.Is(err, unix.ENOMEM), errors.Is(err, unix.EPROTO),
		errors.Is(err, unix.EPERM), errors.Is(err, unix.EINTR):
		return true
	}
	return false
}
