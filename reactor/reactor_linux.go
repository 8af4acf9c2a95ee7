//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based poller. Registration is level-triggered so a loop
// that stops reading early is notified again on the next Wait.

package reactor

import (
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

type epollPoller struct {
	epfd    int
	wakeFd  int
	raw     []unix.EpollEvent
	pending atomic.Bool
}

// NewPoller creates an epoll instance with an eventfd waker registered.
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wfd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wfd, &ev); err != nil {
		_ = unix.Close(wfd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add waker: %w", err)
	}
	return &epollPoller{epfd: epfd, wakeFd: wfd}, nil
}

// toEpoll maps an interest set. Peer half-close is only watched together
// with read interest so a paused connection is not woken repeatedly.
func toEpoll(events FDEventType) uint32 {
	var e uint32
	if events&EventRead != 0 {
		e |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if events&EventWrite != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func (p *epollPoller) Add(fd int, events FDEventType) error {
	ev := unix.EpollEvent{Events: toEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	return nil
}

func (p *epollPoller) Mod(fd int, events FDEventType) error {
	ev := unix.EpollEvent{Events: toEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl mod: %w", err)
	}
	return nil
}

func (p *epollPoller) Del(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

func (p *epollPoller) Wait(events []Event, timeoutMs int) (int, error) {
	if cap(p.raw) < len(events) {
		p.raw = make([]unix.EpollEvent, len(events))
	}
	raw := p.raw[:len(events)]
	n, err := unix.EpollWait(p.epfd, raw, timeoutMs)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}
	out := 0
	for i := 0; i < n; i++ {
		fd := int(raw[i].Fd)
		if fd == p.wakeFd {
			p.drainWake()
			continue
		}
		var et FDEventType
		if raw[i].Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
			et |= EventRead
		}
		if raw[i].Events&unix.EPOLLOUT != 0 {
			et |= EventWrite
		}
		if raw[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			et |= EventError
		}
		events[out] = Event{Fd: fd, Events: et}
		out++
	}
	return out, nil
}

// Wake coalesces: only the first call between two Waits writes the eventfd.
func (p *epollPoller) Wake() error {
	if !p.pending.CompareAndSwap(false, true) {
		return nil
	}
	var one = [8]byte{1, 0, 0, 0, 0, 0, 0, 0}
	if _, err := unix.Write(p.wakeFd, one[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

func (p *epollPoller) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(p.wakeFd, buf[:])
	p.pending.Store(false)
}

func (p *epollPoller) Close() error {
	err1 := unix.Close(p.wakeFd)
	err2 := unix.Close(p.epfd)
	return errors.Join(err1, err2)
}
