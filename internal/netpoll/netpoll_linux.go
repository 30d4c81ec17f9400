//go:build linux

package netpoll

import (
	"golang.org/x/sys/unix"
)

// epollDemux implements Demux on top of Linux epoll, mirroring
// original_source/src/server/epoller.cpp's add/mod/del/wait wrapper.
type epollDemux struct {
	fd     int
	events []unix.EpollEvent
}

// New creates a Demux able to track up to maxEvents ready events per Wait
// call.
func New(maxEvents int) (Demux, error) {
	if maxEvents <= 0 {
		maxEvents = 1024
	}
	fd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &epollDemux{fd: fd, events: make([]unix.EpollEvent, maxEvents)}, nil
}

func toEpollEvents(m Mask) uint32 {
	var e uint32
	if m&Readable != 0 {
		e |= unix.EPOLLIN
	}
	if m&Writable != 0 {
		e |= unix.EPOLLOUT
	}
	if m&PeerClosed != 0 {
		e |= unix.EPOLLRDHUP
	}
	if m&EdgeTriggered != 0 {
		e |= unix.EPOLLET
	}
	if m&OneShot != 0 {
		e |= unix.EPOLLONESHOT
	}
	return e
}

func fromEpollEvents(e uint32) Mask {
	var m Mask
	if e&unix.EPOLLIN != 0 {
		m |= Readable
	}
	if e&unix.EPOLLOUT != 0 {
		m |= Writable
	}
	if e&unix.EPOLLRDHUP != 0 {
		m |= PeerClosed
	}
	if e&unix.EPOLLERR != 0 {
		m |= Err
	}
	if e&unix.EPOLLHUP != 0 {
		m |= Hup
	}
	return m
}

func (d *epollDemux) Add(fd int, mask Mask) error {
	ev := unix.EpollEvent{Fd: int32(fd), Events: toEpollEvents(mask)}
	return unix.EpollCtl(d.fd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (d *epollDemux) Mod(fd int, mask Mask) error {
	ev := unix.EpollEvent{Fd: int32(fd), Events: toEpollEvents(mask)}
	return unix.EpollCtl(d.fd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (d *epollDemux) Del(fd int) error {
	// The correct del API takes no per-call event struct on modern kernels;
	// the source's unused event argument (spec.md §9(d)) isn't replicated.
	return unix.EpollCtl(d.fd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (d *epollDemux) Wait(timeoutMS int) (int, error) {
	return unix.EpollWait(d.fd, d.events, timeoutMS)
}

func (d *epollDemux) EventFD(i int) int { return int(d.events[i].Fd) }

func (d *epollDemux) EventMask(i int) Mask { return fromEpollEvents(d.events[i].Events) }

func (d *epollDemux) Close() error { return unix.Close(d.fd) }
