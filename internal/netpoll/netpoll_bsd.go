//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package netpoll

import (
	"golang.org/x/sys/unix"
)

// kqueueDemux implements Demux on top of BSD/Darwin kqueue. One-shot and
// edge-triggered semantics map onto EV_ONESHOT/EV_CLEAR flags on each
// kevent registration, the same mapping gaio's kqueue poller build uses.
type kqueueDemux struct {
	fd      int
	events  []unix.Kevent_t
	oneshot map[int]bool
	et      map[int]bool
}

// New creates a Demux able to track up to maxEvents ready events per Wait
// call.
func New(maxEvents int) (Demux, error) {
	if maxEvents <= 0 {
		maxEvents = 1024
	}
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &kqueueDemux{
		fd:      fd,
		events:  make([]unix.Kevent_t, maxEvents),
		oneshot: make(map[int]bool),
		et:      make(map[int]bool),
	}, nil
}

func (d *kqueueDemux) register(fd int, mask Mask, del bool) error {
	var flags uint16 = unix.EV_ADD | unix.EV_ENABLE
	if del {
		flags = unix.EV_DELETE
	} else {
		if mask&OneShot != 0 {
			flags |= unix.EV_ONESHOT
		}
		if mask&EdgeTriggered != 0 {
			flags |= unix.EV_CLEAR
		}
	}

	var changes []unix.Kevent_t
	if del || mask&Readable != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if del || mask&Writable != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(d.fd, changes, nil, nil)
	return err
}

func (d *kqueueDemux) Add(fd int, mask Mask) error {
	d.oneshot[fd] = mask&OneShot != 0
	d.et[fd] = mask&EdgeTriggered != 0
	return d.register(fd, mask, false)
}

func (d *kqueueDemux) Mod(fd int, mask Mask) error {
	d.oneshot[fd] = mask&OneShot != 0
	d.et[fd] = mask&EdgeTriggered != 0
	return d.register(fd, mask, false)
}

func (d *kqueueDemux) Del(fd int) error {
	delete(d.oneshot, fd)
	delete(d.et, fd)
	return d.register(fd, 0, true)
}

func (d *kqueueDemux) Wait(timeoutMS int) (int, error) {
	var ts *unix.Timespec
	if timeoutMS >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMS) * 1e6)
		ts = &t
	}
	return unix.Kevent(d.fd, nil, d.events, ts)
}

func (d *kqueueDemux) EventFD(i int) int { return int(d.events[i].Ident) }

func (d *kqueueDemux) EventMask(i int) Mask {
	ev := d.events[i]
	var m Mask
	switch ev.Filter {
	case unix.EVFILT_READ:
		m |= Readable
	case unix.EVFILT_WRITE:
		m |= Writable
	}
	if ev.Flags&unix.EV_EOF != 0 {
		m |= PeerClosed
	}
	if ev.Flags&unix.EV_ERROR != 0 {
		m |= Err
	}
	return m
}

func (d *kqueueDemux) Close() error { return unix.Close(d.fd) }
