//go:build darwin || freebsd
// +build darwin freebsd

// mac环境不支持epoll，用kqueue替换，EV_CLEAR提供边缘触发语义

package gecho

import (
	"golang.org/x/sys/unix"
)

// wakeIdent EVFILT_USER事件的标识
const wakeIdent = 0

type kqueue struct {
	kqueueFD int
	events   []unix.Kevent_t // 每次wait复用
}

func newNetpoll(maxEvents int) (netpoll, error) {
	kqueueFD, err := unix.Kqueue()
	if err != nil {
		return nil, newOpError("kqueue", err)
	}
	unix.CloseOnExec(kqueueFD)

	var change unix.Kevent_t
	unix.SetKevent(&change, wakeIdent, unix.EVFILT_USER, unix.EV_ADD|unix.EV_CLEAR)
	_, err = unix.Kevent(kqueueFD, []unix.Kevent_t{change}, nil, nil)
	if err != nil {
		unix.Close(kqueueFD)
		return nil, newOpError("kevent", err)
	}

	return &kqueue{
		kqueueFD: kqueueFD,
		events:   make([]unix.Kevent_t, maxEvents),
	}, nil
}

func kqueueFilter(interest Interest) int {
	if interest == AwaitingWritable {
		return unix.EVFILT_WRITE
	}
	return unix.EVFILT_READ
}

func (n *kqueue) register(fd int, interest Interest) error {
	var change unix.Kevent_t
	unix.SetKevent(&change, fd, kqueueFilter(interest), unix.EV_ADD|unix.EV_CLEAR)
	_, err := unix.Kevent(n.kqueueFD, []unix.Kevent_t{change}, nil, nil)
	if err != nil {
		return newOpError("kevent", err)
	}
	return nil
}

// modify kqueue按filter区分方向，删除旧filter与添加新filter放在同一次kevent调用里
func (n *kqueue) modify(fd int, interest Interest) error {
	old := AwaitingWritable
	if interest == AwaitingWritable {
		old = AwaitingReadable
	}

	changes := make([]unix.Kevent_t, 2)
	unix.SetKevent(&changes[0], fd, kqueueFilter(old), unix.EV_DELETE)
	unix.SetKevent(&changes[1], fd, kqueueFilter(interest), unix.EV_ADD|unix.EV_CLEAR)
	_, err := unix.Kevent(n.kqueueFD, changes, nil, nil)
	if err != nil {
		return newOpError("kevent", err)
	}
	return nil
}

func (n *kqueue) wait(events []Event) (int, error) {
	limit := len(events)
	if limit > len(n.events) {
		limit = len(n.events)
	}

	num, err := unix.Kevent(n.kqueueFD, nil, n.events[:limit], nil)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, newOpError("kevent", err)
	}

	count := 0
	for i := 0; i < num; i++ {
		ev := n.events[i]
		if ev.Filter == unix.EVFILT_USER {
			continue
		}

		var flags Flags
		switch ev.Filter {
		case unix.EVFILT_READ:
			flags |= FlagReadable
		case unix.EVFILT_WRITE:
			flags |= FlagWritable
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			flags |= FlagError
		}
		// 仅EV_EOF代表对端关闭写端，剩余数据仍然可读，fflags非零代表socket出错
		if ev.Flags&unix.EV_EOF != 0 && ev.Fflags != 0 {
			flags |= FlagError
		}
		events[count] = Event{FD: int(ev.Ident), Flags: flags}
		count++
	}
	return count, nil
}

func (n *kqueue) wakeup() error {
	var change unix.Kevent_t
	unix.SetKevent(&change, wakeIdent, unix.EVFILT_USER, 0)
	change.Fflags = unix.NOTE_TRIGGER
	_, err := unix.Kevent(n.kqueueFD, []unix.Kevent_t{change}, nil, nil)
	if err != nil {
		return newOpError("kevent", err)
	}
	return nil
}

func (n *kqueue) close() error {
	return unix.Close(n.kqueueFD)
}
