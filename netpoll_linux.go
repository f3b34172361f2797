package gecho

import (
	"encoding/binary"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

const (
	epollErrHup = unix.EPOLLERR | unix.EPOLLHUP
	epollRead   = unix.EPOLLIN | epollErrHup | unix.EPOLLET
	epollWrite  = unix.EPOLLOUT | epollErrHup | unix.EPOLLET
)

type epoll struct {
	epollFD int
	wakeFD  int               // eventfd，用于唤醒epoll_wait
	events  []unix.EpollEvent // 每次wait复用
}

func newNetpoll(maxEvents int) (netpoll, error) {
	epollFD, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, newOpError("epoll_create", err)
	}

	wakeFD, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epollFD)
		return nil, newOpError("eventfd", err)
	}

	err = unix.EpollCtl(epollFD, unix.EPOLL_CTL_ADD, wakeFD, &unix.EpollEvent{
		Events: epollRead,
		Fd:     int32(wakeFD),
	})
	if err != nil {
		unix.Close(wakeFD)
		unix.Close(epollFD)
		return nil, newOpError("epoll_ctl", err)
	}

	return &epoll{
		epollFD: epollFD,
		wakeFD:  wakeFD,
		events:  make([]unix.EpollEvent, maxEvents),
	}, nil
}

func epollMask(interest Interest) uint32 {
	if interest == AwaitingWritable {
		return epollWrite
	}
	return epollRead
}

func (n *epoll) register(fd int, interest Interest) error {
	err := unix.EpollCtl(n.epollFD, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: epollMask(interest),
		Fd:     int32(fd),
	})
	if err != nil {
		return newOpError("epoll_ctl", err)
	}
	return nil
}

func (n *epoll) modify(fd int, interest Interest) error {
	err := unix.EpollCtl(n.epollFD, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: epollMask(interest),
		Fd:     int32(fd),
	})
	if err != nil {
		return newOpError("epoll_ctl", err)
	}
	return nil
}

func (n *epoll) wait(events []Event) (int, error) {
	limit := len(events)
	if limit > len(n.events) {
		limit = len(n.events)
	}

	num, err := unix.EpollWait(n.epollFD, n.events[:limit], -1)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, newOpError("epoll_wait", err)
	}

	count := 0
	for i := 0; i < num; i++ {
		ev := n.events[i]
		if int(ev.Fd) == n.wakeFD {
			n.drainWakeup()
			continue
		}

		var flags Flags
		if ev.Events&unix.EPOLLIN != 0 {
			flags |= FlagReadable
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			flags |= FlagWritable
		}
		if ev.Events&unix.EPOLLERR != 0 {
			flags |= FlagError
		}
		if ev.Events&unix.EPOLLHUP != 0 {
			flags |= FlagHangup
		}
		events[count] = Event{FD: int(ev.Fd), Flags: flags}
		count++
	}
	return count, nil
}

func (n *epoll) wakeup() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(n.wakeFD, buf[:])
	// 计数器已经非零时写入也可能返回EAGAIN，此时wait同样会被唤醒
	if err != nil && !isWouldBlock(err) {
		return newOpError("eventfd_write", err)
	}
	return nil
}

func (n *epoll) drainWakeup() {
	var buf [8]byte
	unix.Read(n.wakeFD, buf[:])
}

func (n *epoll) close() error {
	return multierr.Combine(unix.Close(n.wakeFD), unix.Close(n.epollFD))
}
