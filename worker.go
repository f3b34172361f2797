package gecho

import (
	"errors"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// ErrListenerBroken 监听socket上报了错误或挂断
var ErrListenerBroken = errors.New("listening socket reported error or hangup")

// Worker 单个事件循环，独占一个多路复用器以及它accept的所有连接
// 监听socket在所有worker之间共享，只用来accept，从不修改
type Worker struct {
	options  *options
	id       int     // worker编号，只用于日志
	listenFD int     // 共享的监听socket
	netpoll  netpoll // 边缘触发多路复用器
	events   []Event // 每次wait复用的事件数组
	buffer   *Buffer // 每次wait复用的回显缓存区
	connsNum int64   // 当前打开的连接数
	stopped  int32   // 是否已停止
}

// NewWorker 创建worker，并把监听socket以可读方式注册到新的多路复用器上
func NewWorker(listenFD int, opts ...Option) (*Worker, error) {
	options := getOptions(opts...)

	netpoll, err := newNetpoll(options.maxEvents)
	if err != nil {
		return nil, err
	}

	w, err := newWorker(listenFD, netpoll, options)
	if err != nil {
		netpoll.close()
		return nil, err
	}
	return w, nil
}

func newWorker(listenFD int, netpoll netpoll, options *options) (*Worker, error) {
	err := netpoll.register(listenFD, AwaitingReadable)
	if err != nil {
		return nil, err
	}

	return &Worker{
		options:  options,
		listenFD: listenFD,
		netpoll:  netpoll,
		events:   make([]Event, options.maxEvents),
		buffer:   NewBuffer(make([]byte, options.readBufferLen)),
	}, nil
}

// SetID 设置worker编号
func (w *Worker) SetID(id int) {
	w.id = id
}

// ConnsNum 获取当前打开的连接数量
func (w *Worker) ConnsNum() int64 {
	return atomic.LoadInt64(&w.connsNum)
}

// Run 运行事件循环，直到Stop被调用或者出现致命错误
// 致命错误以*OpError返回，不做任何重试
func (w *Worker) Run() error {
	log.Infow("worker run", "worker", w.id, "listen_fd", w.listenFD)
	for atomic.LoadInt32(&w.stopped) == 0 {
		n, err := w.netpoll.wait(w.events)
		if err != nil {
			return err
		}

		for i := 0; i < n; i++ {
			err = w.handleEvent(w.events[i])
			if err != nil {
				return err
			}
		}
	}
	log.Infow("worker stop", "worker", w.id)
	return nil
}

// Stop 让Run在下一次wait返回后退出，可以在其他goroutine中调用
func (w *Worker) Stop() error {
	if !atomic.CompareAndSwapInt32(&w.stopped, 0, 1) {
		return nil
	}
	return w.netpoll.wakeup()
}

// Close 释放多路复用器，监听socket不属于worker，不会被关闭
func (w *Worker) Close() error {
	return w.netpoll.close()
}

// handleEvent 处理单个就绪事件
// 描述符只会订阅一个方向，所以观察到的方向就是它当前的状态
func (w *Worker) handleEvent(event Event) error {
	// 出错或者挂断，直接关闭
	if event.Flags&(FlagError|FlagHangup) != 0 {
		// 监听socket由所有worker共享且从不关闭，这里不能按普通连接关闭，
		// 只能作为致命错误退出当前worker，其他worker不受影响
		if event.FD == w.listenFD {
			return newOpError("accept", ErrListenerBroken)
		}
		w.closeConn(event.FD)
		return nil
	}

	if event.FD == w.listenFD {
		if event.Flags&FlagReadable != 0 {
			return w.accept()
		}
		return nil
	}

	if event.Flags&FlagReadable != 0 {
		// 可读时不读取数据，切换为等待可写
		return w.netpoll.modify(event.FD, AwaitingWritable)
	}

	if event.Flags&FlagWritable != 0 {
		return w.echo(event.FD)
	}
	return nil
}

// accept 接收连接请求，EAGAIN说明连接已被其他worker取走
func (w *Worker) accept() error {
	for i := 0; w.options.acceptBatch == 0 || i < w.options.acceptBatch; i++ {
		nfd, _, err := unix.Accept(w.listenFD)
		if err != nil {
			if isWouldBlock(err) {
				return nil
			}
			// 连接在accept之前被对端重置
			if err == unix.ECONNABORTED || err == unix.EINTR {
				continue
			}
			return newOpError("accept", err)
		}

		// 设置为非阻塞状态
		err = unix.SetNonblock(nfd, true)
		if err != nil {
			unix.Close(nfd)
			return newOpError("fcntl", err)
		}

		err = w.netpoll.register(nfd, AwaitingReadable)
		if err != nil {
			unix.Close(nfd)
			return err
		}
		atomic.AddInt64(&w.connsNum, 1)
		log.Debugw("connect", "worker", w.id, "fd", nfd)
	}
	return nil
}

// echo 可写时先切换回等待可读，再读取一次并原样写回
func (w *Worker) echo(fd int) error {
	err := w.netpoll.modify(fd, AwaitingReadable)
	if err != nil {
		return err
	}

	n, err := w.buffer.ReadFromFD(fd)
	if err != nil {
		// 数据已经被读完，等待下一次可读
		if isWouldBlock(err) || err == unix.EINTR {
			return nil
		}
		w.logConnError("read", fd, err)
		w.closeConn(fd)
		return nil
	}
	if n == 0 {
		w.closeConn(fd)
		return nil
	}

	// 只写一次，写不完的部分直接丢弃
	written, err := w.buffer.WriteToFD(fd)
	if err != nil {
		if isWouldBlock(err) {
			log.Debugw("write would block, reply dropped", "worker", w.id, "fd", fd, "len", n)
			return nil
		}
		w.logConnError("write", fd, err)
		w.closeConn(fd)
		return nil
	}
	if written < n {
		log.Debugw("short write", "worker", w.id, "fd", fd, "len", n, "written", written)
	}
	return nil
}

// closeConn 关闭连接，内核会在描述符关闭时把它从多路复用器中移除
func (w *Worker) closeConn(fd int) {
	err := unix.Close(fd)
	if err != nil {
		log.Debugw("close", "worker", w.id, "fd", fd, "error", err)
	}
	atomic.AddInt64(&w.connsNum, -1)
	log.Debugw("close", "worker", w.id, "fd", fd)
}

// logConnError 连接级别的错误只影响当前连接，对端重置不值得记录为错误
func (w *Worker) logConnError(op string, fd int, err error) {
	if isConnReset(err) {
		log.Debugw(op, "worker", w.id, "fd", fd, "error", err)
		return
	}
	log.Infow(op, "worker", w.id, "fd", fd, "error", err)
}
