package gecho

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sys/unix"
)

// fakeNetpoll 记录每个描述符的订阅方向，wait不会被调用
type fakeNetpoll struct {
	interests map[int]Interest
	history   []string
	modifyErr error
}

func newFakeNetpoll() *fakeNetpoll {
	return &fakeNetpoll{interests: make(map[int]Interest)}
}

func (f *fakeNetpoll) register(fd int, interest Interest) error {
	if _, ok := f.interests[fd]; ok {
		return newOpError("epoll_ctl", unix.EEXIST)
	}
	f.interests[fd] = interest
	f.history = append(f.history, fmt.Sprintf("register %d %s", fd, interest))
	return nil
}

func (f *fakeNetpoll) modify(fd int, interest Interest) error {
	if f.modifyErr != nil {
		return f.modifyErr
	}
	if _, ok := f.interests[fd]; !ok {
		return newOpError("epoll_ctl", unix.ENOENT)
	}
	f.interests[fd] = interest
	f.history = append(f.history, fmt.Sprintf("modify %d %s", fd, interest))
	return nil
}

func (f *fakeNetpoll) wait(events []Event) (int, error) {
	return 0, errors.New("fake netpoll does not wait")
}

func (f *fakeNetpoll) wakeup() error { return nil }

func (f *fakeNetpoll) close() error { return nil }

func newFakeWorker(t *testing.T, opts ...Option) (*Worker, *fakeNetpoll, int) {
	t.Helper()
	listenFD, err := Listen(0, true)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(listenFD) })

	poll := newFakeNetpoll()
	w, err := newWorker(listenFD, poll, getOptions(opts...))
	require.NoError(t, err)

	// 监听socket的注册只检查一次，之后的history只包含连接
	require.Equal(t, []string{fmt.Sprintf("register %d readable", listenFD)}, poll.history)
	poll.history = nil
	return w, poll, listenFD
}

// connect 建立一个连接，连接停留在监听socket的accept队列里
func connect(t *testing.T, listenFD int) net.Conn {
	t.Helper()
	port, err := ListenPort(listenFD)
	require.NoError(t, err)
	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWorker_ListenerRegisteredReadable(t *testing.T) {
	_, poll, listenFD := newFakeWorker(t)
	assert.Equal(t, map[int]Interest{listenFD: AwaitingReadable}, poll.interests)
}

func TestWorker_AcceptWouldBlock(t *testing.T) {
	w, poll, listenFD := newFakeWorker(t)

	err := w.handleEvent(Event{FD: listenFD, Flags: FlagReadable})
	require.NoError(t, err)
	assert.Len(t, poll.interests, 1)
	assert.Equal(t, int64(0), w.ConnsNum())
}

func TestWorker_Accept(t *testing.T) {
	w, poll, listenFD := newFakeWorker(t)
	connect(t, listenFD)
	connect(t, listenFD)

	require.NoError(t, w.handleEvent(Event{FD: listenFD, Flags: FlagReadable}))
	require.Len(t, poll.interests, 3)
	assert.Equal(t, int64(2), w.ConnsNum())
	for fd, interest := range poll.interests {
		assert.Equal(t, AwaitingReadable, interest)
		if fd != listenFD {
			assert.True(t, isNonblock(t, fd))
			unix.Close(fd)
		}
	}
}

func TestWorker_AcceptBatch(t *testing.T) {
	w, poll, listenFD := newFakeWorker(t, WithAcceptBatch(1))
	connect(t, listenFD)
	connect(t, listenFD)

	require.NoError(t, w.handleEvent(Event{FD: listenFD, Flags: FlagReadable}))
	assert.Len(t, poll.interests, 2)
	require.NoError(t, w.handleEvent(Event{FD: listenFD, Flags: FlagReadable}))
	assert.Len(t, poll.interests, 3)
	assert.Equal(t, int64(2), w.ConnsNum())
}

func TestWorker_ListenerBroken(t *testing.T) {
	w, _, listenFD := newFakeWorker(t)

	err := w.handleEvent(Event{FD: listenFD, Flags: FlagReadable | FlagError})
	var opErr *OpError
	require.True(t, errors.As(err, &opErr))
	assert.ErrorIs(t, err, ErrListenerBroken)
}

func TestWorker_ReadableSwitchesToWritable(t *testing.T) {
	w, poll, _ := newFakeWorker(t)
	fd, peer := socketPair(t)
	require.NoError(t, poll.register(fd, AwaitingReadable))

	_, err := unix.Write(peer, []byte("abc"))
	require.NoError(t, err)

	require.NoError(t, w.handleEvent(Event{FD: fd, Flags: FlagReadable}))
	assert.Equal(t, AwaitingWritable, poll.interests[fd])

	// 可读事件不读取数据
	buf := make([]byte, 8)
	n, err := unix.Read(fd, buf)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf[:n]))
}

func TestWorker_WritableEchoes(t *testing.T) {
	w, poll, _ := newFakeWorker(t)
	fd, peer := socketPair(t)
	require.NoError(t, poll.register(fd, AwaitingReadable))
	w.connsNum = 1

	_, err := unix.Write(peer, []byte("hello"))
	require.NoError(t, err)

	require.NoError(t, w.handleEvent(Event{FD: fd, Flags: FlagReadable}))
	require.NoError(t, w.handleEvent(Event{FD: fd, Flags: FlagWritable}))
	assert.Equal(t, AwaitingReadable, poll.interests[fd])

	buf := make([]byte, 8)
	n, err := unix.Read(peer, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
	assert.Equal(t, int64(1), w.ConnsNum())

	// 数据已读完，再次可写只切换方向
	require.NoError(t, w.handleEvent(Event{FD: fd, Flags: FlagReadable}))
	require.NoError(t, w.handleEvent(Event{FD: fd, Flags: FlagWritable}))
	assert.Equal(t, int64(1), w.ConnsNum())

	assert.Equal(t, []string{
		fmt.Sprintf("register %d readable", fd),
		fmt.Sprintf("modify %d writable", fd),
		fmt.Sprintf("modify %d readable", fd),
		fmt.Sprintf("modify %d writable", fd),
		fmt.Sprintf("modify %d readable", fd),
	}, poll.history)
}

func TestWorker_ReadBufferLimit(t *testing.T) {
	w, poll, _ := newFakeWorker(t, WithReadBufferLen(4))
	fd, peer := socketPair(t)
	require.NoError(t, poll.register(fd, AwaitingReadable))

	_, err := unix.Write(peer, []byte("abcdefgh"))
	require.NoError(t, err)

	buf := make([]byte, 16)
	for _, want := range []string{"abcd", "efgh"} {
		require.NoError(t, w.handleEvent(Event{FD: fd, Flags: FlagReadable}))
		require.NoError(t, w.handleEvent(Event{FD: fd, Flags: FlagWritable}))
		n, err := unix.Read(peer, buf)
		require.NoError(t, err)
		assert.Equal(t, want, string(buf[:n]))
	}
}

func TestWorker_EOFCloses(t *testing.T) {
	w, poll, _ := newFakeWorker(t)
	fd, peer := socketPair(t)
	require.NoError(t, poll.register(fd, AwaitingReadable))
	w.connsNum = 1

	require.NoError(t, unix.Shutdown(peer, unix.SHUT_WR))
	require.NoError(t, w.handleEvent(Event{FD: fd, Flags: FlagReadable}))
	require.NoError(t, w.handleEvent(Event{FD: fd, Flags: FlagWritable}))
	assert.Equal(t, int64(0), w.ConnsNum())

	// 对端读到EOF，说明描述符已经关闭，并且没有写入任何数据
	buf := make([]byte, 8)
	n, err := unix.Read(peer, buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestWorker_ErrorFlagCloses(t *testing.T) {
	for _, flags := range []Flags{FlagError, FlagHangup, FlagReadable | FlagHangup, FlagWritable | FlagError} {
		w, poll, _ := newFakeWorker(t)
		fd, peer := socketPair(t)
		require.NoError(t, poll.register(fd, AwaitingReadable))
		w.connsNum = 1

		require.NoError(t, w.handleEvent(Event{FD: fd, Flags: flags}))
		assert.Equal(t, int64(0), w.ConnsNum())
		assert.Equal(t, []string{fmt.Sprintf("register %d readable", fd)}, poll.history)

		buf := make([]byte, 8)
		n, err := unix.Read(peer, buf)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	}
}

func TestWorker_ModifyErrorIsFatal(t *testing.T) {
	w, poll, _ := newFakeWorker(t)
	fd, _ := socketPair(t)
	require.NoError(t, poll.register(fd, AwaitingReadable))
	poll.modifyErr = newOpError("epoll_ctl", unix.EBADF)

	err := w.handleEvent(Event{FD: fd, Flags: FlagReadable})
	require.ErrorIs(t, err, unix.EBADF)
	err = w.handleEvent(Event{FD: fd, Flags: FlagWritable})
	require.ErrorIs(t, err, unix.EBADF)
}

func TestWorker_WaitErrorIsFatal(t *testing.T) {
	w, _, _ := newFakeWorker(t)
	require.Error(t, w.Run())
}

// startWorkers 在同一个监听socket上启动n个worker，每个worker有自己的多路复用器
func startWorkers(t *testing.T, n int, opts ...Option) (string, []*Worker) {
	t.Helper()
	listenFD, err := Listen(0, true)
	require.NoError(t, err)
	port, err := ListenPort(listenFD)
	require.NoError(t, err)

	var (
		workers []*Worker
		wg      sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		w, err := NewWorker(listenFD, opts...)
		require.NoError(t, err)
		w.SetID(i)
		workers = append(workers, w)

		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, w.Run())
		}()
	}

	t.Cleanup(func() {
		for _, w := range workers {
			assert.NoError(t, w.Stop())
		}
		wg.Wait()
		for _, w := range workers {
			assert.NoError(t, w.Close())
		}
		unix.Close(listenFD)
	})
	return "127.0.0.1:" + strconv.Itoa(port), workers
}

func connsNum(workers []*Worker) int64 {
	var sum int64
	for _, w := range workers {
		sum += w.ConnsNum()
	}
	return sum
}

func echo(t *testing.T, conn net.Conn, payload []byte) {
	t.Helper()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	_, err := conn.Write(payload)
	require.NoError(t, err)

	buf := make([]byte, len(payload))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf)
}

func TestWorker_EchoPing(t *testing.T) {
	addr, workers := startWorkers(t, 1)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	echo(t, conn, []byte("ping"))

	// 连接保持打开
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, err = conn.Read(make([]byte, 1))
	var netErr net.Error
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "unexpected error %v", err)
	assert.Equal(t, int64(1), connsNum(workers))

	echo(t, conn, []byte("pong"))
}

func TestWorker_ClientShutdown(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	old := log
	SetLogger(zap.New(core))
	t.Cleanup(func() { log = old })

	addr, workers := startWorkers(t, 1)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.(*net.TCPConn).CloseWrite())
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	data, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Empty(t, data)

	require.Eventually(t, func() bool {
		return connsNum(workers) == 0
	}, 5*time.Second, 10*time.Millisecond)

	// 对端关闭属于预期情况，不记录错误
	assert.Zero(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
	assert.NotZero(t, logs.FilterMessage("close").Len())
}

func TestWorker_ConcurrentClients(t *testing.T) {
	addr, workers := startWorkers(t, 4)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := net.Dial("tcp", addr)
			if !assert.NoError(t, err) {
				return
			}
			defer conn.Close()

			payload := []byte(fmt.Sprintf("%08d", i))
			conn.SetDeadline(time.Now().Add(10 * time.Second))
			_, err = conn.Write(payload)
			if !assert.NoError(t, err) {
				return
			}
			buf := make([]byte, len(payload))
			_, err = io.ReadFull(conn, buf)
			if assert.NoError(t, err) {
				assert.Equal(t, string(payload), string(buf))
			}
		}(i)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return connsNum(workers) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWorker_StopBeforeRun(t *testing.T) {
	listenFD, err := Listen(0, true)
	require.NoError(t, err)
	defer unix.Close(listenFD)

	w, err := NewWorker(listenFD)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	require.NoError(t, w.Run())
}
