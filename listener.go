package gecho

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// Listen 创建监听在port上的TCP socket，返回文件描述符
// 描述符带有close-on-exec标记，需要传给worker进程时由exec.Cmd.ExtraFiles显式继承
func Listen(port int, nonBlocking bool, opts ...Option) (int, error) {
	options := getOptions(opts...)

	// 加ForkLock，防止并发的fork在设置CloseOnExec之前继承这个描述符
	syscall.ForkLock.RLock()
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err == nil {
		unix.CloseOnExec(fd)
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return -1, newOpError("socket", err)
	}

	err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	if err != nil {
		unix.Close(fd)
		return -1, newOpError("setsockopt", err)
	}

	if nonBlocking {
		// 设置为非阻塞状态
		err = unix.SetNonblock(fd, true)
		if err != nil {
			unix.Close(fd)
			return -1, newOpError("fcntl", err)
		}
	}

	err = unix.Bind(fd, &unix.SockaddrInet4{Port: port})
	if err != nil {
		unix.Close(fd)
		return -1, newOpError("bind", err)
	}

	err = unix.Listen(fd, listenBacklog(options.backlog))
	if err != nil {
		unix.Close(fd)
		return -1, newOpError("listen", err)
	}
	return fd, nil
}

// ListenPort 返回监听socket实际绑定的端口，port为0时由内核分配
func ListenPort(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, newOpError("getsockname", err)
	}
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return addr.Port, nil
	case *unix.SockaddrInet6:
		return addr.Port, nil
	}
	return 0, newOpError("getsockname", unix.EAFNOSUPPORT)
}

// listenBacklog 全连接队列大小，min(backlog, 内核somaxconn)
func listenBacklog(backlog int) int {
	n := maxListenerBacklog()
	if backlog < n {
		return backlog
	}
	return n
}

// maxListenerBacklog 读取内核somaxconn，读取失败时返回unix.SOMAXCONN
func maxListenerBacklog() int {
	fd, err := os.Open("/proc/sys/net/core/somaxconn")
	if err != nil {
		return unix.SOMAXCONN
	}
	defer fd.Close()

	rd := bufio.NewReader(fd)
	line, err := rd.ReadString('\n')
	if err != nil {
		return unix.SOMAXCONN
	}

	f := strings.Fields(line)
	if len(f) < 1 {
		return unix.SOMAXCONN
	}

	n, err := strconv.Atoi(f[0])
	if err != nil || n == 0 {
		return unix.SOMAXCONN
	}

	// Linux stores the backlog in a uint16.
	// Truncate number to avoid wrapping.
	if n > 1<<16-1 {
		n = 1<<16 - 1
	}
	return n
}
