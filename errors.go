package gecho

import (
	"errors"

	"golang.org/x/sys/unix"
)

// ErrUsage 命令行参数错误
var ErrUsage = errors.New("usage")

// 进程退出码，沿用sysexits.h
const (
	ExitOK    = 0
	ExitUsage = 64 // EX_USAGE
	ExitOSErr = 71 // EX_OSERR
)

// OpError 系统调用失败，记录失败的操作名以及系统返回的原因
type OpError struct {
	Op  string
	Err error
}

func newOpError(op string, err error) *OpError {
	return &OpError{Op: op, Err: err}
}

func (e *OpError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// isWouldBlock 非阻塞操作暂时无法完成
func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// isConnReset 对端异常断开，只影响当前连接
func isConnReset(err error) bool {
	return errors.Is(err, unix.ECONNRESET) || errors.Is(err, unix.EPIPE) ||
		errors.Is(err, unix.ETIMEDOUT) || errors.Is(err, unix.ENOTCONN)
}
