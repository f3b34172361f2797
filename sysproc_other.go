//go:build !linux
// +build !linux

package gecho

import "syscall"

// workerSysProcAttr worker和父进程在同一个进程组
func workerSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{}
}
