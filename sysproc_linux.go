package gecho

import "syscall"

// workerSysProcAttr worker和父进程在同一个进程组，父进程退出时内核向worker发送SIGKILL
func workerSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Pdeathsig: syscall.SIGKILL}
}
