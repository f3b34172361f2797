package gecho

import (
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// IsWorkerProcess 当前进程是否是由Supervisor启动的worker
func IsWorkerProcess() bool {
	return os.Getenv(envWorkerID) != ""
}

// RunWorkerProcess worker进程入口，返回进程退出码
// SIGINT和SIGTERM让worker正常退出，致命错误返回ExitOSErr
func RunWorkerProcess() int {
	id := envInt(envWorkerID, 0)
	listenFD := envInt(envListenFD, inheritedListenFD)
	config := Config{
		ReadBufferLen: envInt(envReadBufferLen, defaultReadBufferLen),
		MaxEvents:     envInt(envMaxEvents, defaultMaxEvents),
		AcceptBatch:   envInt(envAcceptBatch, 0),
	}

	// exec传递描述符时可能把文件状态改回阻塞，这里重新设置一次
	err := unix.SetNonblock(listenFD, true)
	if err != nil {
		return workerFatal(id, newOpError("fcntl", err))
	}

	w, err := NewWorker(listenFD, config.Options()...)
	if err != nil {
		return workerFatal(id, err)
	}
	defer w.Close()
	w.SetID(id)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		sig := <-sigs
		log.Infow("worker signal", "worker", id, "signal", sig.String())
		if err := w.Stop(); err != nil {
			log.Errorw("worker stop", "worker", id, "error", err)
		}
	}()

	err = w.Run()
	if err != nil {
		return workerFatal(id, err)
	}
	return ExitOK
}

// workerFatal 记录失败的操作以及系统返回的原因
func workerFatal(id int, err error) int {
	var opErr *OpError
	if errors.As(err, &opErr) {
		log.Errorw("worker fatal", "worker", id, "pid", os.Getpid(), "op", opErr.Op, "error", opErr.Err)
	} else {
		log.Errorw("worker fatal", "worker", id, "pid", os.Getpid(), "error", err)
	}
	return ExitOSErr
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}
