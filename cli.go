package gecho

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// RunCLI 命令行入口，解析参数后启动Supervisor并等待所有worker退出，返回进程退出码
// 参数错误时在创建任何socket之前返回ExitUsage
func RunCLI(name string, args []string, stderr io.Writer) int {
	config, err := ParseArgs(name, args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		fmt.Fprintln(stderr, Usage(name))
		return ExitUsage
	}

	s := NewSupervisor(config)
	err = s.Start()
	if err != nil {
		log.Errorw("supervisor start", "error", err)
		return ExitOSErr
	}

	// 终止信号转发给所有worker，worker退出后Wait返回
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		for sig := range sigs {
			log.Infow("supervisor signal", "signal", sig.String())
			if err := s.Signal(sig); err != nil {
				log.Errorw("supervisor signal", "error", err)
			}
		}
	}()

	err = s.Wait()
	if err != nil {
		log.Infow("all workers exited", "error", err)
	}
	return ExitOK
}
