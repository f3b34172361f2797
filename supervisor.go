package gecho

import (
	"errors"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// worker进程通过环境变量拿到自己的参数
const (
	envWorkerID      = "GECHO_WORKER_ID"
	envListenFD      = "GECHO_LISTEN_FD"
	envReadBufferLen = "GECHO_READ_BUFFER_LEN"
	envMaxEvents     = "GECHO_MAX_EVENTS"
	envAcceptBatch   = "GECHO_ACCEPT_BATCH"
)

// inheritedListenFD ExtraFiles中的第一个文件在子进程中的描述符
const inheritedListenFD = 3

// Supervisor 创建共享的监听socket，启动固定数量的worker进程并等待它们全部退出
// worker退出后不会被重新拉起
type Supervisor struct {
	config   Config
	path     string   // worker进程的可执行文件
	args     []string // worker进程的参数
	listener *os.File // 共享的监听socket
	port     int      // 实际监听的端口
	cmds     []*exec.Cmd
	mu       sync.Mutex
}

// NewSupervisor 创建Supervisor，默认以当前可执行文件以及相同参数启动worker
func NewSupervisor(config Config) *Supervisor {
	path, err := os.Executable()
	if err != nil {
		path = os.Args[0]
	}
	return &Supervisor{
		config: config,
		path:   path,
		args:   os.Args[1:],
	}
}

// SetCommand 设置启动worker进程使用的命令
func (s *Supervisor) SetCommand(path string, args ...string) {
	s.path = path
	s.args = args
}

// Port 获取实际监听的端口
func (s *Supervisor) Port() int {
	return s.port
}

// Pids 获取所有worker进程的pid
func (s *Supervisor) Pids() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	pids := make([]int, 0, len(s.cmds))
	for _, cmd := range s.cmds {
		pids = append(pids, cmd.Process.Pid)
	}
	return pids
}

// Start 创建监听socket并启动所有worker进程
func (s *Supervisor) Start() error {
	fd, err := Listen(s.config.Port, true)
	if err != nil {
		return err
	}
	port, err := ListenPort(fd)
	if err != nil {
		unix.Close(fd)
		return err
	}
	s.port = port
	s.listener = os.NewFile(uintptr(fd), "gecho-listener")
	log.Infow("listen", "port", port, "fd", fd)

	for i := 0; i < s.config.Workers; i++ {
		cmd := exec.Command(s.path, s.args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Env = append(os.Environ(), s.workerEnv(i)...)
		cmd.ExtraFiles = []*os.File{s.listener}
		cmd.SysProcAttr = workerSysProcAttr()

		err = cmd.Start()
		if err != nil {
			// 已经启动的worker一并结束，不留下孤儿进程
			s.Signal(unix.SIGKILL)
			s.Wait()
			return newOpError("fork", err)
		}

		s.mu.Lock()
		s.cmds = append(s.cmds, cmd)
		s.mu.Unlock()
		log.Infow("worker start", "worker", i, "pid", cmd.Process.Pid)
	}
	return nil
}

func (s *Supervisor) workerEnv(id int) []string {
	return []string{
		envWorkerID + "=" + strconv.Itoa(id),
		envListenFD + "=" + strconv.Itoa(inheritedListenFD),
		envReadBufferLen + "=" + strconv.Itoa(s.config.ReadBufferLen),
		envMaxEvents + "=" + strconv.Itoa(s.config.MaxEvents),
		envAcceptBatch + "=" + strconv.Itoa(s.config.AcceptBatch),
	}
}

// Wait 阻塞直到所有worker进程退出，返回所有非正常退出的原因
func (s *Supervisor) Wait() error {
	s.mu.Lock()
	cmds := append([]*exec.Cmd(nil), s.cmds...)
	s.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	for _, cmd := range cmds {
		wg.Add(1)
		go func(cmd *exec.Cmd) {
			defer wg.Done()
			err := cmd.Wait()
			log.Infow("worker exit", "pid", cmd.Process.Pid, "state", cmd.ProcessState.String())
			if err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
		}(cmd)
	}
	wg.Wait()

	if s.listener != nil {
		s.listener.Close()
	}
	return errs
}

// Run 启动所有worker并等待它们退出
func (s *Supervisor) Run() error {
	err := s.Start()
	if err != nil {
		return err
	}
	return s.Wait()
}

// Signal 向所有仍在运行的worker进程发送信号
func (s *Supervisor) Signal(sig os.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs error
	for _, cmd := range s.cmds {
		err := cmd.Process.Signal(sig)
		if err != nil && !errors.Is(err, os.ErrProcessDone) {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
