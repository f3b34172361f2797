package gecho

import (
	"os"
	"testing"
)

// TestMain Supervisor测试会以当前测试二进制启动worker进程
func TestMain(m *testing.M) {
	if IsWorkerProcess() {
		os.Exit(RunWorkerProcess())
	}
	os.Exit(m.Run())
}
