package main

import (
	"os"
	"path/filepath"

	"github.com/alberliu/gecho"
)

func main() {
	if gecho.IsWorkerProcess() {
		os.Exit(gecho.RunWorkerProcess())
	}
	os.Exit(gecho.RunCLI(filepath.Base(os.Args[0]), os.Args[1:], os.Stderr))
}
