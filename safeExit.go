package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

var SafeExitInst *SafeExit

func InitSafeExit() {
	SafeExitInst = new(SafeExit)
	go SafeExitInst.ListenSignal()
}

// SafeExit 中断时按注册顺序执行清理函数
// 任务取消在前、暂存目录清理在后，顺序即注册顺序
type SafeExit struct {
	funcs []func()
	mu    sync.Mutex
}

func (s *SafeExit) Register(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.funcs = append(s.funcs, f)
}

func (s *SafeExit) exit() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.funcs {
		f()
	}
	// 中断属于非正常结束，输出文件可能不完整
	os.Exit(1)
}

func (s *SafeExit) ListenSignal() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	for sig := range sigs {
		switch sig {
		case syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
			fmt.Printf("收到系统信号 %d, 正在停止任务, 请稍后", sig)
			s.exit()
		}
	}
}
