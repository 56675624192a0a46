package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flashbot/flashback/pkg/logger"
	"github.com/flashbot/flashback/pkg/shutdown"
)

// gracefulShutdownPeriod 清理回调的最长等待时间
const gracefulShutdownPeriod = 10 * time.Second

// runPollLoop 守护模式骨架：立即执行一轮 step，之后按间隔轮询，
// 收到 SIGINT/SIGTERM 先停循环，再在限时内跑完注册的清理回调。
// step 返回错误时循环终止，错误在清理后上抛。
func runPollLoop(pollSeconds float64, mgr *shutdown.Manager, step func() error) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errCh := make(chan error, 1)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		ticker := time.NewTicker(time.Duration(pollSeconds * float64(time.Second)))
		defer ticker.Stop()
		for {
			if err := step(); err != nil {
				errCh <- err
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	var stepErr error
	select {
	case stepErr = <-errCh:
	case <-sigChan:
		logger.Info("收到停止信号，正在关闭...")
		cancel()
		// 等正在跑的这一轮收尾，清理回调才能安全执行
		<-loopDone
	}

	if mgr != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), gracefulShutdownPeriod)
		defer shutdownCancel()
		mgr.Shutdown(shutdownCtx)
	}
	return stepErr
}
