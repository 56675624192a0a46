package lockfile

import (
	"os"
	"path/filepath"
	"time"
)

// Handle 一次加锁尝试的结果。
// Locked=false 表示等待超时后未取得锁，调用方应记录警告并继续执行，
// 由下游的内容去重兜底可能产生的重复。
type Handle struct {
	f      *os.File
	Locked bool
}

// AcquireOrProceed 尝试在 timeout 内取得 path 上的建议锁。
// 超时不报错，返回 Locked=false 的句柄；只有文件系统级错误才返回 error。
func AcquireOrProceed(path string, timeout time.Duration) (*Handle, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	for {
		ok, err := tryLock(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		if ok {
			return &Handle{f: f, Locked: true}, nil
		}
		if time.Now().After(deadline) {
			f.Close()
			return &Handle{Locked: false}, nil
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// Release 释放锁并关闭文件。未取得锁的句柄调用是空操作。
func (h *Handle) Release() {
	if h == nil || h.f == nil {
		return
	}
	unlock(h.f)
	h.f.Close()
	h.f = nil
}
