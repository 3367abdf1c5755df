// Package lock 提供跨进程的排他文件锁。
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrTimeout 表示在期限内没有拿到锁。
var ErrTimeout = errors.New("lock: timed out waiting for lock")

// ErrBusy 表示锁被其他持有者占用（非阻塞尝试时）。
var ErrBusy = errors.New("lock: lock is held by another process")

const pollInterval = 25 * time.Millisecond

// FileLock 是一把已持有的文件锁。
type FileLock struct {
	path     string
	file     *os.File
	mu       sync.Mutex
	released bool
}

// Path 返回锁文件路径。
func (l *FileLock) Path() string { return l.path }

// TryAcquire 非阻塞地获取锁，锁被占用时返回 ErrBusy。
func TryAcquire(path string) (*FileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("lock: ensure dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lock: open %s: %w", path, err)
	}
	ok, err := tryLock(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("lock: %s: %w", path, err)
	}
	if !ok {
		file.Close()
		return nil, ErrBusy
	}
	return &FileLock{path: path, file: file}, nil
}

// Acquire 轮询获取锁，直到成功、ctx 取消或超过 timeout。timeout<=0 表示只受 ctx 约束。
func Acquire(ctx context.Context, path string, timeout time.Duration) (*FileLock, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		l, err := TryAcquire(path)
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, ErrBusy) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrTimeout
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Release 释放锁，可重复调用。锁文件本身保留，删除它会让并发进程锁到不同的 inode 上。
func (l *FileLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return nil
	}
	l.released = true

	if err := unlock(l.file); err != nil {
		l.file.Close()
		return fmt.Errorf("lock: unlock %s: %w", l.path, err)
	}
	return l.file.Close()
}
