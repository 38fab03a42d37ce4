package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher 基于 fsnotify 监听配置文件，变更后重新加载并回调。
// 冷却时间内的连续写入只触发一次，避免保存时的多次事件风暴。
type Watcher struct {
	path     string
	cooldown time.Duration
	fs       *fsnotify.Watcher

	mu         sync.Mutex
	lastReload time.Time

	stopChan chan struct{}
	doneChan chan struct{}
}

// NewWatcher 建立文件监听器。cooldown <= 0 时取 1 秒。
func NewWatcher(path string, cooldown time.Duration) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if cooldown <= 0 {
		cooldown = time.Second
	}
	return &Watcher{
		path:     path,
		cooldown: cooldown,
		fs:       fs,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// Start 开始监听；onUpdate 在新配置通过校验后收到最新值。
// 加载或校验失败的变更被跳过，旧配置继续生效。
func (w *Watcher) Start(ctx context.Context, onUpdate func(AppConfig)) error {
	if err := w.fs.Add(w.path); err != nil {
		return fmt.Errorf("watch config file: %w", err)
	}
	go w.loop(ctx, onUpdate)
	return nil
}

// Stop 停止监听并等待退出。
func (w *Watcher) Stop() error {
	select {
	case <-w.stopChan:
	default:
		close(w.stopChan)
	}
	select {
	case <-w.doneChan:
	case <-time.After(time.Second):
	}
	return w.fs.Close()
}

func (w *Watcher) loop(ctx context.Context, onUpdate func(AppConfig)) {
	defer close(w.doneChan)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.handleChange(onUpdate)
		case _, ok := <-w.fs.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) handleChange(onUpdate func(AppConfig)) {
	w.mu.Lock()
	if time.Since(w.lastReload) < w.cooldown {
		w.mu.Unlock()
		return
	}
	w.lastReload = time.Now()
	w.mu.Unlock()

	cfg, err := LoadWithEnvOverrides(w.path)
	if err != nil {
		return
	}
	if onUpdate != nil {
		onUpdate(cfg)
	}
}

// LastReloadTime 最近一次成功触发重载的时间。
func (w *Watcher) LastReloadTime() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastReload
}
