package diag

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// RotatingFile 将日志行写入指定目录，并按文件大小轮转。
// - 当前文件固定名：sweflow-current.log
// - 轮转：当 size+len(line) 超过 maxBytes 时，将当前文件重命名为 sweflow-YYYYMMDD-HHMMSS.log，重新创建 sweflow-current.log。
// - 保留：maxBackups>0 时只保留最近的若干个轮转文件。
// 实现 zapcore.WriteSyncer；每次 Write 视为一整行（zap 每条日志恰好一次 Write）。
type RotatingFile struct {
	dir        string
	maxBytes   int64
	maxBackups int
	mu       sync.Mutex
	f        *os.File
	curSize  int64
}

func NewRotatingFile(dir string, maxBytes int64) *RotatingFile {
	if maxBytes <= 0 {
		maxBytes = 10 * 1024 * 1024 // 10 MiB 默认
	}
	return &RotatingFile{dir: dir, maxBytes: maxBytes}
}

// SetMaxBackups 设置轮转文件保留个数；<=0 表示不清理。
func (w *RotatingFile) SetMaxBackups(n int) {
	w.mu.Lock()
	w.maxBackups = n
	w.mu.Unlock()
}

// Write 写入一行（调用方负责换行）。
func (w *RotatingFile) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureOpen(); err != nil {
		return 0, err
	}
	if w.curSize > 0 && w.curSize+int64(len(b)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := w.f.Write(b)
	w.curSize += int64(n)
	return n, err
}

// WriteLine 写入 b 并补换行。
func (w *RotatingFile) WriteLine(b []byte) error {
	_, err := w.Write(append(b, '\n'))
	return err
}

// Sync 将当前文件落盘。
func (w *RotatingFile) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	return w.f.Sync()
}

func (w *RotatingFile) ensureOpen() error {
	if w.f != nil {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	name := filepath.Join(w.dir, "sweflow-current.log")
	f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w.f = f
	if st, err := f.Stat(); err == nil {
		w.curSize = st.Size()
	} else {
		w.curSize = 0
	}
	return nil
}

func (w *RotatingFile) rotate() error {
	if w.f == nil {
		return w.ensureOpen()
	}
	oldPath := w.f.Name()
	_ = w.f.Close()
	w.f = nil
	// 高精度时间戳，避免同秒冲突覆盖
	ts := time.Now().UTC().Format("20060102-150405.000000000")
	rotated := filepath.Join(filepath.Dir(oldPath), fmt.Sprintf("sweflow-%s.log", ts))
	if err := os.Rename(oldPath, rotated); err != nil {
		return fmt.Errorf("rename rotated file: %w", err)
	}
	w.prune()
	return w.ensureOpen()
}

// prune 删除超出保留个数的最旧轮转文件；时间戳文件名按字典序即时间序。
func (w *RotatingFile) prune() {
	if w.maxBackups <= 0 {
		return
	}
	olds, err := filepath.Glob(filepath.Join(w.dir, "sweflow-*.log"))
	if err != nil {
		return
	}
	rotated := olds[:0]
	for _, p := range olds {
		if filepath.Base(p) != "sweflow-current.log" {
			rotated = append(rotated, p)
		}
	}
	if len(rotated) <= w.maxBackups {
		return
	}
	sort.Strings(rotated)
	for _, p := range rotated[:len(rotated)-w.maxBackups] {
		_ = os.Remove(p)
	}
}

// Close 关闭当前打开的文件句柄
func (w *RotatingFile) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f != nil {
		err := w.f.Close()
		w.f = nil
		return err
	}
	return nil
}
