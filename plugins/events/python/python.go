// Package python 以子进程方式运行目标模块，并通过继承的管道（fd 3）
// 接收解释器 profile 钩子产生的 call/return 事件。
package python

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"sweflow/pkg/contract"
	"sweflow/plugins/events/eventlog"
)

//go:embed bootstrap.py
var bootstrap string

// Options: 最小必要选项。
type Options struct {
	// Python: 解释器路径或名称；空表示 python3。
	Python string `json:"python,omitempty"`
	// Record: 非空时将原始事件流复制到该文件（供 replay 事件源离线重放）。
	Record string `json:"record,omitempty"`
	// KillGrace: ctx 取消后等待子进程退出的宽限期；<=0 使用默认 5s。
	KillGrace time.Duration `json:"kill_grace,omitempty"`
}

// Source 为基于子进程的事件源。
type Source struct {
	python string
	record string
	grace  time.Duration

	// Stdout/Stderr: 目标程序输出去向；nil 表示继承当前进程。
	Stdout io.Writer
	Stderr io.Writer

	stats eventlog.Stats
}

// New 创建事件源。
func New(opts *Options) *Source {
	s := &Source{python: "python3", grace: 5 * time.Second}
	if opts != nil {
		if strings.TrimSpace(opts.Python) != "" {
			s.python = opts.Python
		}
		s.record = opts.Record
		if opts.KillGrace > 0 {
			s.grace = opts.KillGrace
		}
	}
	return s
}

var _ contract.EventSource = (*Source)(nil)

// Stats 返回最近一次 Run 的事件计数。
func (s *Source) Stats() eventlog.Stats { return s.stats }

// Run 启动解释器运行 p.Module，事件在当前 goroutine 内逐条交给 sink。
// 目标程序非零退出不视为错误；仅当解释器无法启动或事件流读取失败时返回 error。
func (s *Source) Run(ctx context.Context, p contract.Program, sink func(contract.Event)) (int, error) {
	if strings.TrimSpace(p.Module) == "" {
		return -1, fmt.Errorf("python events: empty module: %w", contract.ErrInvalidInput)
	}
	pr, pw, err := os.Pipe()
	if err != nil {
		return -1, err
	}
	defer pr.Close()

	args := append([]string{"-c", bootstrap, p.Module}, p.Args...)
	cmd := exec.CommandContext(ctx, s.python, args...)
	cmd.Dir = p.Dir
	cmd.Env = append(os.Environ(), p.Env...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = s.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = s.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	cmd.ExtraFiles = []*os.File{pw}
	cmd.WaitDelay = s.grace

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		return -1, fmt.Errorf("python events: start %s: %w", s.python, err)
	}
	// 父进程关闭写端，子进程退出后读端得到 EOF
	_ = pw.Close()
	// 孙进程可能继承写端；取消时强制关闭读端以解除阻塞
	stop := context.AfterFunc(ctx, func() { _ = pr.Close() })
	defer stop()

	var tee io.Writer
	if s.record != "" {
		f, err := os.Create(s.record)
		if err != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return -1, err
		}
		defer f.Close()
		tee = f
	}

	st, scanErr := eventlog.Scan(pr, tee, sink)
	s.stats = st
	werr := cmd.Wait()

	if ctx.Err() != nil {
		return exitCode(cmd, werr), ctx.Err()
	}
	if werr != nil {
		var xerr *exec.ExitError
		if !errors.As(werr, &xerr) {
			return -1, werr
		}
	}
	if scanErr != nil {
		return exitCode(cmd, werr), fmt.Errorf("python events: read: %w", scanErr)
	}
	return exitCode(cmd, werr), nil
}

func exitCode(cmd *exec.Cmd, werr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var xerr *exec.ExitError
	if errors.As(werr, &xerr) {
		return xerr.ExitCode()
	}
	return -1
}
