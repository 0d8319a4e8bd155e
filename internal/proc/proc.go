// Package proc 执行外部协作进程（测试收集、单测执行），捕获输出与退出码。
package proc

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Command 描述一次子进程调用。
type Command struct {
	Name string
	Args []string
	Dir  string
	// Env: 追加的 KEY=VALUE，覆盖继承环境中的同名变量。
	Env []string
}

// String 返回便于日志展示的命令行。
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Output 为子进程的捕获结果。
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Diagnostics 合并 stdout/stderr，供失败时输出。
func (o Output) Diagnostics() string {
	var b strings.Builder
	if len(o.Stdout) > 0 {
		b.WriteString("stdout:\n")
		b.Write(o.Stdout)
		if !bytes.HasSuffix(o.Stdout, []byte("\n")) {
			b.WriteByte('\n')
		}
	}
	if len(o.Stderr) > 0 {
		b.WriteString("stderr:\n")
		b.Write(o.Stderr)
	}
	return b.String()
}

// Runner 执行命令；非零退出不视为 error，只体现在 ExitCode。
// 仅当进程无法启动或 ctx 取消/超时时返回 error。
type Runner func(ctx context.Context, cmd Command) (Output, error)

// Exec 为基于 os/exec 的默认 Runner。
func Exec(ctx context.Context, c Command) (Output, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	setGroup(cmd)
	cmd.Cancel = func() error { return killGroup(cmd) }
	// 孙进程持有输出管道时不无限等待
	cmd.WaitDelay = 5 * time.Second
	err := cmd.Run()
	out := Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: -1}
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}
	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	var xerr *exec.ExitError
	if err != nil && !errors.As(err, &xerr) {
		return out, err
	}
	return out, nil
}

// ProjectEnv 返回运行项目测试所需的环境：<root>/src 置于 PYTHONPATH 之首，
// 并让 setuptools 使用自带的 distutils。
func ProjectEnv(root string) []string {
	return []string{
		"PYTHONPATH=" + filepath.Join(root, "src") + string(os.PathListSeparator) + os.Getenv("PYTHONPATH"),
		"SETUPTOOLS_USE_DISTUTILS=local",
	}
}
