// Package hook 在追踪会话中执行单个目标程序，并将调用边写出为 JSON 工件。
//
// 顺序：配置 Tracer → 安装会话 → 运行程序 → 停用 Tracer → 写出工件。
// 工件无论程序如何结束都会写出；返回程序自身的退出码。
package hook

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"sweflow/internal/diag"
	"sweflow/internal/tracer"
	"sweflow/pkg/contract"
	wfs "sweflow/plugins/writer/filesystem"
)

// Options 为单次执行的参数。
type Options struct {
	// Program: 入口模块名（必需）。
	Program string
	// Args: 原样透传给程序的参数。
	Args []string
	// TraceOutput: 工件路径（必需）。
	TraceOutput string
	// BaseDir: 追踪作用域根目录；空表示当前工作目录。
	BaseDir string
	// Dir/Env: 程序的工作目录与追加环境变量。
	Dir string
	Env []string
}

// Result 为单次执行的摘要。
type Result struct {
	ExitCode int
	Edges    int
	Dropped  int
}

// Run 在 src 之下执行程序。src 无法启动时仍写出（空）工件，并返回 error。
func Run(ctx context.Context, opts Options, src contract.EventSource, logger *diag.Logger) (Result, error) {
	res := Result{ExitCode: 1}
	if strings.TrimSpace(opts.Program) == "" || strings.TrimSpace(opts.TraceOutput) == "" {
		return res, fmt.Errorf("hook: program and trace output required: %w", contract.ErrInvalidInput)
	}
	tr, err := tracer.New(tracer.Options{BaseDir: opts.BaseDir})
	if err != nil {
		return res, fmt.Errorf("hook: base dir: %w", err)
	}

	timer := logger.Start("hook", "trace "+opts.Program)
	sess := tracer.NewSession(tr, src)
	code, runErr := sess.Run(ctx, contract.Program{Module: opts.Program, Args: opts.Args, Dir: opts.Dir, Env: opts.Env})
	res.ExitCode = code
	res.Edges = len(tr.Export())
	res.Dropped = tr.Dropped()

	// 写出使用独立 ctx：程序被取消时仍保留已收集的边
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := Save(wctx, tr, opts.TraceOutput); err != nil {
		logger.ErrorWith("hook", string(diag.Classify(err)), err.Error(), timer.Since(), "")
		diag.IncError("hook", string(diag.Classify(err)))
		if runErr == nil {
			return res, fmt.Errorf("hook: save trace: %w", err)
		}
	}
	if runErr != nil {
		res.ExitCode = 1
		logger.ErrorWithKV("hook", string(diag.Classify(runErr)), runErr.Error(), timer.Since(), "", nil)
		diag.IncOp("hook", "run", "error")
		return res, fmt.Errorf("hook: run %s: %w", opts.Program, runErr)
	}
	if res.Dropped > 0 {
		logger.Warn("hook", "edges dropped", "", map[string]string{"dropped": strconv.Itoa(res.Dropped)})
	}
	timer.Finish("exit "+strconv.Itoa(code), int64(res.Edges))
	diag.IncOp("hook", "run", "success")
	return res, nil
}

// Save 通过文件系统 Writer 原子写出 tr 的边表（JSON 数组，4 空格缩进）。
func Save(ctx context.Context, tr *tracer.Tracer, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	w, err := wfs.New(&wfs.Options{OutputDir: filepath.Dir(abs)})
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := tr.Save(&buf); err != nil {
		return err
	}
	return w.Write(ctx, contract.ArtifactID(filepath.Base(abs)), &buf)
}
