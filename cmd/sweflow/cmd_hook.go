package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	cfgpkg "sweflow/internal/config"
	"sweflow/internal/diag"
	"sweflow/internal/hook"
)

var hookRun = hook.Run

// hookFlags: 单次追踪执行入口的旗标。
type hookFlags struct {
	program     string
	traceOutput string
	baseDir     string
	python      string
	events      string
}

// newHookCmd: 在追踪会话中运行 --program，"--" 之后的参数原样透传。
// 日志写 stderr（由父进程作为诊断输出捕获），不在项目目录下落盘。
func newHookCmd(g *globals) *cobra.Command {
	f := &hookFlags{}
	cmd := &cobra.Command{
		Use:   "hook --program MODULE --trace-output FILE [--base-dir DIR] [-- ARGS...]",
		Short: "在调用追踪下运行单个程序并写出调用边",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer g.writeMetrics()
			level := g.logLevel
			if level == "" {
				level = "warn"
			}
			logger := diag.NewLoggerTo(g.corrID, level, g.stderr)
			defer logger.Sync()

			cfg := cfgpkg.Defaults()
			over, err := cfgpkg.EnvOverlay(os.Environ())
			if err != nil {
				return exitf(exitConfig, "环境变量解析失败: %v", err)
			}
			cfg = cfgpkg.Merge(cfg, over)
			cfg = cfgpkg.Merge(cfg, cfgpkg.Config{Python: f.python, Components: cfgpkg.Components{Events: f.events}})
			src, err := cfgpkg.EventSource(cfg)
			if err != nil {
				return exitf(exitConfig, "事件源装配失败: %v", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			res, err := hookRun(ctx, hook.Options{
				Program:     f.program,
				Args:        args,
				TraceOutput: f.traceOutput,
				BaseDir:     f.baseDir,
			}, src, logger)
			if err != nil {
				code := res.ExitCode
				if code == 0 {
					code = exitRuntime
				}
				return &exitError{code: code, err: err}
			}
			if res.ExitCode != 0 {
				return &exitError{code: res.ExitCode}
			}
			return nil
		},
	}
	fs := cmd.Flags()
	fs.SetInterspersed(false)
	fs.StringVar(&f.program, "program", "", "入口模块名（例如 pytest）")
	fs.StringVar(&f.traceOutput, "trace-output", "", "调用边 JSON 工件路径")
	fs.StringVar(&f.baseDir, "base-dir", "", "追踪作用域根目录；缺省为当前目录")
	fs.StringVar(&f.python, "python", "", "Python 解释器（python 事件源）")
	fs.StringVar(&f.events, "events", "", "事件源名称：python|replay")
	_ = cmd.MarkFlagRequired("program")
	_ = cmd.MarkFlagRequired("trace-output")
	return cmd
}
