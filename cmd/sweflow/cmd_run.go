package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	cfgpkg "sweflow/internal/config"
	"sweflow/internal/diag"
	"sweflow/internal/pipeline"
	"sweflow/pkg/contract"
)

var pipelineRun = pipeline.Run

// discover 仅运行发现阶段（collect 子命令）。
var discover = func(ctx context.Context, d contract.Discoverer, req contract.DiscoverRequest) ([]contract.TestID, error) {
	return d.Discover(ctx, req)
}

// runFlags: run/collect 共享的覆盖旗标；仅显式设置的旗标参与合并。
type runFlags struct {
	projectRoot string
	outputDir   string
	maxWorkers  string
	maxTests    string
	random      string
	randomSeed  int64
	timeout     int
	tempDir     string
	python      string
}

func (f *runFlags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.projectRoot, "project-root", "", "Python 项目根目录")
	fs.StringVar(&f.outputDir, "output-dir", "", "输出目录（traces.json 与 tests-info.json）")
	fs.StringVar(&f.maxWorkers, "max-workers", "", "并发度；none/null 表示 CPU 核数")
	fs.StringVar(&f.maxTests, "max-tests", "", "最多追踪的测试数；none/null 表示不截断")
	fs.StringVar(&f.random, "random", "", "是否洗牌（仅 true/True/TRUE 为真）")
	fs.Int64Var(&f.randomSeed, "random-seed", cfgpkg.DefaultSeed, "洗牌种子")
	fs.IntVar(&f.timeout, "timeout", 0, "单测超时（秒）")
	fs.StringVar(&f.tempDir, "temp-dir", "", "临时工作区父目录")
	fs.StringVar(&f.python, "python", "", "Python 解释器")
}

// overlay 将显式设置的旗标转换为 Config 覆盖。
func (f *runFlags) overlay(cmd *cobra.Command) (cfgpkg.Config, error) {
	var over cfgpkg.Config
	fs := cmd.Flags()
	over.ProjectRoot = f.projectRoot
	over.OutputDir = f.outputDir
	over.TempDir = f.tempDir
	over.Python = f.python
	if fs.Changed("timeout") {
		if f.timeout <= 0 {
			return over, errors.New("--timeout: must be > 0")
		}
		over.TimeoutSeconds = f.timeout
	}
	if fs.Changed("max-workers") {
		v, err := cfgpkg.IntOrNone(f.maxWorkers)
		if err != nil {
			return over, errors.New("--max-workers: " + err.Error())
		}
		if v == nil {
			// 显式 none：回到 CPU 核数
			n := cfgpkg.Workers(cfgpkg.Config{})
			v = &n
		}
		over.MaxWorkers = v
	}
	if fs.Changed("max-tests") {
		v, err := cfgpkg.IntOrNone(f.maxTests)
		if err != nil {
			return over, errors.New("--max-tests: " + err.Error())
		}
		if v == nil {
			zero := 0
			v = &zero
		}
		over.MaxTests = v
	}
	if fs.Changed("random") {
		b := cfgpkg.TrueOrFalse(f.random)
		over.Random = &b
	}
	if fs.Changed("random-seed") {
		s := f.randomSeed
		over.RandomSeed = &s
	}
	return over, nil
}

// loadConfig 按优先级合并：默认 < 配置文件 < ENV < CLI。
func loadConfig(cmd *cobra.Command, g *globals, f *runFlags) (cfgpkg.Config, error) {
	cfg := cfgpkg.Defaults()
	path := g.config
	if path == "" {
		path = os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")
	}
	if path == "" {
		for _, name := range []string{cfgpkg.TemplateName, "sweflow.yml", "sweflow.json"} {
			if _, err := os.Stat(name); err == nil {
				path = name
				break
			}
		}
	}
	var (
		base cfgpkg.Config
		err  error
	)
	switch raw := os.Getenv(cfgpkg.EnvPrefix + "CONFIG_JSON"); {
	case raw != "":
		base, err = cfgpkg.LoadJSON("", []byte(raw))
	case path != "":
		base, err = cfgpkg.LoadFile(path)
	}
	if err != nil {
		return cfg, err
	}
	cfg = cfgpkg.Merge(cfg, base)

	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return cfg, err
	}
	cfg = cfgpkg.Merge(cfg, overEnv)

	overCLI, err := f.overlay(cmd)
	if err != nil {
		return cfg, err
	}
	overCLI.Logging.Level = g.logLevel
	return cfgpkg.Merge(cfg, overCLI), nil
}

// prepare 完成配置加载、校验、logger 构造与装配；任何失败均为配置错误。
func prepare(cmd *cobra.Command, g *globals, f *runFlags) (cfgpkg.Config, pipeline.Components, pipeline.Settings, *diag.Logger, error) {
	start := time.Now()
	logger := diag.NewLogger(g.corrID, "info")
	fail := func(msg string, err error) (cfgpkg.Config, pipeline.Components, pipeline.Settings, *diag.Logger, error) {
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		_ = logger.Sync()
		return cfgpkg.Config{}, pipeline.Components{}, pipeline.Settings{}, nil, exitf(exitConfig, "%s: %v", msg, err)
	}
	cfg, err := loadConfig(cmd, g, f)
	if err != nil {
		return fail("配置解析失败", err)
	}
	if err := cfgpkg.Validate(cfg); err != nil {
		dumpConfig(g.stderr, cfg)
		return fail("配置校验失败", err)
	}
	if err := preflightCheckOutputDir(cfg.OutputDir); err != nil {
		return fail("输出目录不可写或无法创建", err)
	}
	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		return fail("装配失败", err)
	}
	// 使用最终配置中的日志级别重建 logger
	_ = logger.Sync()
	logger = diag.NewLogger(g.corrID, cfg.Logging.Level)
	logger.DebugStart("config", "effective", "", map[string]string{
		"project_root": cfg.ProjectRoot,
		"output_dir":   cfg.OutputDir,
		"workers":      strconv.Itoa(set.Concurrency),
		"max_tests":    strconv.Itoa(set.MaxTests),
		"shuffle":      strconv.FormatBool(set.Shuffle),
		"seed":         strconv.FormatInt(set.Seed, 10),
		"timeout":      set.Timeout.String(),
		"discovery":    cfg.Components.Discovery,
		"runner":       cfg.Components.Runner,
		"writer":       cfg.Components.Writer,
		"events":       cfg.Components.Events,
	})
	return cfg, comp, set, logger, nil
}

func newRunCmd(g *globals) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "发现测试并逐个追踪，写出 traces.json",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer g.writeMetrics()
			cfg, comp, set, logger, err := prepare(cmd, g, f)
			if err != nil {
				return err
			}
			defer logger.Sync()

			// 终端信息提示（非日志）：按 CLI 启用，默认开启
			term := diag.NewTerminal(g.stderr, g.status)
			diag.SetTerminal(term)
			defer diag.SetTerminal(nil)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			start := time.Now()
			t := logger.Start("pipeline", "run")
			sum, err := pipelineRun(ctx, comp, set, logger)
			if err != nil {
				code := string(diag.Classify(err))
				logger.Error("pipeline", code, "first error", &start)
				diag.IncOp("pipeline", "error", "error")
				if code != string(diag.CodeUnknown) {
					diag.IncError("pipeline", code)
				}
				printDiagnostics(g.stderr, err)
				if errors.Is(err, context.Canceled) {
					return &exitError{code: exitRuntime}
				}
				return exitf(exitRuntime, "运行失败: %v", err)
			}
			t.Finish("run", int64(sum.Traced))
			diag.IncOp("pipeline", "finish", "success")
			diag.ObserveDuration("pipeline", "finish", time.Since(start).Milliseconds())
			fprintf(g.stdout, "%s\n", filepath.Join(cfg.OutputDir, string(pipeline.DefaultCorpusID)))
			return nil
		},
	}
	f.bind(cmd)
	return cmd
}

func newCollectCmd(g *globals) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "仅发现测试，逐行输出规范化测试标识",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer g.writeMetrics()
			_, comp, set, logger, err := prepare(cmd, g, f)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			t := logger.Start("discovery", "collect")
			ids, err := discover(ctx, comp.Discoverer, contract.DiscoverRequest{
				ProjectRoot: set.ProjectRoot,
				OutputDir:   set.OutputDir,
				MaxTests:    set.MaxTests,
				Shuffle:     set.Shuffle,
				Seed:        set.Seed,
			})
			if err != nil {
				code := string(diag.Classify(err))
				logger.ErrorWith("discovery", code, err.Error(), t.Since(), "")
				diag.IncError("discovery", code)
				printDiagnostics(g.stderr, err)
				return exitf(exitRuntime, "发现失败: %v", err)
			}
			t.Finish("collect", int64(len(ids)))
			var b strings.Builder
			for _, id := range ids {
				b.WriteString(string(id))
				b.WriteByte('\n')
			}
			fprintf(g.stdout, "%s", b.String())
			return nil
		},
	}
	f.bind(cmd)
	return cmd
}
