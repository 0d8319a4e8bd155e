package pipeline

import (
    "context"
    "errors"
    "fmt"
    "strconv"
    "time"

    "golang.org/x/sync/errgroup"

    "sweflow/internal/diag"
    "sweflow/internal/workspace"
    "sweflow/pkg/contract"
)

// - 单点并发：仅此层管理并发；原子组件均为同步实现。
// - 故障隔离：单个测试的失败折叠为 Result，不取消其他测试；仅发现失败与语料写出失败是致命的。
// - 完成顺序：结果按完成先后汇入，每个结果携带其测试标识。

// Components 聚合运行所需的原子组件。
type Components struct {
    Discoverer contract.Discoverer
    Runner     contract.Runner
    Writer     contract.Writer
}

// Settings 运行期配置（最小必要）。
type Settings struct {
    ProjectRoot string
    // OutputDir: 收集报告落盘目录（语料输出根由 Writer 的 options 决定）。
    OutputDir   string
    Concurrency int
    MaxTests    int
    Shuffle     bool
    Seed        int64
    // Timeout: 单测超时；<=0 由 Runner 使用默认值。
    Timeout time.Duration
    // TempDir: 临时工作区父目录；空表示系统默认。
    TempDir string
    // CorpusID: 语料工件名；空表示 traces.json。
    CorpusID contract.ArtifactID
    // Purge: 批次结束后清理项目内解释器缓存。
    Purge bool
}

// Summary 为一次批次的结果统计。
type Summary struct {
    Total     int
    Traced    int
    NotPassed int
    Failed    int
    Corpus    contract.Corpus
}

// DefaultCorpusID: 语料工件默认名称。
const DefaultCorpusID contract.ArtifactID = "traces.json"

// Run 执行完整批次：Discover → 有界并发 RunTest → 按完成顺序收集 → Aggregate → Writer。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (Summary, error) {
    var sum Summary
    if err := sanity(comp, &set); err != nil {
        return sum, fmt.Errorf("sanity: %w", err)
    }
    runStart := time.Now()
    ok := false
    defer func() {
        if t := diag.GetTerminal(); t != nil {
            t.RunFinish(ok, time.Since(runStart))
        }
    }()

    // 发现
    dtimer := logger.Start("discovery", "collect")
    tests, err := comp.Discoverer.Discover(ctx, contract.DiscoverRequest{
        ProjectRoot: set.ProjectRoot,
        OutputDir:   set.OutputDir,
        MaxTests:    set.MaxTests,
        Shuffle:     set.Shuffle,
        Seed:        set.Seed,
    })
    if err != nil {
        code := diag.Classify(err)
        logger.ErrorWith("discovery", string(code), err.Error(), dtimer.Since(), "")
        diag.IncOp("discovery", "error", "error")
        diag.IncError("discovery", string(code))
        return sum, fmt.Errorf("discovery: %w", err)
    }
    dtimer.Finish("collect", int64(len(tests)))
    diag.IncOp("discovery", "finish", "success")
    diag.ObserveDuration("discovery", "collect", time.Since(runStart).Milliseconds())
    sum.Total = len(tests)

    if t := diag.GetTerminal(); t != nil {
        t.RunStart(set.Concurrency, len(tests))
    }

    // 执行：结果按完成顺序汇入 results
    results := fanOut(ctx, comp.Runner, set, tests, logger)
    collected := make([]contract.Result, 0, len(tests))
    for res := range results {
        switch res.Kind {
        case contract.ResultTraced:
            sum.Traced++
        case contract.ResultNotPassed:
            sum.NotPassed++
        default:
            sum.Failed++
        }
        diag.IncTest(res.Kind.String())
        if t := diag.GetTerminal(); t != nil {
            t.TestFinish(string(res.TestID), res.Kind.String())
        }
        collected = append(collected, res)
    }
    if err := ctx.Err(); err != nil {
        logger.Error("pipeline", string(diag.Classify(err)), "batch interrupted", &runStart)
        return sum, fmt.Errorf("run tests: %w", err)
    }

    // 汇总与写出
    sum.Corpus = Aggregate(collected)
    wtimer := logger.Start("writer", "write corpus")
    if err := WriteCorpus(ctx, comp.Writer, set.CorpusID, sum.Corpus); err != nil {
        code := diag.Classify(err)
        logger.ErrorWith("writer", string(code), err.Error(), wtimer.Since(), "")
        diag.IncOp("writer", "error", "error")
        diag.IncError("writer", string(code))
        return sum, fmt.Errorf("writer write: %w", err)
    }
    wtimer.Finish("write corpus", int64(len(sum.Corpus)))
    diag.IncOp("writer", "finish", "success")

    if set.Purge {
        if n, perr := workspace.Purge(set.ProjectRoot); perr != nil {
            logger.Warn("workspace", "purge incomplete: "+perr.Error(), "", nil)
        } else {
            logger.DebugStart("workspace", "purged", "", map[string]string{"dirs": strconv.Itoa(n)})
        }
    }
    logger.InfoFinish("pipeline", "batch", runStart, int64(sum.Traced))
    diag.ObserveDuration("pipeline", "batch", time.Since(runStart).Milliseconds())
    ok = true
    return sum, nil
}

// fanOut 以 set.Concurrency 为上限并发执行测试；返回的通道在全部测试结束后关闭。
// ctx 取消后不再调度新的测试。
func fanOut(ctx context.Context, r contract.Runner, set Settings, tests []contract.TestID, logger *diag.Logger) <-chan contract.Result {
    results := make(chan contract.Result, set.Concurrency)
    var g errgroup.Group
    g.SetLimit(set.Concurrency)
    go func() {
        defer close(results)
        for _, id := range tests {
            if ctx.Err() != nil {
                break
            }
            g.Go(func() error {
                results <- runOne(ctx, r, set, id, logger)
                return nil
            })
        }
        _ = g.Wait()
    }()
    return results
}

// runOne 执行单个测试并记录日志/指标；结果必然携带 id。
func runOne(ctx context.Context, r contract.Runner, set Settings, id contract.TestID, logger *diag.Logger) contract.Result {
    timer := logger.StartWith("runner", "run", string(id))
    t0 := time.Now()
    res := r.RunTest(ctx, contract.RunRequest{
        ProjectRoot: set.ProjectRoot,
        TestID:      id,
        TempDir:     set.TempDir,
        Timeout:     set.Timeout,
    })
    res.TestID = id
    if res.Kind == 0 {
        res.Kind = contract.ResultFailed
    }
    diag.ObserveDuration("runner", "run", time.Since(t0).Milliseconds())
    switch res.Kind {
    case contract.ResultTraced:
        if res.Record == nil {
            res.Kind = contract.ResultFailed
            res.Err = fmt.Errorf("traced result without record: %w", contract.ErrTraceInvalid)
            break
        }
        timer.Finish("traced", int64(len(res.Record.CallRelations)))
        diag.IncOp("runner", "finish", "success")
        return res
    case contract.ResultNotPassed:
        res.Record = nil
        msg := "not passed"
        if res.Err != nil {
            msg = res.Err.Error()
        }
        logger.Warn("runner", msg, string(id), nil)
        diag.IncOp("runner", "finish", "not_passed")
        return res
    }
    res.Record = nil
    if res.Err == nil {
        res.Err = errors.New("runner: failed without cause")
    }
    code := diag.Classify(res.Err)
    var kv map[string]string
    var de contract.Diagnosed
    if errors.As(res.Err, &de) {
        kv = map[string]string{"output": de.Diagnostics()}
    }
    logger.ErrorWithKV("runner", string(code), res.Err.Error(), &t0, string(id), kv)
    diag.IncOp("runner", "error", "error")
    diag.IncError("runner", string(code))
    return res
}

func sanity(c Components, s *Settings) error {
    if c.Discoverer == nil || c.Runner == nil || c.Writer == nil {
        return errors.New("pipeline: missing components")
    }
    if s.ProjectRoot == "" {
        return fmt.Errorf("pipeline: empty project root: %w", contract.ErrInvalidInput)
    }
    if s.Concurrency < 1 {
        s.Concurrency = 1
    }
    if s.CorpusID == "" {
        s.CorpusID = DefaultCorpusID
    }
    return nil
}
