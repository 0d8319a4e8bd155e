package contract

import (
	"context"
	"time"
)

// ResultKind: 单测执行结果类别。
type ResultKind int

const (
	// ResultTraced: 测试通过且调用图工件解析成功。
	ResultTraced ResultKind = iota + 1
	// ResultNotPassed: 测试结果不是 passed（无论调用图工件是否存在）。
	ResultNotPassed
	// ResultFailed: 执行失败（非零退出、超时、报告或工件损坏等）。
	ResultFailed
)

func (k ResultKind) String() string {
	switch k {
	case ResultTraced:
		return "traced"
	case ResultNotPassed:
		return "not_passed"
	case ResultFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RunRequest: 单个测试的执行参数。
type RunRequest struct {
	ProjectRoot string
	TestID      TestID
	// TempDir: 临时工作区的父目录；空表示系统默认。
	TempDir string
	Timeout time.Duration
}

// Result: 单测结果。仅 Kind==ResultTraced 时 Record 非空。
type Result struct {
	TestID TestID
	Kind   ResultKind
	Record *TraceRecord
	// Err: Kind==ResultFailed 时的原因（用于日志与分类）。
	Err error
}

// Runner: 在独立临时工作区内运行单个测试并收集调用图。
// 约束：永不向调用方抛出单测失败；所有失败折叠为 Result.Kind。
type Runner interface {
	RunTest(ctx context.Context, req RunRequest) Result
}
