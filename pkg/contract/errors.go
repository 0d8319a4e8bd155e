package contract

import "errors"

// 最小错误分类（用于日志/指标与上层策略判定）。
var (
	// ErrInvalidInput: 参数或配置非法。
	ErrInvalidInput = errors.New("invalid input")
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrDiscoveryFailed: 测试收集进程失败（致命）。
	ErrDiscoveryFailed = errors.New("discovery failed")
	// ErrReportInvalid: 收集/执行报告缺失或结构不符。
	ErrReportInvalid = errors.New("report invalid")
	// ErrTraceInvalid: 调用图工件缺失或无法解析。
	ErrTraceInvalid = errors.New("trace invalid")
	// ErrExecFailed: 被测子进程非零退出或无法启动。
	ErrExecFailed = errors.New("exec failed")
	// ErrNotPassed: 测试结果不是 passed。
	ErrNotPassed = errors.New("test not passed")
)

// Diagnosed: 携带外部进程诊断输出（stdout/stderr 片段）的错误。
type Diagnosed interface {
	error
	Diagnostics() string
}
