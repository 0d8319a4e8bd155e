package diag

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"sweflow/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总，与退出码解耦。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeCancel    Code = "cancel"
	CodeTimeout   Code = "timeout"
	CodeDiscovery Code = "discovery"
	CodeProtocol  Code = "protocol"
	CodeExec      Code = "exec"
	CodeInvariant Code = "invariant"
	CodeIO        Code = "io"
)

// Classify 将错误归为最小分类。
// 说明：仅依赖哨兵错误与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	// 超时与取消优先
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	if errors.Is(err, context.Canceled) {
		return CodeCancel
	}
	if errors.Is(err, contract.ErrDiscoveryFailed) {
		return CodeDiscovery
	}
	// 报告/工件结构
	if errors.Is(err, contract.ErrReportInvalid) || errors.Is(err, contract.ErrTraceInvalid) {
		return CodeProtocol
	}
	if errors.Is(err, contract.ErrExecFailed) || errors.Is(err, contract.ErrNotPassed) {
		return CodeExec
	}
	var xerr *exec.ExitError
	if errors.As(err, &xerr) || errors.Is(err, exec.ErrNotFound) {
		return CodeExec
	}
	if errors.Is(err, contract.ErrInvalidInput) || errors.Is(err, contract.ErrPathInvalid) {
		return CodeInvariant
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	return CodeUnknown
}

// NowUTC 返回 RFC3339 UTC 时间字符串。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
