// Package hooked 在独立临时工作区中以追踪模式运行单个测试，
// 读取执行报告与调用图工件，折叠为 contract.Result。
package hooked

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sweflow/internal/proc"
	"sweflow/internal/workspace"
	"sweflow/pkg/contract"
)

// DefaultTimeout: 单测执行的默认超时。
const DefaultTimeout = 120 * time.Second

// Options: 最小必要选项。
type Options struct {
	// HookCommand: 追踪入口命令（其后追加 "hook ..."）；空表示当前可执行文件。
	HookCommand []string `json:"hook_command,omitempty"`
	// Python/Events: 透传给 hook 子命令的解释器与事件源名称。
	Python string `json:"python,omitempty"`
	Events string `json:"events,omitempty"`
	// KeepOutput: 失败时保留的诊断输出上限（字节）；<=0 使用默认 4KiB。
	KeepOutput int `json:"keep_output,omitempty"`
}

// Runner 为追踪模式单测执行器。
type Runner struct {
	hook   []string
	python string
	events string
	keep   int
	run    proc.Runner
}

// New 创建 Runner。HookCommand 为空时解析当前可执行文件路径。
func New(opts *Options) (*Runner, error) {
	r := &Runner{keep: 4096, run: proc.Exec}
	if opts != nil {
		r.hook = append(r.hook, opts.HookCommand...)
		r.python = opts.Python
		r.events = opts.Events
		if opts.KeepOutput > 0 {
			r.keep = opts.KeepOutput
		}
	}
	if len(r.hook) == 0 || strings.TrimSpace(r.hook[0]) == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, err
		}
		r.hook = []string{exe}
	}
	return r, nil
}

// WithRunner 替换子进程执行器（测试注入）。
func (r *Runner) WithRunner(pr proc.Runner) *Runner {
	r.run = pr
	return r
}

var (
	_ contract.Runner    = (*Runner)(nil)
	_ contract.Diagnosed = (*ExecError)(nil)
)

// PytestArgs 返回单测执行的 pytest 参数（工作区 ws 内存放缓存与报告）。
func PytestArgs(root, ws string, id contract.TestID) []string {
	return []string{
		"--cache-clear",
		"--rootdir=" + root,
		"-o", "cache_dir=" + filepath.Join(ws, ".pytest_cache"),
		"--no-cov",
		"--json-report",
		"--json-report-indent=4",
		"--json-report-file=" + filepath.Join(ws, "report.json"),
		string(id),
	}
}

// Command 构造追踪执行命令。
func (r *Runner) Command(root, ws string, id contract.TestID) proc.Command {
	args := append([]string{}, r.hook[1:]...)
	args = append(args, "hook",
		"--trace-output", filepath.Join(ws, "trace.json"),
		"--program", "pytest",
		"--base-dir", root)
	if r.python != "" {
		args = append(args, "--python", r.python)
	}
	if r.events != "" {
		args = append(args, "--events", r.events)
	}
	args = append(args, "--")
	args = append(args, PytestArgs(root, ws, id)...)
	return proc.Command{Name: r.hook[0], Args: args, Dir: root, Env: proc.ProjectEnv(root)}
}

// RunTest 执行单个测试；所有失败折叠为 Result.Kind，不向调用方返回错误。
// 临时工作区在任何路径上都会被删除。
func (r *Runner) RunTest(ctx context.Context, req contract.RunRequest) contract.Result {
	res := contract.Result{TestID: req.TestID, Kind: contract.ResultFailed}
	root, err := filepath.Abs(req.ProjectRoot)
	if err != nil || strings.TrimSpace(req.ProjectRoot) == "" || req.TestID == "" {
		res.Err = fmt.Errorf("run %q: %w", req.TestID, contract.ErrInvalidInput)
		return res
	}
	ws, release, err := workspace.Acquire(req.TempDir, "sweflow-test-")
	if err != nil {
		res.Err = err
		return res
	}
	defer release()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := r.run(tctx, r.Command(root, ws, req.TestID))
	if err != nil {
		res.Err = fmt.Errorf("run %q: %w", req.TestID, err)
		return res
	}

	tr, rerr := ReadRunReport(filepath.Join(ws, "report.json"))
	if rerr != nil {
		if out.ExitCode != 0 {
			res.Err = r.execErr(out, rerr)
		} else {
			res.Err = rerr
		}
		return res
	}
	if tr.Outcome != "passed" {
		res.Kind = contract.ResultNotPassed
		res.Err = fmt.Errorf("outcome %q: %w", tr.Outcome, contract.ErrNotPassed)
		return res
	}
	if out.ExitCode != 0 {
		res.Err = r.execErr(out, nil)
		return res
	}
	edges, terr := ReadTrace(filepath.Join(ws, "trace.json"))
	if terr != nil {
		res.Err = terr
		return res
	}
	res.Kind = contract.ResultTraced
	res.Record = &contract.TraceRecord{
		TestID:        req.TestID,
		TestFuncID:    contract.TestFuncID(tr.NodeID, tr.Lineno),
		CallRelations: edges,
	}
	return res
}

// ExecError: 追踪子进程非零退出；携带截断后的诊断输出。
type ExecError struct {
	ExitCode int
	Output   string
	Cause    error
}

func (e *ExecError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("hooked pytest exited with code %d: %v", e.ExitCode, e.Cause)
	}
	return fmt.Sprintf("hooked pytest exited with code %d", e.ExitCode)
}

// Diagnostics 返回截断后的子进程输出。
func (e *ExecError) Diagnostics() string { return e.Output }

func (e *ExecError) Unwrap() []error {
	if e.Cause != nil {
		return []error{contract.ErrExecFailed, e.Cause}
	}
	return []error{contract.ErrExecFailed}
}

func (r *Runner) execErr(out proc.Output, cause error) error {
	d := out.Diagnostics()
	if len(d) > r.keep {
		d = "…" + d[len(d)-r.keep:]
	}
	return &ExecError{ExitCode: out.ExitCode, Output: d, Cause: cause}
}

// TestReport: 执行报告中首个测试项的结果。
type TestReport struct {
	NodeID  string `json:"nodeid"`
	Lineno  int    `json:"lineno"`
	Outcome string `json:"outcome"`
}

// ReadRunReport 读取 pytest-json-report 执行报告，返回 tests[0]。
func ReadRunReport(path string) (TestReport, error) {
	var rep struct {
		Tests []TestReport `json:"tests"`
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return TestReport{}, fmt.Errorf("run report missing: %w", contract.ErrReportInvalid)
		}
		return TestReport{}, err
	}
	if err := json.Unmarshal(b, &rep); err != nil {
		return TestReport{}, fmt.Errorf("run report: %v: %w", err, contract.ErrReportInvalid)
	}
	if len(rep.Tests) == 0 || rep.Tests[0].NodeID == "" {
		return TestReport{}, fmt.Errorf("run report: no tests: %w", contract.ErrReportInvalid)
	}
	return rep.Tests[0], nil
}

// ReadTrace 读取调用图工件（JSON 数组）。
func ReadTrace(path string) ([]contract.CallEdge, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("trace missing: %w", contract.ErrTraceInvalid)
		}
		return nil, err
	}
	var edges []contract.CallEdge
	if err := json.Unmarshal(b, &edges); err != nil {
		return nil, fmt.Errorf("trace: %v: %w", err, contract.ErrTraceInvalid)
	}
	if edges == nil {
		edges = []contract.CallEdge{}
	}
	return edges, nil
}
