// Package pytest 通过 pytest 的 collect-only 模式枚举测试，
// 归并参数化变体，并按需洗牌与截断。
package pytest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sweflow/internal/proc"
	"sweflow/internal/workspace"
	"sweflow/pkg/contract"
)

// Options: 最小必要选项。
type Options struct {
	// Python: 解释器；空表示 python3。
	Python string `json:"python,omitempty"`
	// ReportName: 收集报告文件名（位于 OutputDir 下）。默认 tests-info.json。
	ReportName string `json:"report_name,omitempty"`
	// Purge: 收集后清理 __pycache__/.pytest_cache；默认 true。
	Purge *bool `json:"purge,omitempty"`
}

// Discoverer 为 pytest 收集实现。
type Discoverer struct {
	python string
	report string
	purge  bool
	run    proc.Runner
}

// New 创建 Discoverer。
func New(opts *Options) *Discoverer {
	d := &Discoverer{python: "python3", report: "tests-info.json", purge: true, run: proc.Exec}
	if opts != nil {
		if strings.TrimSpace(opts.Python) != "" {
			d.python = opts.Python
		}
		if strings.TrimSpace(opts.ReportName) != "" {
			d.report = opts.ReportName
		}
		if opts.Purge != nil {
			d.purge = *opts.Purge
		}
	}
	return d
}

// WithRunner 替换子进程执行器（测试注入）。
func (d *Discoverer) WithRunner(r proc.Runner) *Discoverer {
	d.run = r
	return d
}

var (
	_ contract.Discoverer = (*Discoverer)(nil)
	_ contract.Diagnosed  = (*CollectError)(nil)
)

// CollectError: 收集进程非零退出；携带诊断输出。
type CollectError struct {
	ExitCode int
	Output   string
}

func (e *CollectError) Error() string {
	return fmt.Sprintf("pytest collection exited with code %d", e.ExitCode)
}

func (e *CollectError) Unwrap() error { return contract.ErrDiscoveryFailed }

// Diagnostics 返回收集进程的完整输出。
func (e *CollectError) Diagnostics() string { return e.Output }

// Args 返回收集命令的 pytest 参数。
func Args(root, reportPath string) []string {
	return []string{
		"--collect-only",
		"--cache-clear",
		"--rootdir=" + root,
		"-o", "cache_dir=" + filepath.Join(root, ".pytest_cache"),
		"--json-report",
		"--json-report-indent=4",
		"--json-report-file=" + reportPath,
	}
}

// Discover 运行收集并返回规范化测试标识（见 Select）。
func (d *Discoverer) Discover(ctx context.Context, req contract.DiscoverRequest) ([]contract.TestID, error) {
	if strings.TrimSpace(req.ProjectRoot) == "" || strings.TrimSpace(req.OutputDir) == "" {
		return nil, fmt.Errorf("discover: project root and output dir required: %w", contract.ErrInvalidInput)
	}
	root, err := filepath.Abs(req.ProjectRoot)
	if err != nil {
		return nil, err
	}
	outDir, err := filepath.Abs(req.OutputDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	report := filepath.Join(outDir, d.report)

	cmd := proc.Command{
		Name: d.python,
		Args: append([]string{"-m", "pytest"}, Args(root, report)...),
		Dir:  root,
		Env:  proc.ProjectEnv(root),
	}
	out, err := d.run(ctx, cmd)
	if d.purge {
		_, _ = workspace.Purge(root)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", contract.ErrDiscoveryFailed, cmd.Name, err)
	}
	if out.ExitCode != 0 {
		return nil, &CollectError{ExitCode: out.ExitCode, Output: out.Diagnostics()}
	}

	nodes, err := ReadReport(report)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", contract.ErrDiscoveryFailed, err)
	}
	return Select(nodes, req.Shuffle, req.Seed, req.MaxTests), nil
}

// collectReport: pytest-json-report 收集报告中用到的部分。
type collectReport struct {
	Collectors []struct {
		Result []struct {
			NodeID string `json:"nodeid"`
			Type   string `json:"type"`
		} `json:"result"`
	} `json:"collectors"`
}

// ReadReport 读取收集报告，返回 type 为 Function/TestCaseFunction 的 nodeid（报告顺序）。
func ReadReport(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("collect report missing: %w", contract.ErrReportInvalid)
		}
		return nil, err
	}
	var rep collectReport
	if err := json.Unmarshal(b, &rep); err != nil {
		return nil, fmt.Errorf("collect report: %v: %w", err, contract.ErrReportInvalid)
	}
	if rep.Collectors == nil {
		return nil, fmt.Errorf("collect report: no collectors: %w", contract.ErrReportInvalid)
	}
	var nodes []string
	for _, c := range rep.Collectors {
		for _, r := range c.Result {
			if r.Type != "Function" && r.Type != "TestCaseFunction" {
				continue
			}
			nodes = append(nodes, r.NodeID)
		}
	}
	return nodes, nil
}

// Select 规范化并去重（保持首次出现顺序），可选按 seed 洗牌，maxTests>0 时截断为前 N 个。
func Select(nodes []string, shuffle bool, seed int64, maxTests int) []contract.TestID {
	seen := make(map[contract.TestID]struct{}, len(nodes))
	ids := make([]contract.TestID, 0, len(nodes))
	for _, n := range nodes {
		id := contract.CanonicalTestID(n)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if shuffle {
		Shuffle(ids, seed)
	}
	if maxTests > 0 && len(ids) > maxTests {
		ids = ids[:maxTests]
	}
	return ids
}
