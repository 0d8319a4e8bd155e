package testdata

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "sweflow/internal/config"
	"sweflow/internal/hook"
	"sweflow/internal/pipeline"
	"sweflow/pkg/contract"
)

// hookEnv: 置位时测试二进制以 hook 子命令身份运行（由 hooked Runner 拉起）。
const hookEnv = "SWEFLOW_E2E_HOOK"

func TestMain(m *testing.M) {
	if os.Getenv(hookEnv) == "1" && len(os.Args) > 1 && os.Args[1] == "hook" {
		os.Exit(hookMain(os.Args[2:]))
	}
	os.Exit(m.Run())
}

// hookMain 复刻 CLI hook 子命令的最小行为。
func hookMain(args []string) int {
	fs := flag.NewFlagSet("hook", flag.ContinueOnError)
	program := fs.String("program", "", "")
	out := fs.String("trace-output", "", "")
	base := fs.String("base-dir", "", "")
	python := fs.String("python", "", "")
	events := fs.String("events", "", "")
	if err := fs.Parse(args); err != nil {
		return 3
	}
	cfg := cfgpkg.Defaults()
	cfg.Python = *python
	if *events != "" {
		cfg.Components.Events = *events
	}
	src, err := cfgpkg.EventSource(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 3
	}
	res, err := hook.Run(context.Background(), hook.Options{Program: *program, Args: fs.Args(), TraceOutput: *out, BaseDir: *base}, src, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return res.ExitCode
}

func requirePytest(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 不可用")
	}
	if err := exec.Command("python3", "-c", "import pytest, pytest_jsonreport, pytest_cov").Run(); err != nil {
		t.Skip("pytest / pytest-json-report / pytest-cov 不可用")
	}
}

// writeProject 生成一个 src 布局的小项目：两个通过、一个失败、一个参数化。
func writeProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"src/calc/__init__.py": "",
		"src/calc/ops.py": `def _check(x):
    return x


def add(a, b):
    return _check(a) + _check(b)


def double(a):
    return add(a, a)
`,
		"tests/test_calc.py": `import pytest

from calc.ops import add, double


def test_add():
    assert add(1, 2) == 3


def test_double():
    assert double(2) == 4


def test_broken():
    assert add(1, 1) == 3


@pytest.mark.parametrize("x", [1, 2])
def test_param(x):
    assert double(x) == 2 * x
`,
	}
	for rel, body := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	return root
}

func baseConfig(t *testing.T, root, outDir string) cfgpkg.Config {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	w := 2
	cfg := cfgpkg.Defaults()
	cfg.ProjectRoot = root
	cfg.OutputDir = outDir
	cfg.MaxWorkers = &w
	cfg.TempDir = t.TempDir()
	cfg.HookCommand = []string{exe}
	cfg.Logging.Level = "error"
	return cfg
}

func runPipeline(t *testing.T, cfg cfgpkg.Config) (pipeline.Summary, error) {
	t.Helper()
	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		return pipeline.Summary{}, err
	}
	return pipeline.Run(context.Background(), comp, set, nil)
}

func TestE2ESuccess(t *testing.T) {
	requirePytest(t)
	t.Setenv(hookEnv, "1")
	root := writeProject(t)
	outDir := t.TempDir()
	sum, err := runPipeline(t, baseConfig(t, root, outDir))
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Total)
	assert.Equal(t, 3, sum.Traced)
	assert.Equal(t, 1, sum.NotPassed)

	b, err := os.ReadFile(filepath.Join(outDir, "traces.json"))
	require.NoError(t, err)
	var corpus contract.Corpus
	require.NoError(t, json.Unmarshal(b, &corpus))
	byID := map[contract.TestID]contract.TraceRecord{}
	var ids []string
	for _, rec := range corpus {
		byID[rec.TestID] = rec
		ids = append(ids, string(rec.TestID))
	}
	sort.Strings(ids)
	assert.Equal(t, []string{"tests/test_calc.py::test_add", "tests/test_calc.py::test_double", "tests/test_calc.py::test_param"}, ids)

	add := byID["tests/test_calc.py::test_add"]
	assert.Equal(t, "tests/test_calc.py:6:test_add", add.TestFuncID)
	found := false
	for _, e := range add.CallRelations {
		if e.Caller.Func == "test_add" && e.Callee.Func == "add" {
			found = true
			assert.Equal(t, "tests/test_calc.py", e.Caller.File)
			assert.Equal(t, "src/calc/ops.py", e.Callee.File)
			assert.Positive(t, e.Callee.Line)
		}
	}
	assert.True(t, found, "缺少 test_add → add 边: %+v", add.CallRelations)
	for _, rec := range corpus {
		for _, e := range rec.CallRelations {
			require.NotNil(t, e.Caller)
			assert.NotContains(t, e.Callee.File, "site-packages")
		}
	}

	// 收集报告保留；项目内缓存被清理
	_, err = os.Stat(filepath.Join(outDir, "tests-info.json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "tests", "__pycache__"))
	assert.True(t, os.IsNotExist(err), "缓存目录应被清理")
}

// 截断 + 洗牌：同一种子两次运行选中同一组测试。
func TestE2EShuffleCap(t *testing.T) {
	requirePytest(t)
	t.Setenv(hookEnv, "1")
	root := writeProject(t)
	pick := func() []string {
		outDir := t.TempDir()
		cfg := baseConfig(t, root, outDir)
		n, on := 2, true
		cfg.MaxTests, cfg.Random = &n, &on
		sum, err := runPipeline(t, cfg)
		require.NoError(t, err)
		require.Equal(t, 2, sum.Total)
		var ids []string
		for _, rec := range sum.Corpus {
			ids = append(ids, string(rec.TestID))
		}
		sort.Strings(ids)
		return ids
	}
	assert.Equal(t, pick(), pick())
}

// 收集失败（语法错误）为致命错误，语料不写出。
func TestE2EDiscoveryFailure(t *testing.T) {
	requirePytest(t)
	root := writeProject(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "tests", "test_bad.py"), []byte("def oops(:\n"), 0o644))
	outDir := t.TempDir()
	_, err := runPipeline(t, baseConfig(t, root, outDir))
	require.ErrorIs(t, err, contract.ErrDiscoveryFailed)
	_, serr := os.Stat(filepath.Join(outDir, "traces.json"))
	assert.True(t, os.IsNotExist(serr))
}
