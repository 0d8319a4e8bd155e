package hook

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sweflow/pkg/contract"
)

type fakeSource struct {
	events []contract.Event
	exit   int
	err    error
	got    contract.Program
}

func (f *fakeSource) Run(ctx context.Context, p contract.Program, sink func(contract.Event)) (int, error) {
	f.got = p
	for _, ev := range f.events {
		sink(ev)
	}
	return f.exit, f.err
}

func readEdges(t *testing.T, path string) []contract.CallEdge {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var edges []contract.CallEdge
	require.NoError(t, json.Unmarshal(b, &edges))
	return edges
}

func chain(base string) []contract.Event {
	f := filepath.Join(base, "tests", "test_a.py")
	return []contract.Event{
		{Kind: contract.EventCall, File: f, Func: "test_a", Line: 2},
		{Kind: contract.EventCall, File: f, Func: "helper", Line: 8},
		{Kind: contract.EventReturn, File: f, Func: "helper", Line: 9},
	}
}

// 非零退出码透传，且工件照常写出。
func TestRunPropagatesExitAndSaves(t *testing.T) {
	base := t.TempDir()
	out := filepath.Join(t.TempDir(), "sub", "trace.json")
	src := &fakeSource{events: chain(base), exit: 1}
	res, err := Run(context.Background(), Options{Program: "pytest", Args: []string{"-q", "t.py::x"}, TraceOutput: out, BaseDir: base}, src, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, 1, res.Edges)
	assert.Equal(t, "pytest", src.got.Module)
	assert.Equal(t, []string{"-q", "t.py::x"}, src.got.Args)

	edges := readEdges(t, out)
	require.Len(t, edges, 1)
	assert.Equal(t, "tests/test_a.py", edges[0].Caller.File)
	assert.Equal(t, "helper", edges[0].Callee.Func)
}

func TestRunZeroExit(t *testing.T) {
	base := t.TempDir()
	out := filepath.Join(t.TempDir(), "trace.json")
	res, err := Run(context.Background(), Options{Program: "m", TraceOutput: out, BaseDir: base}, &fakeSource{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Empty(t, readEdges(t, out))
}

// 事件源失败：返回 error，退出码 1，工件仍然写出。
func TestRunSourceError(t *testing.T) {
	base := t.TempDir()
	out := filepath.Join(t.TempDir(), "trace.json")
	boom := errors.New("interpreter missing")
	res, err := Run(context.Background(), Options{Program: "m", TraceOutput: out, BaseDir: base}, &fakeSource{events: chain(base), err: boom, exit: -1}, nil)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, res.ExitCode)
	assert.Len(t, readEdges(t, out), 1)
}

func TestRunInvalidOptions(t *testing.T) {
	_, err := Run(context.Background(), Options{TraceOutput: "x.json"}, &fakeSource{}, nil)
	require.ErrorIs(t, err, contract.ErrInvalidInput)
	_, err = Run(context.Background(), Options{Program: "m"}, &fakeSource{}, nil)
	require.ErrorIs(t, err, contract.ErrInvalidInput)
}

// 已取消的 ctx 仍能写出工件
func TestRunCanceledStillSaves(t *testing.T) {
	base := t.TempDir()
	out := filepath.Join(t.TempDir(), "trace.json")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, Options{Program: "m", TraceOutput: out, BaseDir: base}, &fakeSource{events: chain(base), err: context.Canceled}, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, readEdges(t, out), 1)
}
