package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"sweflow/internal/diag"
	"sweflow/pkg/contract"
	wfs "sweflow/plugins/writer/filesystem"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// 通用桩件 ----------------------------------------------------
type stubDiscoverer struct {
	ids []contract.TestID
	err error
	got contract.DiscoverRequest
}

func (d *stubDiscoverer) Discover(ctx context.Context, req contract.DiscoverRequest) ([]contract.TestID, error) {
	d.got = req
	return d.ids, d.err
}

// stubRunner: 按测试名后缀决定结果；记录并发峰值。
type stubRunner struct {
	delay  time.Duration
	active atomic.Int32
	peak   atomic.Int32
	mu     sync.Mutex
	seen   []contract.RunRequest
}

func (r *stubRunner) RunTest(ctx context.Context, req contract.RunRequest) contract.Result {
	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	r.mu.Lock()
	r.seen = append(r.seen, req)
	r.mu.Unlock()
	if r.delay > 0 {
		select {
		case <-ctx.Done():
			return contract.Result{TestID: req.TestID, Kind: contract.ResultFailed, Err: ctx.Err()}
		case <-time.After(r.delay):
		}
	}
	id := string(req.TestID)
	switch {
	case strings.HasSuffix(id, "_fail"):
		// 未通过：即使提供了记录也必须被丢弃
		return contract.Result{TestID: req.TestID, Kind: contract.ResultNotPassed, Record: record(req.TestID), Err: contract.ErrNotPassed}
	case strings.HasSuffix(id, "_crash"):
		return contract.Result{TestID: req.TestID, Kind: contract.ResultFailed, Err: fmt.Errorf("exit 2: %w", contract.ErrExecFailed)}
	case strings.HasSuffix(id, "_zero"):
		return contract.Result{}
	}
	return contract.Result{TestID: req.TestID, Kind: contract.ResultTraced, Record: record(req.TestID)}
}

func record(id contract.TestID) *contract.TraceRecord {
	return &contract.TraceRecord{
		TestID:     id,
		TestFuncID: strings.ReplaceAll(string(id), "::", ":1:"),
		CallRelations: []contract.CallEdge{{
			Caller: &contract.CallFrame{File: "t.py", Line: 1, Func: "test"},
			Callee: contract.CallFrame{File: "m.py", Line: 2, Func: "f"},
		}},
	}
}

type memWriter struct {
	mu    sync.Mutex
	files map[contract.ArtifactID][]byte
	err   error
}

func (w *memWriter) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	if w.err != nil {
		return w.err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.files == nil {
		w.files = map[contract.ArtifactID][]byte{}
	}
	w.files[id] = b
	return nil
}

func ids(names ...string) []contract.TestID {
	out := make([]contract.TestID, len(names))
	for i, n := range names {
		out[i] = contract.TestID("t.py::" + n)
	}
	return out
}

func decodeCorpus(t *testing.T, b []byte) contract.Corpus {
	t.Helper()
	var c contract.Corpus
	require.NoError(t, json.Unmarshal(b, &c))
	return c
}

// UT-PIP-01: 单测失败不影响批次；语料仅含 traced。
func TestRunMixedOutcomes(t *testing.T) {
	d := &stubDiscoverer{ids: ids("test_a", "test_b_fail", "test_c_crash", "test_d", "test_e_zero")}
	w := &memWriter{}
	set := Settings{ProjectRoot: t.TempDir(), OutputDir: "out", Concurrency: 3, MaxTests: 7, Shuffle: true, Seed: 9, Timeout: time.Second}
	sum, err := Run(context.Background(), Components{Discoverer: d, Runner: &stubRunner{}, Writer: w}, set, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, sum.Total)
	assert.Equal(t, 2, sum.Traced)
	assert.Equal(t, 1, sum.NotPassed)
	assert.Equal(t, 2, sum.Failed)
	assert.Equal(t, contract.DiscoverRequest{ProjectRoot: set.ProjectRoot, OutputDir: "out", MaxTests: 7, Shuffle: true, Seed: 9}, d.got)

	corpus := decodeCorpus(t, w.files["traces.json"])
	require.Len(t, corpus, 2)
	var got []contract.TestID
	for _, r := range corpus {
		got = append(got, r.TestID)
	}
	assert.ElementsMatch(t, ids("test_a", "test_d"), got)
	assert.Contains(t, string(w.files["traces.json"]), "\n    {\n        \"test-id\"")
}

// 并发度受限且得到充分利用
func TestRunConcurrencyBound(t *testing.T) {
	var names []string
	for i := 0; i < 24; i++ {
		names = append(names, fmt.Sprintf("test_%02d", i))
	}
	r := &stubRunner{delay: 20 * time.Millisecond}
	set := Settings{ProjectRoot: t.TempDir(), Concurrency: 4, TempDir: "/scratch"}
	sum, err := Run(context.Background(), Components{Discoverer: &stubDiscoverer{ids: ids(names...)}, Runner: r, Writer: &memWriter{}}, set, nil)
	require.NoError(t, err)
	assert.Equal(t, 24, sum.Traced)
	assert.LessOrEqual(t, r.peak.Load(), int32(4))
	assert.Greater(t, r.peak.Load(), int32(1))
	require.Len(t, r.seen, 24)
	assert.Equal(t, "/scratch", r.seen[0].TempDir)
}

// 发现失败是致命的：不执行测试、不写语料。
func TestRunDiscoveryFatal(t *testing.T) {
	w := &memWriter{}
	r := &stubRunner{}
	_, err := Run(context.Background(), Components{Discoverer: &stubDiscoverer{err: contract.ErrDiscoveryFailed}, Runner: r, Writer: w}, Settings{ProjectRoot: "p"}, nil)
	require.ErrorIs(t, err, contract.ErrDiscoveryFailed)
	assert.Empty(t, w.files)
	assert.Empty(t, r.seen)
}

func TestRunWriteFailure(t *testing.T) {
	boom := errors.New("disk full")
	_, err := Run(context.Background(), Components{Discoverer: &stubDiscoverer{ids: ids("test_a")}, Runner: &stubRunner{}, Writer: &memWriter{err: boom}}, Settings{ProjectRoot: "p"}, nil)
	require.ErrorIs(t, err, boom)
}

// 空发现结果：写出空语料 []
func TestRunEmpty(t *testing.T) {
	w := &memWriter{}
	sum, err := Run(context.Background(), Components{Discoverer: &stubDiscoverer{}, Runner: &stubRunner{}, Writer: w}, Settings{ProjectRoot: "p", CorpusID: "c.json"}, nil)
	require.NoError(t, err)
	assert.Zero(t, sum.Total)
	assert.JSONEq(t, "[]", string(w.files["c.json"]))
}

// ctx 取消：停止调度，不写语料，所有 goroutine 退出。
func TestRunCanceled(t *testing.T) {
	var names []string
	for i := 0; i < 50; i++ {
		names = append(names, fmt.Sprintf("test_%02d", i))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	w := &memWriter{}
	r := &stubRunner{delay: 30 * time.Millisecond}
	_, err := Run(ctx, Components{Discoverer: &stubDiscoverer{ids: ids(names...)}, Runner: r, Writer: w}, Settings{ProjectRoot: "p", Concurrency: 2}, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, w.files)
	assert.Less(t, len(r.seen), 50)
}

func TestRunSanity(t *testing.T) {
	_, err := Run(context.Background(), Components{}, Settings{ProjectRoot: "p"}, nil)
	require.Error(t, err)
	_, err = Run(context.Background(), Components{Discoverer: &stubDiscoverer{}, Runner: &stubRunner{}, Writer: &memWriter{}}, Settings{}, nil)
	require.ErrorIs(t, err, contract.ErrInvalidInput)
}

// 与文件系统 Writer、日志、终端、缓存清理联动
func TestRunWithFilesystemWriter(t *testing.T) {
	root := t.TempDir()
	out := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg", "__pycache__"), 0o755))
	w, err := wfs.New(&wfs.Options{OutputDir: out})
	require.NoError(t, err)

	var term strings.Builder
	diag.SetTerminal(diag.NewTerminal(&term, true))
	defer diag.SetTerminal(nil)
	var logs strings.Builder
	logger := diag.NewLoggerTo("corr", "debug", &logs)

	sum, err := Run(context.Background(), Components{Discoverer: &stubDiscoverer{ids: ids("test_a", "test_b_fail")}, Runner: &stubRunner{}, Writer: w},
		Settings{ProjectRoot: root, OutputDir: out, Concurrency: 2, Purge: true}, logger)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Traced)

	b, err := os.ReadFile(filepath.Join(out, "traces.json"))
	require.NoError(t, err)
	corpus := decodeCorpus(t, b)
	require.Len(t, corpus, 1)
	assert.Equal(t, "t.py:1:test_a", corpus[0].TestFuncID)

	_, err = os.Stat(filepath.Join(root, "pkg", "__pycache__"))
	assert.True(t, os.IsNotExist(err))
	assert.Contains(t, term.String(), "[run] 并发=2 | 测试=2")
	assert.Contains(t, term.String(), "/2] not_passed t.py::test_b_fail")
	assert.Contains(t, term.String(), "[ok] 全部完成")
	assert.Contains(t, logs.String(), `"comp":"runner"`)
	assert.Contains(t, logs.String(), `"test_id":"t.py::test_b_fail"`)
}

func TestAggregate(t *testing.T) {
	withNil := contract.Result{TestID: "x", Kind: contract.ResultTraced, Record: &contract.TraceRecord{TestID: "x"}}
	res := []contract.Result{
		{TestID: "b", Kind: contract.ResultTraced, Record: record("b")},
		{TestID: "a", Kind: contract.ResultNotPassed, Record: record("a")},
		{TestID: "c", Kind: contract.ResultFailed},
		{TestID: "d", Kind: contract.ResultTraced},
		withNil,
	}
	c := Aggregate(res)
	require.Len(t, c, 2)
	assert.Equal(t, contract.TestID("b"), c[0].TestID)
	assert.NotNil(t, c[1].CallRelations)

	b, err := EncodeCorpus(nil)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(b))
	b, err = EncodeCorpus(c)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"call-relations": []`)
}
