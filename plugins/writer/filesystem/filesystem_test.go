package filesystem

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sweflow/pkg/contract"
)

func noTmp(t *testing.T, dir string) {
	t.Helper()
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Fatalf("临时文件未清理: %s", e.Name())
		}
	}
}

// TestWriteAtomic 原子写入
func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	w, err := New(&Options{OutputDir: dir})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := w.Write(context.Background(), "traces.json", bytes.NewBufferString(`[]`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "traces.json"))
	if err != nil || string(b) != "[]" {
		t.Fatalf("unexpected file %v %q", err, string(b))
	}
	noTmp(t, dir)
}

// 目标已存在时，原子写替换为新内容。
func TestWriteAtomicReplaceExisting(t *testing.T) {
    dir := t.TempDir()
    w, err := New(&Options{OutputDir: dir})
    if err != nil {
        t.Fatalf("new: %v", err)
    }
    if err := w.Write(context.Background(), "trace.json", bytes.NewBufferString(`[1]`)); err != nil {
        t.Fatalf("write v1: %v", err)
    }
    if err := w.Write(context.Background(), "trace.json", bytes.NewBufferString(`[2]`)); err != nil {
        t.Fatalf("write v2: %v", err)
    }
    b, err := os.ReadFile(filepath.Join(dir, "trace.json"))
    if err != nil {
        t.Fatalf("read: %v", err)
    }
    if string(b) != "[2]" {
        t.Fatalf("预期替换为 [2]，实际 %q", string(b))
    }
    noTmp(t, dir)
}

// 截断或多值内容被拒绝，旧工件保持不变。
func TestWriteRejectsInvalidJSON(t *testing.T) {
    dir := t.TempDir()
    w, _ := New(&Options{OutputDir: dir})
    ctx := context.Background()
    if err := w.Write(ctx, "trace.json", strings.NewReader(`[{"a":1}]`)); err != nil {
        t.Fatalf("write: %v", err)
    }
    for _, bad := range []string{`[{"a":1}`, `[] []`, ``, `{"a":`, `nope`} {
        err := w.Write(ctx, "trace.json", strings.NewReader(bad))
        if !errors.Is(err, ErrNotJSON) {
            t.Fatalf("内容 %q 预期 ErrNotJSON，实际 %v", bad, err)
        }
    }
    b, _ := os.ReadFile(filepath.Join(dir, "trace.json"))
    if string(b) != `[{"a":1}]` {
        t.Fatalf("旧工件被覆盖: %q", string(b))
    }
    noTmp(t, dir)
}

func TestWriteValidateDisabled(t *testing.T) {
    dir := t.TempDir()
    off := false
    w, _ := New(&Options{OutputDir: dir, ValidateJSON: &off})
    if err := w.Write(context.Background(), "raw.log", strings.NewReader("c\ta.py\tf\t1\n")); err != nil {
        t.Fatalf("write: %v", err)
    }
}

// 标量与嵌套值均视为单个完整 JSON 值。
func TestValidJSONAccepts(t *testing.T) {
    dir := t.TempDir()
    w, _ := New(&Options{OutputDir: dir})
    for _, ok := range []string{`1`, `"s"`, `{"a":[1,{"b":null}]}`, "[\n    []\n]\n"} {
        if err := w.Write(context.Background(), "v.json", strings.NewReader(ok)); err != nil {
            t.Fatalf("内容 %q 预期通过: %v", ok, err)
        }
    }
}

// TestWritePathInvalid 路径越界
func TestWritePathInvalid(t *testing.T) {
    dir := t.TempDir()
    flat := false
    w, _ := New(&Options{OutputDir: dir, Flat: &flat})
    err := w.Write(context.Background(), "../bad", bytes.NewBufferString("[]"))
    if !errors.Is(err, contract.ErrPathInvalid) {
        t.Fatalf("expect path invalid, got %v", err)
    }
}

// 扁平模式只保留文件名。
func TestPathFlat(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir})
	p, err := w.Path("runs/2024/traces.json")
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	if p != filepath.Join(dir, "traces.json") {
		t.Fatalf("unexpected path %s", p)
	}
	if _, err := w.Path(".."); !errors.Is(err, contract.ErrPathInvalid) {
		t.Fatalf("expect invalid for ..")
	}
}

// TestWriteNonAtomic 非原子写入
func TestWriteNonAtomic(t *testing.T) {
	dir := t.TempDir()
	flat := false
	atomic := false
	w, _ := New(&Options{OutputDir: dir, Flat: &flat, Atomic: &atomic})
	if err := w.Write(context.Background(), "sub/out.json", bytes.NewBufferString("[]")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "sub", "out.json")); err != nil {
		t.Fatalf("file not created")
	}
}

// TestWriteCtxCancel 上下文取消
func TestWriteCtxCancel(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Write(ctx, "a.json", strings.NewReader("[]")); err == nil {
		t.Fatalf("expect ctx error")
	}
}

// TestNewInvalid 参数缺失
func TestNewInvalid(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("expect error for nil opts")
	}
	if _, err := New(&Options{}); err == nil {
		t.Fatalf("expect error for empty output dir")
	}
}

type errReader struct{}

func (errReader) Read(p []byte) (int, error) { return 0, errors.New("boom") }

// TestWriteAtomicCopyError 原子写入时拷贝失败
func TestWriteAtomicCopyError(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir})
	if err := w.Write(context.Background(), "a.json", errReader{}); err == nil {
		t.Fatalf("expect copy error")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("temp files left %v", entries)
	}
}

// TestReaderWithCtxCancel reader 在读取前取消
func TestReaderWithCtxCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := readerWithCtx(ctx, strings.NewReader("data"))
	cancel()
	buf := make([]byte, 1)
	if _, err := r.Read(buf); err == nil {
		t.Fatalf("expect ctx error")
	}
}
