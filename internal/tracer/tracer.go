// Package tracer 将实时 call/return 事件流转换为限定作用域、去重后的直接调用边集合。
//
// - 同步：事件在宿主的单一控制流内逐条处理，每个事件摊还 O(1)（哈希去重、路径缓存）。
// - 透明：不合格事件（作用域外、非法函数名）既不入栈也不影响后续 caller 的选择。
// - 不失败：字段缺失只丢弃对应的边，追踪继续。
package tracer

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"sweflow/pkg/contract"
)

// Options 为 Tracer 的可选配置。
type Options struct {
	// BaseDir: 作用域根目录；空表示当前工作目录。
	BaseDir string
	// Lang: 函数名与扩展名规则；nil 表示 Python。
	Lang *Lang
}

// Tracer 维护逻辑调用栈与按首次出现顺序排列的去重边表。
// 非并发安全：仅由事件源的单一 goroutine 驱动。
type Tracer struct {
	base   string
	prefix string
	lang   *Lang

	stack []contract.CallFrame
	edges []contract.CallEdge
	seen  map[edgeKey]struct{}

	// 原始文件名 → 相对路径；空串表示不合格。
	rel map[string]string

	stopped bool
	dropped int
}

// edgeKey: 结构化去重键（caller 与 callee 的全部字段）。
type edgeKey struct {
	caller contract.CallFrame
	callee contract.CallFrame
}

// New 创建 Tracer；BaseDir 无法解析为绝对路径时返回错误。
func New(opts Options) (*Tracer, error) {
	t := &Tracer{
		lang: opts.Lang,
		seen: make(map[edgeKey]struct{}),
		rel:  make(map[string]string),
	}
	if t.lang == nil {
		t.lang = Python
	}
	if err := t.Configure(opts.BaseDir); err != nil {
		return nil, err
	}
	return t, nil
}

// Configure 设置作用域根目录（空表示当前工作目录），并清空路径缓存。
func (t *Tracer) Configure(baseDir string) error {
	if strings.TrimSpace(baseDir) == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		baseDir = wd
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return err
	}
	t.base = abs
	// 前缀包含分隔符，避免 /proj 与 /proj-other 互相命中
	t.prefix = abs
	if !strings.HasSuffix(abs, string(filepath.Separator)) {
		t.prefix = abs + string(filepath.Separator)
	}
	t.rel = make(map[string]string)
	return nil
}

// BaseDir 返回生效的作用域根目录。
func (t *Tracer) BaseDir() string { return t.base }

// resolve 返回 file 相对 base 的路径；不在作用域内或扩展名不符时 ok=false。
func (t *Tracer) resolve(file string) (string, bool) {
	if r, hit := t.rel[file]; hit {
		return r, r != ""
	}
	r := ""
	if file != "" {
		if abs, err := filepath.Abs(file); err == nil &&
			strings.HasPrefix(abs, t.prefix) && strings.HasSuffix(abs, t.lang.Ext) {
			r = contract.NormalizePath(abs[len(t.prefix):])
		}
	}
	t.rel[file] = r
	return r, r != ""
}

// Eligible 报告事件帧是否合格：文件位于 base 之下且扩展名匹配，函数名为合法非保留标识符。
func (t *Tracer) Eligible(file, fn string) bool {
	if !t.lang.IsFunction(fn) {
		return false
	}
	_, ok := t.resolve(file)
	return ok
}

// Handle 分发单个事件；可直接作为 EventSource 的 sink。
func (t *Tracer) Handle(ev contract.Event) {
	switch ev.Kind {
	case contract.EventCall:
		t.OnCall(ev.File, ev.Func, ev.Line)
	case contract.EventReturn:
		t.OnReturn(ev.File, ev.Func)
	}
}

// OnCall 处理 call 事件：入栈，并记录 (栈顶 → 被调) 的直接调用边。
// line 为进入被调函数时帧内的当前行，而非调用点行号。
func (t *Tracer) OnCall(file, fn string, line int) {
	if t.stopped || !t.lang.IsFunction(fn) {
		return
	}
	rel, ok := t.resolve(file)
	if !ok {
		return
	}
	callee := contract.CallFrame{File: rel, Line: line, Func: fn}
	var caller contract.CallFrame
	hasCaller := false
	if n := len(t.stack); n > 0 {
		caller = t.stack[n-1]
		hasCaller = true
	}
	t.stack = append(t.stack, callee)

	// 入口帧（栈空）没有 caller，不产生边
	if !hasCaller {
		return
	}
	if !caller.Complete() || !callee.Complete() {
		t.dropped++
		return
	}
	key := edgeKey{caller: caller, callee: callee}
	if _, dup := t.seen[key]; dup {
		return
	}
	t.seen[key] = struct{}{}
	c := caller
	t.edges = append(t.edges, contract.CallEdge{Caller: &c, Callee: callee})
}

// OnReturn 处理 return 事件：仅当栈顶函数名与返回函数一致时出栈；
// 否则保持不变（容忍从未入栈的帧返回）。
func (t *Tracer) OnReturn(file, fn string) {
	if t.stopped || !t.lang.IsFunction(fn) {
		return
	}
	if _, ok := t.resolve(file); !ok {
		return
	}
	n := len(t.stack)
	if n == 0 {
		return
	}
	if t.stack[n-1].Func == fn {
		t.stack = t.stack[:n-1]
	}
}

// Depth 返回当前逻辑栈深度。
func (t *Tracer) Depth() int { return len(t.stack) }

// Dropped 返回因字段缺失而丢弃的边数。
func (t *Tracer) Dropped() int { return t.dropped }

// Stop 停用追踪；之后的事件全部忽略。
func (t *Tracer) Stop() { t.stopped = true }

// Stopped 报告是否已停用。
func (t *Tracer) Stopped() bool { return t.stopped }

// Export 按首次出现顺序返回边表副本。
func (t *Tracer) Export() []contract.CallEdge {
	out := make([]contract.CallEdge, len(t.edges))
	copy(out, t.edges)
	return out
}

// Save 将边表以 JSON 数组（4 空格缩进）写出。
func (t *Tracer) Save(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	return enc.Encode(t.Export())
}
