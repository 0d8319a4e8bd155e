package diag

import (
    "fmt"
    "io"
    "os"
    "strings"
    "sync"
    "time"

    "github.com/mattn/go-isatty"
)

// Terminal: 终端信息提示（非日志）。
// - 输出到提供的 io.Writer（默认建议 stderr）。
// - TTY: 单行 \r 覆盖；非 TTY: 每个完成的测试打印一行。
// - 并发安全；写失败后进入禁用态为 no-op。
type Terminal struct {
    w       io.Writer
    enabled bool
    isTTY   bool

    // 运行期最小状态
    workers  int
    total    int
    done     int
    byKind   map[string]int
    runStart time.Time

    // 输出控制
    lastLen   int
    lastFlush time.Time

    mu sync.Mutex
}

// 进程级终端（可选，全局设置后供 pipeline 旁路调用）。
var (
    termMu sync.RWMutex
    term   *Terminal
)

// SetTerminal 设置全局终端指针（nil 可清除）。
func SetTerminal(t *Terminal) { termMu.Lock(); term = t; termMu.Unlock() }

// GetTerminal 返回全局终端（可能为 nil）。
func GetTerminal() *Terminal { termMu.RLock(); defer termMu.RUnlock(); return term }

// NewTerminal 构造终端提示器。
// enabled=false 时总是 no-op。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
    if w == nil {
        w = os.Stderr
    }
    t := &Terminal{w: w, enabled: enabled, byKind: map[string]int{}}
    // CI 环境视为非 TTY
    if os.Getenv("CI") != "" {
        t.isTTY = false
    } else if f, ok := w.(*os.File); ok {
        t.isTTY = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
    }
    return t
}

// RunStart: 记录运行上下文（并发、测试总数）。
func (t *Terminal) RunStart(workers, total int) {
    if t == nil { return }
    t.mu.Lock()
    defer t.mu.Unlock()
    if !t.enabled { return }
    t.workers = workers
    t.total = total
    t.done = 0
    t.byKind = map[string]int{}
    t.runStart = time.Now()
    t.println(fmt.Sprintf("[run] 并发=%d | 测试=%d", workers, total))
}

// TestFinish: 单个测试完成（按完成顺序调用）。
// 非 TTY 输出 "[k/N] <kind> <id>"；TTY 单行覆盖（≥100ms 节流，最后一个立即刷新）。
func (t *Terminal) TestFinish(id, kind string) {
    if t == nil { return }
    t.mu.Lock()
    defer t.mu.Unlock()
    if !t.enabled { return }
    t.done++
    t.byKind[kind]++
    line := fmt.Sprintf("[%d/%d] %s %s", t.done, t.total, kind, safe(id))
    if !t.isTTY {
        t.println(line)
        return
    }
    now := time.Now()
    if t.done < t.total && now.Sub(t.lastFlush) < 100*time.Millisecond {
        return
    }
    t.lastFlush = now
    t.printInline(shorten(line, 120) + " | 用时 " + formatSince(t.runStart))
}

// RunFinish: 结束总览。
func (t *Terminal) RunFinish(ok bool, dur time.Duration) {
    if t == nil { return }
    t.mu.Lock()
    defer t.mu.Unlock()
    if !t.enabled { return }
    tag := "ok"
    if !ok {
        tag = "fail"
    }
    if t.isTTY && t.lastLen > 0 {
        t.printInline("")
    }
    t.println(fmt.Sprintf("[%s] 全部完成 | 测试 %d | traced %d | not_passed %d | failed %d | 总用时 %s",
        tag, t.done, t.byKind["traced"], t.byKind["not_passed"], t.byKind["failed"], formatDur(dur)))
}

// 内部输出工具
func (t *Terminal) println(s string) {
    if t == nil || !t.enabled { return }
    if t.isTTY && t.lastLen > 0 {
        // 换行前收尾覆盖行
        s = "\n" + s
    }
    if _, err := io.WriteString(t.w, s+"\n"); err != nil {
        // 写失败即禁用
        t.enabled = false
    }
    t.lastLen = 0
}

func (t *Terminal) printInline(s string) {
    if t == nil || !t.enabled { return }
    // 组装：\r + 内容 + 清尾空格
    pad := 0
    if l := visLen(s); t.lastLen > l {
        pad = t.lastLen - l
    }
    var b strings.Builder
    b.WriteByte('\r')
    b.WriteString(s)
    if pad > 0 {
        b.WriteString(strings.Repeat(" ", pad))
    }
    if _, err := io.WriteString(t.w, b.String()); err != nil {
        t.enabled = false
        return
    }
    t.lastLen = visLen(s)
}

// shorten: 按可见宽度截断（保留尾部，测试 id 的函数名在末尾）。
func shorten(s string, max int) string {
    if max <= 0 { return "" }
    if visLen(s) <= max { return s }
    rs := []rune(s)
    return "…" + string(rs[len(rs)-(max-1):])
}

func visLen(s string) int { return len([]rune(s)) }

func safe(s string) string {
    // 避免换行等控制字符污染终端
    s = strings.ReplaceAll(s, "\n", " ")
    s = strings.ReplaceAll(s, "\r", " ")
    return s
}

func formatSince(t0 time.Time) string { return formatDur(time.Since(t0)) }

func formatDur(d time.Duration) string {
    if d < time.Second {
        ms := d.Milliseconds()
        if ms <= 0 { ms = 0 }
        return fmt.Sprintf("%dms", ms)
    }
    // 秒，保留 1 位小数
    s := float64(d.Milliseconds()) / 1000.0
    return fmt.Sprintf("%.1fs", s)
}
