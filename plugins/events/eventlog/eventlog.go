// Package eventlog 定义 call/return 事件的行格式，供各事件源共享：
//
//	c\t<file>\t<func>\t<line>
//	r\t<file>\t<func>\t<line>
//
// file 可能包含制表符，因此 func 与 line 从行尾解析。
package eventlog

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"strings"

	"sweflow/pkg/contract"
)

// Parse 解析单行；格式不符时 ok=false。
func Parse(line string) (ev contract.Event, ok bool) {
	line = strings.TrimRight(line, "\r\n")
	kind, rest, found := strings.Cut(line, "\t")
	if !found {
		return ev, false
	}
	switch kind {
	case "c":
		ev.Kind = contract.EventCall
	case "r":
		ev.Kind = contract.EventReturn
	default:
		return ev, false
	}
	i := strings.LastIndexByte(rest, '\t')
	if i < 0 {
		return ev, false
	}
	n, err := strconv.Atoi(rest[i+1:])
	if err != nil || n < 0 {
		return ev, false
	}
	ev.Line = n
	rest = rest[:i]
	j := strings.LastIndexByte(rest, '\t')
	if j < 0 {
		return ev, false
	}
	ev.File, ev.Func = rest[:j], rest[j+1:]
	return ev, true
}

// Append 以行格式追加 ev（含换行）。
func Append(dst []byte, ev contract.Event) []byte {
	switch ev.Kind {
	case contract.EventCall:
		dst = append(dst, 'c')
	case contract.EventReturn:
		dst = append(dst, 'r')
	default:
		dst = append(dst, '?')
	}
	dst = append(dst, '\t')
	dst = append(dst, ev.File...)
	dst = append(dst, '\t')
	dst = append(dst, ev.Func...)
	dst = append(dst, '\t')
	dst = strconv.AppendInt(dst, int64(ev.Line), 10)
	return append(dst, '\n')
}

// Stats: 一次扫描的计数。
type Stats struct {
	Events  int
	Skipped int
}

// Scan 逐行读取 r 并同步调用 sink；格式不符的行计入 Skipped 后跳过。
// tee 非空时原样复制每一行（用于录制）。
func Scan(r io.Reader, tee io.Writer, sink func(contract.Event)) (Stats, error) {
	var st Stats
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			if tee != nil {
				if _, werr := io.WriteString(tee, line); werr != nil {
					return st, werr
				}
			}
			if ev, ok := Parse(line); ok {
				st.Events++
				sink(ev)
			} else if strings.TrimSpace(line) != "" {
				st.Skipped++
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return st, nil
			}
			return st, err
		}
	}
}
