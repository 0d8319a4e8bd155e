// Package replay 从录制的事件日志重放 call/return 事件（离线重新追踪）。
package replay

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"sweflow/pkg/contract"
	"sweflow/plugins/events/eventlog"
)

// Options: 最小必要选项。
type Options struct {
	// Path: 事件日志路径；空表示使用 Program.Module 作为路径。
	Path string `json:"path,omitempty"`
	// ExitCode: 重放结束后报告的退出码。
	ExitCode int `json:"exit_code,omitempty"`
}

// Source 为文件重放事件源。
type Source struct {
	path string
	exit int

	stats eventlog.Stats
}

// New 创建事件源。
func New(opts *Options) *Source {
	s := &Source{}
	if opts != nil {
		s.path = opts.Path
		s.exit = opts.ExitCode
	}
	return s
}

var _ contract.EventSource = (*Source)(nil)

// Stats 返回最近一次 Run 的事件计数。
func (s *Source) Stats() eventlog.Stats { return s.stats }

// Run 逐行读取事件日志并同步交给 sink。
func (s *Source) Run(ctx context.Context, p contract.Program, sink func(contract.Event)) (int, error) {
	path := s.path
	if strings.TrimSpace(path) == "" {
		path = p.Module
	}
	if strings.TrimSpace(path) == "" {
		return -1, fmt.Errorf("replay: empty path: %w", contract.ErrInvalidInput)
	}
	f, err := os.Open(path)
	if err != nil {
		return -1, err
	}
	defer f.Close()
	st, err := eventlog.Scan(&ctxReader{ctx: ctx, r: f}, nil, sink)
	s.stats = st
	if err != nil {
		return -1, err
	}
	return s.exit, nil
}

// ctxReader: 在每次 Read 前检查 ctx 是否已取消。
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	select {
	case <-cr.ctx.Done():
		return 0, cr.ctx.Err()
	default:
	}
	return cr.r.Read(p)
}
