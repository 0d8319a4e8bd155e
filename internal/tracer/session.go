package tracer

import (
	"context"
	"errors"

	"sweflow/pkg/contract"
)

// ErrSessionUsed: 同一 Session 只能安装一次。
var ErrSessionUsed = errors.New("tracer: session already used")

// Session 是一次显式的插桩会话：Install → 运行目标程序 → Uninstall。
// Tracer 的生命周期与会话一致：每次执行新建，导出后丢弃。
type Session struct {
	tr  *Tracer
	src contract.EventSource

	installed bool
	done      bool
}

// NewSession 绑定 Tracer 与事件源。
func NewSession(tr *Tracer, src contract.EventSource) *Session {
	return &Session{tr: tr, src: src}
}

// Tracer 返回会话持有的 Tracer。
func (s *Session) Tracer() *Tracer { return s.tr }

// Run 在会话内运行 p：事件同步交给 Tracer；无论目标程序如何结束，返回前都会停用 Tracer。
func (s *Session) Run(ctx context.Context, p contract.Program) (exitCode int, err error) {
	if s.installed || s.done {
		return -1, ErrSessionUsed
	}
	s.installed = true
	defer s.uninstall()
	return s.src.Run(ctx, p, s.tr.Handle)
}

func (s *Session) uninstall() {
	s.tr.Stop()
	s.installed = false
	s.done = true
}
