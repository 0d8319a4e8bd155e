package contract

import "context"

// EventKind: 解释器层事件类型（仅关心 call/return）。
type EventKind uint8

const (
	EventCall EventKind = iota + 1
	EventReturn
)

func (k EventKind) String() string {
	switch k {
	case EventCall:
		return "call"
	case EventReturn:
		return "return"
	default:
		return "unknown"
	}
}

// Event: 一次 call/return 事件。File 为事件源报告的原始路径（可能为相对路径），
// Line 为事件发生时帧内的当前行（call 事件即被调函数入口行）。
type Event struct {
	Kind EventKind
	File string
	Func string
	Line int
}

// Program: 在事件源下运行的目标程序。
type Program struct {
	// Module: 入口模块名（例如 "pytest"）。
	Module string
	// Args: 原样透传给目标程序的参数。
	Args []string
	// Dir: 工作目录；空表示继承。
	Dir string
	// Env: 追加的环境变量（KEY=VALUE），叠加在当前进程环境之上。
	Env []string
}

// EventSource: 调用/返回事件原语（替代解释器内建的 profile 钩子）。
// 约束：
//  1. sink 在单一 goroutine 中按事件发生顺序同步调用；
//  2. Run 返回目标程序的退出码；目标程序非零退出不视为 error；
//  3. 仅当事件源自身无法启动/读取时返回 error；
//  4. ctx 取消时应尽快终止目标程序。
type EventSource interface {
	Run(ctx context.Context, p Program, sink func(Event)) (exitCode int, err error)
}
