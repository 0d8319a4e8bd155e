package contract

import "encoding/json"

// TestID: 规范化后的测试标识（已去除参数化后缀），一个 TestID 对应一个测试函数。
type TestID string

// CallFrame: 调用栈帧（相对 base 目录的源文件路径、函数名、行号）。
// 约束：Line 为 1 起始；0 表示缺失。
type CallFrame struct {
	File string `json:"filepath"`
	Line int    `json:"lineno"`
	Func string `json:"func_name"`
}

// Complete 报告帧的全部字段是否就绪。
func (f CallFrame) Complete() bool {
	return f.File != "" && f.Func != "" && f.Line > 0
}

// CallEdge: 直接调用关系 caller→callee。
// Caller 为 nil 表示程序入口（栈空）；此类边不会被导出，但保留该形态以便解码外部工件。
type CallEdge struct {
	Caller *CallFrame `json:"caller"`
	Callee CallFrame  `json:"callee"`
}

// nullFrame: caller 缺失时的序列化形态（三个字段均为 null）。
type nullFrame struct {
	File *string `json:"filepath"`
	Line *int    `json:"lineno"`
	Func *string `json:"func_name"`
}

// MarshalJSON 保证 caller 缺失时输出 {"filepath":null,"lineno":null,"func_name":null}。
func (e CallEdge) MarshalJSON() ([]byte, error) {
	type wire struct {
		Caller any       `json:"caller"`
		Callee CallFrame `json:"callee"`
	}
	w := wire{Callee: e.Callee}
	if e.Caller != nil {
		w.Caller = *e.Caller
	} else {
		w.Caller = nullFrame{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON 将全 null 的 caller 还原为 nil。
func (e *CallEdge) UnmarshalJSON(b []byte) error {
	var w struct {
		Caller *nullFrame `json:"caller"`
		Callee CallFrame  `json:"callee"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	e.Callee = w.Callee
	e.Caller = nil
	if w.Caller != nil && (w.Caller.File != nil || w.Caller.Line != nil || w.Caller.Func != nil) {
		f := CallFrame{}
		if w.Caller.File != nil {
			f.File = *w.Caller.File
		}
		if w.Caller.Line != nil {
			f.Line = *w.Caller.Line
		}
		if w.Caller.Func != nil {
			f.Func = *w.Caller.Func
		}
		e.Caller = &f
	}
	return nil
}

// TraceRecord: 单个测试的调用关系记录；创建后只读。
type TraceRecord struct {
	TestID        TestID     `json:"test-id"`
	TestFuncID    string     `json:"test-func-id"`
	CallRelations []CallEdge `json:"call-relations"`
}

// Corpus: 本批次全部 TraceRecord（顺序由完成顺序决定，不保证稳定）。
type Corpus []TraceRecord
