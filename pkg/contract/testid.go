package contract

import (
	"fmt"
	"regexp"
	"strings"
)

// paramSuffix: 参数化后缀，例如 "test_f[1-2]" 中的 "[1-2]"（非贪婪）。
var paramSuffix = regexp.MustCompile(`\[.*?\]`)

// CanonicalTestID 去除节点标识中的全部参数化片段。
//
//	"mod::test_f[1-2]" -> "mod::test_f"
func CanonicalTestID(nodeID string) TestID {
	return TestID(paramSuffix.ReplaceAllString(nodeID, ""))
}

// TestFuncID 由报告中的 nodeid 与 0 起始行号构造 "<file>:<line>:<func>"（行号转为 1 起始）。
// file 取首个 "::" 之前的部分，func 取最后一个 "::" 之后的部分。
func TestFuncID(nodeID string, lineno0 int) string {
	node := string(CanonicalTestID(nodeID))
	file := node
	if i := strings.Index(node, "::"); i >= 0 {
		file = node[:i]
	}
	fn := node
	if i := strings.LastIndex(node, "::"); i >= 0 {
		fn = node[i+2:]
	}
	return fmt.Sprintf("%s:%d:%s", file, lineno0+1, fn)
}
