package contract

import (
	"path"
	"strings"
)

// NormalizePath 规范化路径，统一为跨平台稳定的正斜杠形式。
// 规则：
// - 使用正斜杠分隔符
// - 清理多余分隔符与路径片段（.、..）
// - 保留相对/绝对语义，不做隐式绝对化
func NormalizePath(p string) string {
	// 手动将所有反斜杠转为正斜杠，确保跨平台一致性
	s := strings.ReplaceAll(p, "\\", "/")
	// path.Clean 在 POSIX 语义下清理路径（此处已是 '/' 分隔）
	return path.Clean(s)
}
