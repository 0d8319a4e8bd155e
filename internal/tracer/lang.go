package tracer

import "unicode"

// Lang 描述被追踪语言的函数名规则：合法标识符且非保留字。
type Lang struct {
	Name string
	// Ext: 追踪的源文件扩展名（含点）。
	Ext      string
	keywords map[string]struct{}
}

// NewLang 构造语言描述；keywords 为保留字全集。
func NewLang(name, ext string, keywords []string) *Lang {
	kw := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		kw[k] = struct{}{}
	}
	return &Lang{Name: name, Ext: ext, keywords: kw}
}

// Python: Python 3 硬关键字（keyword.kwlist）。
var Python = NewLang("python", ".py", []string{
	"False", "None", "True", "and", "as", "assert", "async", "await",
	"break", "class", "continue", "def", "del", "elif", "else", "except",
	"finally", "for", "from", "global", "if", "import", "in", "is",
	"lambda", "nonlocal", "not", "or", "pass", "raise", "return", "try",
	"while", "with", "yield",
})

// IsKeyword 报告 name 是否为保留字。
func (l *Lang) IsKeyword(name string) bool {
	_, ok := l.keywords[name]
	return ok
}

// IsFunction 报告 name 是否可作为被追踪的函数名。
// "<module>"、"<lambda>"、"<listcomp>" 等伪名称不是合法标识符，因此被排除。
func (l *Lang) IsFunction(name string) bool {
	return isIdentifier(name) && !l.IsKeyword(name)
}

// isIdentifier: 首字符为字母或下划线，其余为字母、数字、下划线或组合标记。
func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || unicode.IsLetter(r):
		case i > 0 && (unicode.IsDigit(r) || unicode.In(r, unicode.Mn, unicode.Mc, unicode.Pc, unicode.Nd)):
		default:
			return false
		}
	}
	return true
}
