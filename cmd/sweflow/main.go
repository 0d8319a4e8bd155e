package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"sweflow/internal/diag"
	"sweflow/pkg/contract"
)

// 退出码：0 成功；1 运行期失败；3 配置错误。hook 子命令透传被追踪程序的退出码。
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 3
)

func main() {
	os.Exit(execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// exitError 携带退出码穿过 cobra；err 为 nil 时不打印。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitf(code int, format string, a ...any) error {
	return &exitError{code: code, err: fmt.Errorf(format, a...)}
}

// globals 为全部子命令共享的旗标。
type globals struct {
	config      string
	logLevel    string
	metricsFile string
	status      bool
	corrID      string
	stdout      io.Writer
	stderr      io.Writer
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	g := &globals{corrID: uuid.NewString(), stdout: stdout, stderr: stderr}
	root := newRootCmd(g)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fprintf(stderr, "%v\n", ee.err)
		}
		return ee.code
	}
	// 旗标/子命令解析错误视为配置错误
	fprintf(stderr, "%v\n", err)
	return exitConfig
}

func newRootCmd(g *globals) *cobra.Command {
	root := &cobra.Command{
		Use:           "sweflow",
		Short:         "为 Python 项目的单元测试逐个采集动态调用图",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// 在任何 ENV 读取前加载工作目录下的 .env（不覆盖已有 ENV）
			if err := loadDotEnv(".env"); err != nil {
				return exitf(exitConfig, ".env 解析失败: %v", err)
			}
			return nil
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.config, "config", "", "配置文件路径（.yaml/.yml/.json）；缺省读取 ./sweflow.yaml（若存在）")
	pf.StringVar(&g.logLevel, "log-level", "", "日志等级 debug|info|warn|error（覆盖配置）")
	pf.StringVar(&g.metricsFile, "metrics-file", "", "退出时以 Prometheus 文本格式写出指标")
	pf.BoolVar(&g.status, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 逐行输出")

	root.AddCommand(newRunCmd(g), newCollectCmd(g), newHookCmd(g), newInitCmd(g))
	return root
}

// writeMetrics 在设置了 --metrics-file 时写出指标；失败仅提示。
func (g *globals) writeMetrics() {
	if strings.TrimSpace(g.metricsFile) == "" {
		return
	}
	if err := diag.WriteMetrics(g.metricsFile); err != nil {
		fprintf(g.stderr, "指标写出失败: %v\n", err)
	}
}

// printDiagnostics 输出错误链上携带的子进程诊断信息。
func printDiagnostics(w io.Writer, err error) {
	var d contract.Diagnosed
	if errors.As(err, &d) {
		if s := strings.TrimSpace(d.Diagnostics()); s != "" {
			fprintf(w, "%s\n", s)
		}
	}
}

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func dumpConfig(w io.Writer, c any) {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return
	}
	fprintf(w, "有效配置:\n%s\n", b)
}

// loadDotEnv 读取简单的 .env 文件格式并注入进程环境。
// 规则：
// - 忽略不存在的文件；无法读取时返回错误。
// - 跳过空行与以 # 开头的行；支持可选的前缀 "export ".
// - 仅按首个 '=' 分割；key 与 value 去首尾空白；成对的单/双引号被去除，双引号内处理 \n/\t/\\/\" 转义。
// - 不覆盖已存在的环境变量（保持系统/调用者优先）。
func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, val, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		val = unquote(strings.TrimSpace(val))
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return s.Err()
}

func unquote(val string) string {
	if len(val) < 2 {
		return val
	}
	q := val[0]
	if (q != '\'' && q != '"') || val[len(val)-1] != q {
		return val
	}
	val = val[1 : len(val)-1]
	if q == '"' {
		val = strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\r`, "\r", `\"`, `"`, `\\`, `\`).Replace(val)
	}
	return val
}

// preflightCheckOutputDir: 启动前检查输出目录可写性。
// - 目录已存在：尝试创建并删除临时文件。
// - 目录不存在：检查父目录可写性（尝试在父目录创建并删除临时目录）。
func preflightCheckOutputDir(dir string) error {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil
	}
	if st, err := os.Stat(dir); err == nil && st.IsDir() {
		f, err := os.CreateTemp(dir, ".wcheck-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		_ = os.Remove(name)
		return nil
	} else if err == nil {
		return fmt.Errorf("路径存在但不是目录: %s", dir)
	} else if !os.IsNotExist(err) {
		return err
	}
	parent := filepath.Dir(filepath.Clean(dir))
	for {
		pst, err := os.Stat(parent)
		if err == nil {
			if !pst.IsDir() {
				return fmt.Errorf("父路径不是目录: %s", parent)
			}
			break
		}
		if !os.IsNotExist(err) {
			return err
		}
		next := filepath.Dir(parent)
		if next == parent {
			return fmt.Errorf("无法确定父目录: %s", dir)
		}
		parent = next
	}
	tmpd, err := os.MkdirTemp(parent, ".wcheck-*")
	if err != nil {
		return err
	}
	_ = os.RemoveAll(tmpd)
	return nil
}
