package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	cfgpkg "sweflow/internal/config"
)

func newInitCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [dir]",
		Short: "在目录中生成 sweflow.yaml 与 .env 模板（已存在则报错，不覆盖）",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				dir = strings.TrimSpace(args[0])
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return exitf(exitConfig, "生成默认配置失败: %v", err)
			}
			b, err := cfgpkg.RenderYAML(cfgpkg.DefaultTemplateConfig())
			if err != nil {
				return exitf(exitConfig, "生成默认配置失败: %v", err)
			}
			path := filepath.Join(dir, cfgpkg.TemplateName)
			if err := writeExclusive(path, b); err != nil {
				return exitf(exitConfig, "生成默认配置失败: %v", err)
			}
			if err := writeDotEnv(filepath.Join(dir, ".env")); err != nil {
				fprintf(g.stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
			}
			fprintf(g.stdout, "%s\n", path)
			return nil
		},
	}
}

// writeExclusive 创建并写入文件；文件已存在时返回错误。
func writeExclusive(path string, b []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(b)
	return err
}

// writeDotEnv 生成 .env 模板（若文件已存在则跳过）。仅创建文件；不覆盖，不合并。
func writeDotEnv(path string) error {
	var b strings.Builder
	b.WriteString("# sweflow .env 模板（由 init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > 配置文件\n")
	b.WriteString("# 空值表示未设置。\n\n")

	b.WriteString("# 配置来源（可二选一）\n")
	b.WriteString("SWEFLOW_CONFIG_FILE=\n")
	b.WriteString("SWEFLOW_CONFIG_JSON=\n\n")

	b.WriteString("# 运行参数覆盖\n")
	for _, k := range []string{"PROJECT_ROOT", "OUTPUT_DIR", "MAX_WORKERS", "MAX_TESTS", "RANDOM", "RANDOM_SEED",
		"TIMEOUT_SECONDS", "TEMP_DIR", "PYTHON", "HOOK_COMMAND", "PURGE", "LOG_LEVEL"} {
		b.WriteString(cfgpkg.EnvPrefix + k + "=\n")
	}
	b.WriteString("\n# 组件选择与原样 JSON 选项\n")
	for _, c := range []string{"DISCOVERY", "RUNNER", "WRITER", "EVENTS"} {
		b.WriteString(cfgpkg.EnvPrefix + "COMPONENTS_" + c + "=\n")
	}
	for _, c := range []string{"DISCOVERY", "RUNNER", "WRITER", "EVENTS"} {
		b.WriteString(cfgpkg.EnvPrefix + "OPTIONS_" + c + "_JSON=\n")
	}

	err := writeExclusive(path, []byte(b.String()))
	if os.IsExist(err) {
		return nil
	}
	return err
}
