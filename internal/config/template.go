package config

import (
	"bytes"
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// TemplateName: init-config 生成的配置文件名。
const TemplateName = "sweflow.yaml"

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 项目根为当前目录，语料输出到 ./out；
// - 并发与截断留空（分别表示 CPU 核数与不截断）；
// - 选项给出全部键及安全中性默认值。
func DefaultTemplateConfig() Config {
	d := Defaults()
	random := false
	purge := true
	cfg := Config{
		ProjectRoot:    ".",
		OutputDir:      "out",
		Random:         &random,
		RandomSeed:     d.RandomSeed,
		TimeoutSeconds: d.TimeoutSeconds,
		Python:         "python3",
		Purge:          &purge,
		Logging:        Logging{Level: "info"},
		Components:     d.Components,
	}
	cfg.Options.Discovery = json.RawMessage(`{"report_name": "tests-info.json"}`)
	cfg.Options.Runner = json.RawMessage(`{"keep_output": 4096}`)
	cfg.Options.Writer = json.RawMessage(`{
  "atomic": true,
  "flat": true,
  "validate_json": true,
  "perm_file": 0,
  "perm_dir": 0,
  "buf_size": 65536
}`)
	// python 事件源的其余键（record、kill_grace）按需填写
	cfg.Options.Events = json.RawMessage(`{}`)
	return cfg
}

// RenderYAML 以 2 空格缩进输出 YAML 配置。
func RenderYAML(cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("# sweflow 配置（优先级：CLI > ENV(SWEFLOW_*, .env) > 本文件 > 默认值）\n")
	buf.WriteString("# max_workers/max_tests 为 null 时分别表示 CPU 核数与不截断\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
