package config

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON/YAML 使用 snake_case；未知字段在解析期失败。
type Config struct {
	ProjectRoot string `json:"project_root" yaml:"project_root"`
	OutputDir   string `json:"output_dir" yaml:"output_dir"`
	// MaxWorkers: nil 表示 CPU 核数。
	MaxWorkers *int `json:"max_workers" yaml:"max_workers"`
	// MaxTests: nil 表示不截断。
	MaxTests   *int   `json:"max_tests" yaml:"max_tests"`
	Random     *bool  `json:"random" yaml:"random"`
	RandomSeed *int64 `json:"random_seed" yaml:"random_seed"`
	// TimeoutSeconds: 单测超时（秒）。
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	TempDir        string `json:"temp_dir" yaml:"temp_dir"`
	// Python/HookCommand: 组件 options 未显式给出时注入的便捷默认。
	Python      string   `json:"python" yaml:"python"`
	HookCommand []string `json:"hook_command" yaml:"hook_command"`
	// Purge: 批次结束后清理项目内解释器缓存；nil 表示 true。
	Purge   *bool   `json:"purge" yaml:"purge"`
	Logging Logging `json:"logging" yaml:"logging"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components" yaml:"components"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options" yaml:"options"`
}

// Logging: 仅保留日志等级可配置；输出路径与轮转策略为固定默认。
type Logging struct {
	Level string `json:"level" yaml:"level"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Discovery string `json:"discovery" yaml:"discovery"`
	Runner    string `json:"runner" yaml:"runner"`
	Writer    string `json:"writer" yaml:"writer"`
	// Events: hook 子命令使用的事件源名称。
	Events string `json:"events" yaml:"events"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Discovery json.RawMessage `json:"discovery,omitempty" yaml:"-"`
	Runner    json.RawMessage `json:"runner,omitempty" yaml:"-"`
	Writer    json.RawMessage `json:"writer,omitempty" yaml:"-"`
	Events    json.RawMessage `json:"events,omitempty" yaml:"-"`
}

// UnmarshalYAML 将 YAML 子树转换为 JSON，交由工厂按 JSON 严格解码。
func (o *Options) UnmarshalYAML(n *yaml.Node) error {
	var m map[string]any
	if err := n.Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		if v == nil {
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("config: options.%s: %w", k, err)
		}
		switch k {
		case "discovery":
			o.Discovery = b
		case "runner":
			o.Runner = b
		case "writer":
			o.Writer = b
		case "events":
			o.Events = b
		default:
			return fmt.Errorf("config: unknown options key %q", k)
		}
	}
	return nil
}

// MarshalYAML 将原样 JSON 还原为 YAML 映射（用于模板输出）。
func (o Options) MarshalYAML() (any, error) {
	out := map[string]any{}
	for k, raw := range map[string]json.RawMessage{
		"discovery": o.Discovery,
		"runner":    o.Runner,
		"writer":    o.Writer,
		"events":    o.Events,
	} {
		if len(raw) == 0 {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("config: options.%s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}
