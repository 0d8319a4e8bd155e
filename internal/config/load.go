package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix: 环境变量覆盖前缀。
const EnvPrefix = "SWEFLOW_"

// DefaultSeed: 洗牌默认种子。
const DefaultSeed int64 = 42

// Defaults 返回带有安全默认值的 Config 雏形。
// 注意：ProjectRoot/OutputDir 不设默认（必须由文件/ENV/CLI 提供）。
func Defaults() Config {
	seed := DefaultSeed
	return Config{
		RandomSeed:     &seed,
		TimeoutSeconds: 120,
		Components: Components{
			Discovery: "pytest",
			Runner:    "hooked",
			Writer:    "fs",
			Events:    "python",
		},
	}
}

// LoadFile 按扩展名选择解析器：.yaml/.yml 走 YAML，其余走 JSON。
func LoadFile(path string) (Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(path, nil)
	default:
		return LoadJSON(path, nil)
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	r, closeFn, err := source(path, raw)
	if err != nil {
		return cfg, err
	}
	defer closeFn()
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadYAML 与 LoadJSON 对称：KnownFields 拒绝未知字段。
func LoadYAML(path string, raw []byte) (Config, error) {
	var cfg Config
	r, closeFn, err := source(path, raw)
	if err != nil {
		return cfg, err
	}
	defer closeFn()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// 空文档等价于空配置
			return Config{}, nil
		}
		return cfg, err
	}
	return cfg, nil
}

func source(path string, raw []byte) (io.Reader, func(), error) {
	switch {
	case len(raw) > 0:
		return bytes.NewReader(raw), func() {}, nil
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, err
		}
		return f, func() { _ = f.Close() }, nil
	default:
		return nil, nil, errors.New("no config source provided")
	}
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。指针字段以 nil 表示未覆盖。
func Merge(base, over Config) Config {
	out := base
	if s := strings.TrimSpace(over.ProjectRoot); s != "" {
		out.ProjectRoot = s
	}
	if s := strings.TrimSpace(over.OutputDir); s != "" {
		out.OutputDir = s
	}
	if over.MaxWorkers != nil {
		v := *over.MaxWorkers
		out.MaxWorkers = &v
	}
	if over.MaxTests != nil {
		v := *over.MaxTests
		out.MaxTests = &v
	}
	if over.Random != nil {
		v := *over.Random
		out.Random = &v
	}
	if over.RandomSeed != nil {
		v := *over.RandomSeed
		out.RandomSeed = &v
	}
	if over.TimeoutSeconds != 0 {
		out.TimeoutSeconds = over.TimeoutSeconds
	}
	if s := strings.TrimSpace(over.TempDir); s != "" {
		out.TempDir = s
	}
	if s := strings.TrimSpace(over.Python); s != "" {
		out.Python = s
	}
	if len(over.HookCommand) > 0 {
		out.HookCommand = cloneStrings(over.HookCommand)
	}
	if over.Purge != nil {
		v := *over.Purge
		out.Purge = &v
	}
	// Logging（仅 level）
	if strings.TrimSpace(over.Logging.Level) != "" {
		out.Logging.Level = strings.TrimSpace(over.Logging.Level)
	}

	// 组件名（空不覆盖）
	if over.Components.Discovery != "" {
		out.Components.Discovery = over.Components.Discovery
	}
	if over.Components.Runner != "" {
		out.Components.Runner = over.Components.Runner
	}
	if over.Components.Writer != "" {
		out.Components.Writer = over.Components.Writer
	}
	if over.Components.Events != "" {
		out.Components.Events = over.Components.Events
	}

	// Options（完整替换对应键）
	if len(over.Options.Discovery) > 0 {
		out.Options.Discovery = cloneRaw(over.Options.Discovery)
	}
	if len(over.Options.Runner) > 0 {
		out.Options.Runner = cloneRaw(over.Options.Runner)
	}
	if len(over.Options.Writer) > 0 {
		out.Options.Writer = cloneRaw(over.Options.Writer)
	}
	if len(over.Options.Events) > 0 {
		out.Options.Events = cloneRaw(over.Options.Events)
	}
	return out
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 SWEFLOW_；集合之外的键忽略；数值非法时返回错误。
// 支持：PROJECT_ROOT, OUTPUT_DIR, MAX_WORKERS, MAX_TESTS, RANDOM, RANDOM_SEED, TIMEOUT_SECONDS,
// TEMP_DIR, PYTHON, HOOK_COMMAND, PURGE, LOG_LEVEL, COMPONENTS_*, OPTIONS_<COMPONENT>_JSON
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key := strings.TrimPrefix(kv[:eq], EnvPrefix)
		val := strings.TrimSpace(kv[eq+1:])
		if val == "" {
			// 空值视为未设置，避免 .env 模板中的空键清空配置
			continue
		}
		switch key {
		case "PROJECT_ROOT":
			over.ProjectRoot = val
		case "OUTPUT_DIR":
			over.OutputDir = val
		case "MAX_WORKERS":
			v, err := IntOrNone(val)
			if err != nil {
				return over, fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			over.MaxWorkers = v
		case "MAX_TESTS":
			v, err := IntOrNone(val)
			if err != nil {
				return over, fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			over.MaxTests = v
		case "RANDOM":
			b := TrueOrFalse(val)
			over.Random = &b
		case "RANDOM_SEED":
			v, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return over, fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			over.RandomSeed = &v
		case "TIMEOUT_SECONDS":
			v, err := strconv.Atoi(val)
			if err != nil {
				return over, fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			over.TimeoutSeconds = v
		case "TEMP_DIR":
			over.TempDir = val
		case "PYTHON":
			over.Python = val
		case "HOOK_COMMAND":
			over.HookCommand = strings.Fields(val)
		case "PURGE":
			b := TrueOrFalse(val)
			over.Purge = &b
		case "LOG_LEVEL":
			over.Logging.Level = val
		case "COMPONENTS_DISCOVERY":
			over.Components.Discovery = val
		case "COMPONENTS_RUNNER":
			over.Components.Runner = val
		case "COMPONENTS_WRITER":
			over.Components.Writer = val
		case "COMPONENTS_EVENTS":
			over.Components.Events = val
		case "OPTIONS_DISCOVERY_JSON":
			over.Options.Discovery = json.RawMessage(val)
		case "OPTIONS_RUNNER_JSON":
			over.Options.Runner = json.RawMessage(val)
		case "OPTIONS_WRITER_JSON":
			over.Options.Writer = json.RawMessage(val)
		case "OPTIONS_EVENTS_JSON":
			over.Options.Events = json.RawMessage(val)
		}
	}
	return over, nil
}

// IntOrNone 解析整数；"none"/"null"（任意大小写）表示未设置。
func IntOrNone(s string) (*int, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "none", "null":
		return nil, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// TrueOrFalse 仅 true/True/TRUE 为真，其余一律为假。
func TrueOrFalse(s string) bool {
	switch strings.TrimSpace(s) {
	case "true", "True", "TRUE":
		return true
	}
	return false
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
