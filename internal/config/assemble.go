package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"sweflow/internal/pipeline"
	"sweflow/pkg/contract"
	"sweflow/pkg/registry"
)

// Validate 对最小必要边界做静态校验；任何一项失败都在开始工作前返回。
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.ProjectRoot) == "" {
		return errors.New("config: project_root not set")
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		return errors.New("config: output_dir not set")
	}
	if cfg.MaxWorkers != nil && *cfg.MaxWorkers < 1 {
		return errors.New("config: max_workers must be >= 1")
	}
	if cfg.MaxTests != nil && *cfg.MaxTests < 0 {
		return errors.New("config: max_tests must be >= 0")
	}
	if cfg.TimeoutSeconds <= 0 {
		return errors.New("config: timeout_seconds must be > 0")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown logging level %q", cfg.Logging.Level)
	}
	// 组件名若为空，使用默认名（由 Defaults() 提供）。此处只要最终有值即可。
	d := Defaults().Components
	if name := effName(cfg.Components.Discovery, d.Discovery); registry.Discovery[name] == nil {
		return fmt.Errorf("config: discovery %q not registered", name)
	}
	if name := effName(cfg.Components.Runner, d.Runner); registry.Runner[name] == nil {
		return fmt.Errorf("config: runner %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, d.Writer); registry.Writer[name] == nil {
		return fmt.Errorf("config: writer %q not registered", name)
	}
	if name := effName(cfg.Components.Events, d.Events); registry.Events[name] == nil {
		return fmt.Errorf("config: events %q not registered", name)
	}
	return nil
}

// Assemble 构造 Components 与 Settings。
// 严格 Options 解析在 registry（工厂）层进行；此处只补齐便捷默认后传 raw JSON。
func Assemble(cfg Config) (pipeline.Components, pipeline.Settings, error) {
	if err := Validate(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	d := Defaults().Components
	dn := effName(cfg.Components.Discovery, d.Discovery)
	rn := effName(cfg.Components.Runner, d.Runner)
	wn := effName(cfg.Components.Writer, d.Writer)
	en := effName(cfg.Components.Events, d.Events)

	purge := cfg.Purge == nil || *cfg.Purge

	disc, err := registry.Discovery[dn](withDefaults(cfg.Options.Discovery, map[string]any{
		"python": cfg.Python,
		"purge":  purge,
	}))
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("discovery %s: %w", dn, err)
	}
	runner, err := registry.Runner[rn](withDefaults(cfg.Options.Runner, map[string]any{
		"python":       cfg.Python,
		"events":       en,
		"hook_command": cfg.HookCommand,
	}))
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("runner %s: %w", rn, err)
	}
	w, err := registry.Writer[wn](withDefaults(cfg.Options.Writer, map[string]any{
		"output_dir": cfg.OutputDir,
	}))
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("writer %s: %w", wn, err)
	}

	set := pipeline.Settings{
		ProjectRoot: cfg.ProjectRoot,
		OutputDir:   cfg.OutputDir,
		Concurrency: Workers(cfg),
		Timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
		TempDir:     cfg.TempDir,
		Purge:       purge,
	}
	if cfg.MaxTests != nil {
		set.MaxTests = *cfg.MaxTests
	}
	if cfg.Random != nil {
		set.Shuffle = *cfg.Random
	}
	set.Seed = DefaultSeed
	if cfg.RandomSeed != nil {
		set.Seed = *cfg.RandomSeed
	}
	return pipeline.Components{Discoverer: disc, Runner: runner, Writer: w}, set, nil
}

// EventSource 按 Components.Events 构造 hook 子命令的事件源；python 为空时不注入。
func EventSource(cfg Config) (contract.EventSource, error) {
	name := effName(cfg.Components.Events, Defaults().Components.Events)
	f := registry.Events[name]
	if f == nil {
		return nil, fmt.Errorf("config: events %q not registered: %w", name, contract.ErrInvalidInput)
	}
	raw := cfg.Options.Events
	if name == "python" {
		raw = withDefaults(raw, map[string]any{"python": cfg.Python})
	}
	return f(raw)
}

// Workers 返回生效并发度：未设置时为 CPU 核数。
func Workers(cfg Config) int {
	if cfg.MaxWorkers != nil && *cfg.MaxWorkers > 0 {
		return *cfg.MaxWorkers
	}
	return runtime.NumCPU()
}

// withDefaults 为 raw 补齐缺失键；零值默认跳过。raw 非对象时原样返回，由工厂报错。
func withDefaults(raw json.RawMessage, defs map[string]any) json.RawMessage {
	m := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil || m == nil {
			return raw
		}
	}
	changed := false
	for k, v := range defs {
		if _, ok := m[k]; ok || isZero(v) {
			continue
		}
		m[k] = v
		changed = true
	}
	if !changed {
		return raw
	}
	b, err := json.Marshal(m)
	if err != nil {
		return raw
	}
	return b
}

func isZero(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []string:
		return len(x) == 0
	}
	return false
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
