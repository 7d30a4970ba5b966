package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GoOptionsResolver merges defaults, loaded file config, and runtime
// overrides as ordered layers; later scopes win.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	sources := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Sources.Scheduling.Secret) != "" {
		sources["scheduling"] = map[string]any{"secret": cfg.Sources.Scheduling.Secret}
	}
	if includeZero || len(cfg.Sources.Payments.Secrets) > 0 || cfg.Sources.Payments.ReplayWindow != 0 {
		sources["payments"] = map[string]any{
			"secrets":       append([]string(nil), cfg.Sources.Payments.Secrets...),
			"replay_window": cfg.Sources.Payments.ReplayWindow,
		}
	}
	if len(sources) > 0 {
		layer["sources"] = sources
	}
	if includeZero || cfg.Throttle.Cooldown != 0 || cfg.Throttle.MaxPerDay != 0 {
		layer["throttle"] = map[string]any{
			"cooldown":    cfg.Throttle.Cooldown,
			"max_per_day": cfg.Throttle.MaxPerDay,
		}
	}
	if includeZero || strings.TrimSpace(cfg.Tracker.BaseURL) != "" {
		layer["tracker"] = map[string]any{
			"base_url":      cfg.Tracker.BaseURL,
			"collection_id": cfg.Tracker.CollectionID,
			"api_token":     cfg.Tracker.APIToken,
		}
	}
	if includeZero || strings.TrimSpace(cfg.Mailer.TokenURL) != "" {
		layer["mailer"] = map[string]any{
			"token_url":     cfg.Mailer.TokenURL,
			"client_id":     cfg.Mailer.ClientID,
			"client_secret": cfg.Mailer.ClientSecret,
			"send_url":      cfg.Mailer.SendURL,
			"from":          cfg.Mailer.From,
		}
	}
	return layer
}
