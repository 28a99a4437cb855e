package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EngineSettings tunes one calculation engine.
type EngineSettings struct {
	Disabled bool           `mapstructure:"disabled"`
	Timeout  time.Duration  `mapstructure:"timeout"`
	Options  map[string]any `mapstructure:"options"`
}

// EngineConfig maps system type names to their settings.
type EngineConfig struct {
	Engines map[string]EngineSettings `mapstructure:"engines"`
}

// For returns the settings for a system type, or zero settings when absent.
func (c EngineConfig) For(system string) EngineSettings {
	if c.Engines == nil {
		return EngineSettings{}
	}
	return c.Engines[strings.ToLower(strings.TrimSpace(system))]
}

type EngineConfigHolder struct {
	current atomic.Value // holds EngineConfig
}

// NewStaticEngineConfigHolder returns a holder that never reloads.
func NewStaticEngineConfigHolder(cfg EngineConfig) *EngineConfigHolder {
	holder := &EngineConfigHolder{}
	holder.current.Store(normalizeEngineConfig(cfg))
	return holder
}

func NewEngineConfigHolder(log *zap.Logger) (*EngineConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.engines")

	v := viper.New()
	v.SetConfigName("engines")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/destiny")
	v.AddConfigPath(".")

	v.SetEnvPrefix("DESTINY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg EngineConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := validateEngineConfig(cfg); err != nil {
		return nil, err
	}

	holder := &EngineConfigHolder{}
	holder.current.Store(normalizeEngineConfig(cfg))

	if !fileLoaded {
		log.Info("engine config file not found, using defaults")
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated EngineConfig
		if err := v.Unmarshal(&updated); err != nil {
			log.Warn("engine config reload failed", zap.String("file", e.Name), zap.Error(err))
			return
		}
		if err := validateEngineConfig(updated); err != nil {
			log.Warn("invalid engine config ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(normalizeEngineConfig(updated))
		log.Info("engine config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *EngineConfigHolder) Get() EngineConfig {
	if h == nil {
		return EngineConfig{}
	}
	cfg, _ := h.current.Load().(EngineConfig)
	return cfg
}

func validateEngineConfig(cfg EngineConfig) error {
	for name, settings := range cfg.Engines {
		if strings.TrimSpace(name) == "" {
			return errors.New("engines: empty engine name")
		}
		if settings.Timeout < 0 {
			return fmt.Errorf("engines.%s.timeout cannot be negative", name)
		}
	}
	return nil
}

func normalizeEngineConfig(cfg EngineConfig) EngineConfig {
	out := EngineConfig{Engines: make(map[string]EngineSettings, len(cfg.Engines))}
	for name, settings := range cfg.Engines {
		out.Engines[strings.ToLower(strings.TrimSpace(name))] = settings
	}
	return out
}
