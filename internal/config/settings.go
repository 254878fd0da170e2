package config

import (
	"fmt"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Settings is the typed view of the global options, after environment
// overrides and defaults are applied.
type Settings struct {
	TickInterval time.Duration `mapstructure:"tick.interval"`
	TickMax      uint64        `mapstructure:"tick.max"`
	Seed         uint64        `mapstructure:"world.seed"`

	ScriptMode    string        `mapstructure:"script.mode"`
	ScriptTimeout time.Duration `mapstructure:"script.timeout"`
	AssetsRoot    string        `mapstructure:"assets.root"`

	MetricsEnabled bool   `mapstructure:"metrics.enabled"`
	ServerListen   string `mapstructure:"server.listen"`

	StorageURL         string        `mapstructure:"storage.url"`
	CheckpointInterval time.Duration `mapstructure:"storage.checkpoint-interval"`

	LogFile       string `mapstructure:"log.file"`
	LogLevel      string `mapstructure:"log.level"`
	LogFormat     string `mapstructure:"log.format"`
	LogMaxSizeMB  int    `mapstructure:"log.max-size-mb"`
	LogMaxFiles   int    `mapstructure:"log.max-files"`
	LogBufferSize int    `mapstructure:"log.buffer-size"`
}

// Settings resolves every global option of s against c and decodes the
// result.
func (s *Schema) Settings(c *Config) (Settings, error) {
	raw := make(map[string]any)
	for _, opt := range s.Options("") {
		if v := s.Resolve(c, opt.Key); v != "" {
			raw[opt.Key] = v
		}
	}

	var out Settings
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			boolHook,
		),
	})
	if err != nil {
		return Settings{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return out, nil
}

// boolHook accepts the same spellings as the config file validator.
func boolHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Bool {
		return data, nil
	}
	return ParseBool(data.(string))
}
