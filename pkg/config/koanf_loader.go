// Loader reads a Config document from a YAML file via koanf, with
// environment-variable expansion and optional fsnotify-backed live reload.
// The teacher's Loader also supports Consul, etcd, and Zookeeper
// remote-config backends (switched on a ConfigType); this module drops all
// three — no SPEC_FULL.md component calls for distributed config, since
// the orchestration core is a single-process library plus a CLI, not a
// fleet of services sharing one config store — and keeps only the file
// provider, which is the one backend every deployment of this core
// actually needs.
package config

import (
	"fmt"
	"log"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	Path     string
	Watch    bool
	OnChange func(*Config) error
}

// Loader reads and optionally watches a Config document at Path.
type Loader struct {
	options  LoaderOptions
	koanf    *koanf.Koanf
	stopChan chan struct{}
}

// NewLoader builds a Loader for opts.
func NewLoader(opts LoaderOptions) (*Loader, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	return &Loader{options: opts, koanf: koanf.New("."), stopChan: make(chan struct{})}, nil
}

// Load reads, expands, unmarshals, and validates the config document. If
// Watch is set, reload is installed via the file provider's fsnotify-based
// watch (spec's ambient config stack: live reload without a restart).
func (l *Loader) Load() (*Config, error) {
	provider := file.Provider(l.options.Path)

	if err := l.koanf.Load(provider, yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", l.options.Path, err)
	}

	if err := l.expandEnvVarsInKoanf(); err != nil {
		return nil, fmt.Errorf("failed to expand environment variables: %w", err)
	}

	cfg, err := l.unmarshalAndValidate()
	if err != nil {
		return nil, err
	}

	if l.options.Watch {
		go l.watch(provider)
	}

	return cfg, nil
}

func (l *Loader) watch(provider *file.File) {
	err := provider.Watch(func(event interface{}, err error) {
		select {
		case <-l.stopChan:
			return
		default:
		}
		if err != nil {
			log.Printf("config watch error: %v", err)
			return
		}

		reloaded := koanf.New(".")
		if err := reloaded.Load(file.Provider(l.options.Path), yaml.Parser()); err != nil {
			log.Printf("failed to reload config: %v", err)
			return
		}
		l.koanf = reloaded

		if err := l.expandEnvVarsInKoanf(); err != nil {
			log.Printf("failed to expand env vars in reloaded config: %v", err)
			return
		}

		newCfg, err := l.unmarshalAndValidate()
		if err != nil {
			log.Printf("reloaded config is invalid: %v", err)
			return
		}

		if l.options.OnChange != nil {
			if err := l.options.OnChange(newCfg); err != nil {
				log.Printf("config change callback failed: %v", err)
			}
		}
	})
	if err != nil {
		log.Printf("config watch stopped: %v", err)
	}
}

func (l *Loader) unmarshalAndValidate() (*Config, error) {
	cfg := &Config{}
	if err := l.koanf.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration is invalid: %w", err)
	}
	return cfg, nil
}

func (l *Loader) expandEnvVarsInKoanf() error {
	expanded, ok := ExpandEnvVarsInData(l.koanf.Raw()).(map[string]interface{})
	if !ok {
		return fmt.Errorf("unexpected type after env var expansion")
	}

	next := koanf.New(".")
	if err := next.Load(confmap.Provider(expanded, "."), nil); err != nil {
		return fmt.Errorf("failed to load expanded config: %w", err)
	}
	l.koanf = next
	return nil
}

// Stop halts an active Watch goroutine.
func (l *Loader) Stop() {
	close(l.stopChan)
}

// LoadConfig is a convenience wrapper for a one-shot, non-watching load.
func LoadConfig(path string) (*Config, error) {
	loader, err := NewLoader(LoaderOptions{Path: path})
	if err != nil {
		return nil, err
	}
	return loader.Load()
}
