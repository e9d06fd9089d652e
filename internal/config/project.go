// Package config resolves the connection settings of a project. Settings
// live in <project>/.mxdeploy.yaml, can be overridden by MXDEPLOY_*
// environment variables (also read from .env files), and are interpreted
// according to the project's connection mode.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"mxdeploy/internal/adapter"
	"mxdeploy/internal/logger"
	"mxdeploy/internal/transport"
)

const (
	// ProjectFile holds the properties of a project.
	ProjectFile = ".mxdeploy.yaml"
	// EnvPrefix prefixes environment overrides: ssh.host -> MXDEPLOY_SSH_HOST.
	EnvPrefix = "MXDEPLOY"

	KeyMode             = "mode"
	KeyPluginProperties = "plugin.properties"
	KeyHandshakeTimeout = "timeout.handshake"
	KeyLoginTimeout     = "timeout.login"
	KeyRequestTimeout   = "timeout.request"
	KeyTreeTTL          = "cache.typedef-tree"
)

// Project is a directory of configuration item files plus its properties.
type Project struct {
	Name string
	Dir  string

	// v resolves values: environment, project file, defaults.
	v *viper.Viper
	// store holds only what is written back to the project file.
	store *viper.Viper
}

// LoadProject reads the project in dir. A missing project file is not an
// error; every key then has its default.
func LoadProject(dir string, testMode bool) (*Project, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory %s: %w", dir, err)
	}
	if err := LoadDotEnv(abs, testMode); err != nil {
		return nil, err
	}

	path := filepath.Join(abs, ProjectFile)
	p := &Project{
		Name:  filepath.Base(abs),
		Dir:   abs,
		v:     viper.New(),
		store: viper.New(),
	}
	for _, v := range []*viper.Viper{p.v, p.store} {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil && !isNotExist(err) {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	p.v.SetEnvPrefix(EnvPrefix)
	p.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	p.v.AutomaticEnv()
	p.v.SetDefault(KeyMode, string(ModeProcess))
	p.v.SetDefault(KeyLoginTimeout, "30s")
	p.v.SetDefault(KeyHandshakeTimeout, "30s")
	p.v.SetDefault(KeyRequestTimeout, "0s")
	p.v.SetDefault(KeyTreeTTL, adapter.DefaultTreeTTL.String())
	for _, m := range modes {
		for _, k := range m.Keys {
			if k.Default != nil {
				p.v.SetDefault(k.Name, k.Default)
			}
		}
	}

	logger.Debug("Project loaded", "project", p.Name, "dir", abs, "mode", p.GetString(KeyMode))
	return p, nil
}

func isNotExist(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return errors.As(err, &nf) || errors.Is(err, fs.ErrNotExist)
}

// Path returns the project file path.
func (p *Project) Path() string { return filepath.Join(p.Dir, ProjectFile) }

// GetString returns the resolved value of key.
func (p *Project) GetString(key string) string { return strings.TrimSpace(p.v.GetString(key)) }

// GetBool returns the resolved value of key.
func (p *Project) GetBool(key string) bool { return p.v.GetBool(key) }

// Get returns the raw resolved value of key.
func (p *Project) Get(key string) any { return p.v.Get(key) }

// GetDuration returns the resolved value of key.
func (p *Project) GetDuration(key string) time.Duration { return p.v.GetDuration(key) }

// Set changes key in memory; call Save to persist it.
func (p *Project) Set(key string, value any) {
	p.v.Set(key, value)
	p.store.Set(key, value)
}

// Save writes the project file. Environment overrides and defaults are not
// written.
func (p *Project) Save() error {
	if err := p.store.WriteConfigAs(p.Path()); err != nil {
		return fmt.Errorf("failed to write %s: %w", p.Path(), err)
	}
	return nil
}

// Mode returns the connection mode of the project.
func (p *Project) Mode() (*Mode, error) {
	return LookupMode(p.GetString(KeyMode))
}

// Validate checks that the settings required by the project's mode are
// present.
func (p *Project) Validate() error {
	m, err := p.Mode()
	if err != nil {
		return err
	}
	return m.validate(p)
}

// PluginProperties returns the stored plug-in properties text.
func (p *Project) PluginProperties() string { return p.v.GetString(KeyPluginProperties) }

// StorePluginProperties saves new plug-in properties to the project file.
func (p *Project) StorePluginProperties(text string) error {
	p.Set(KeyPluginProperties, text)
	return p.Save()
}

var _ adapter.PropertyStore = (*Project)(nil)

// NewAdapter creates the adapter of p. Settings are resolved, and
// credentials asked for, each time the adapter connects.
func (p *Project) NewAdapter(prompt CredentialPrompter, testMode bool) (*adapter.Adapter, error) {
	m, err := p.Mode()
	if err != nil {
		return nil, err
	}
	if err := m.validate(p); err != nil {
		return nil, err
	}
	return adapter.New(adapter.Options{
		Project:        p.Name,
		Properties:     p,
		TreeTTL:        p.GetDuration(KeyTreeTTL),
		RequestTimeout: p.GetDuration(KeyRequestTimeout),
		TestMode:       testMode,
		Dial:           p.dialer(m, prompt),
	}), nil
}

func (p *Project) dialer(m *Mode, prompt CredentialPrompter) adapter.DialFunc {
	return func(ctx context.Context) (transport.Transport, error) {
		s, err := m.resolve(p, prompt)
		if err != nil {
			return nil, err
		}
		logger.Info("Connecting", "project", p.Name, "mode", m.Name, "target", s.Target())
		return s.Open(ctx)
	}
}

// ProjectDir finds the project directory for path: the nearest directory,
// starting at path (or its parent for a file), that holds a project file.
// Without one, that starting directory is returned.
func ProjectDir(path string) (string, error) {
	start, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if fi, err := os.Stat(start); err == nil && !fi.IsDir() {
		start = filepath.Dir(start)
	}
	for dir := start; ; dir = filepath.Dir(dir) {
		if _, err := os.Stat(filepath.Join(dir, ProjectFile)); err == nil {
			return dir, nil
		}
		if parent := filepath.Dir(dir); parent == dir {
			return start, nil
		}
	}
}
