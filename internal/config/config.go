package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/kayz/tavern/internal/promptbuild"
)

var (
	exeDirCache string
)

// getExecutableDir returns the directory where the executable is located
func getExecutableDir() string {
	if exeDirCache != "" {
		return exeDirCache
	}
	execPath, err := os.Executable()
	if err != nil {
		exeDirCache = "."
		return exeDirCache
	}
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		exeDirCache = "."
		return exeDirCache
	}
	exeDirCache = filepath.Dir(execPath)
	return exeDirCache
}

type Config struct {
	Transport string                  `yaml:"transport"` // "stdio" or "ws"
	Port      int                     `yaml:"port"`
	Logging   LoggingConfig           `yaml:"logging"`
	AI        AIConfig                `yaml:"ai,omitempty"`
	Prompt    PromptConfig            `yaml:"prompt,omitempty"`
	Store     StoreConfig             `yaml:"store,omitempty"`
	Lore      LoreConfig              `yaml:"lore,omitempty"`
	Audit     promptbuild.AuditConfig `yaml:"audit,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type AIConfig struct {
	// ProvidersPath points at the provider registry YAML. Relative paths
	// resolve against the executable directory.
	ProvidersPath string `yaml:"providers_path,omitempty"`
	Provider      string `yaml:"provider,omitempty"`
	// CharsPerToken tunes the heuristic token estimator.
	CharsPerToken int `yaml:"chars_per_token,omitempty"`
}

type PromptConfig struct {
	MaxContext    int  `yaml:"max_context"`
	MaxReply      int  `yaml:"max_reply"`
	SquashSystem  bool `yaml:"squash_system,omitempty"`
	FlushInterval int  `yaml:"flush_interval_ms,omitempty"`

	StoppingStrings []string `yaml:"stopping_strings,omitempty"`
}

type StoreConfig struct {
	Path      string `yaml:"path,omitempty"`
	Character string `yaml:"character,omitempty"`
}

type LoreConfig struct {
	Books []string `yaml:"books,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Transport: "stdio",
		Port:      8787,
		Logging: LoggingConfig{
			Level: "info",
		},
		AI: AIConfig{
			ProvidersPath: "providers.yaml",
			CharsPerToken: 4,
		},
		Prompt: PromptConfig{
			MaxContext:    8192,
			MaxReply:      1024,
			FlushInterval: 100,
		},
		Store: StoreConfig{
			Path: filepath.Join(".tavern", "tavern.db"),
		},
	}
}

func ConfigDir() string {
	exeDir := getExecutableDir()
	return filepath.Join(exeDir, ".tavern")
}

func ConfigPath() string {
	exeDir := getExecutableDir()
	return filepath.Join(exeDir, ".tavern.yaml")
}

// Resolve turns a relative path into one anchored at the executable
// directory. Absolute paths pass through.
func Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(getExecutableDir(), path)
}

func Load() (*Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom reads a config file, falling back to defaults when it is absent.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Save() error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(ConfigPath(), data, 0600)
}
