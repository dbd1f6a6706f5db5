package server

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds hub settings.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	QUICPort int    `yaml:"quicPort"`
	LogLevel string `yaml:"logLevel"`
}

func DefaultConfig() Config {
	return Config{
		Host:     "0.0.0.0",
		Port:     8090,
		QUICPort: 8091,
		LogLevel: "info",
	}
}

// LoadConfig decodes yaml over the defaults.
func LoadConfig(r io.Reader) (Config, error) {
	c := DefaultConfig()
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return c, nil
}

// LoadConfigFile reads a yaml config file; an empty path means defaults.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return LoadConfig(f)
}

func (c Config) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c Config) quicAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.QUICPort)
}
