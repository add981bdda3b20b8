// Package config loads the YAML configuration read by the ipcd daemon:
// the constructor options (domain, encoding, name, verbose) plus a socket
// directory override. The ipcctl CLI client does not read it; ipcctl takes
// its options from command-line flags only.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config mirrors the Server/Client constructor options. Flags passed on
// the command line override whatever a config file sets; a config file
// overrides these zero-value defaults.
type Config struct {
	Domain    string `yaml:"domain"`
	Encoding  string `yaml:"encoding"`
	Name      string `yaml:"name"`
	Verbose   bool   `yaml:"verbose"`
	SocketDir string `yaml:"socket_dir"`

	// Handlers, for ipcd, lists the command names the operator expects
	// an external process to register. ipcd logs the list once at startup
	// and does not check it against what actually registers. Purely
	// informational — ipcd itself registers no handlers.
	Handlers []string `yaml:"handlers"`
}

// Default returns the built-in defaults (domain "default", encoding
// "utf8", socket dir "/tmp").
func Default() Config {
	return Config{
		Domain:    "default",
		Encoding:  "utf8",
		SocketDir: "/tmp",
	}
}

// Load reads path as YAML and overlays it onto Default(). A missing file
// is not an error — callers get the defaults back.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
