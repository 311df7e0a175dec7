package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/gcfg.v1"

	"github.com/akavel/imagev/dbs"
)

type Config struct {
	Main struct {
		DataDir string `gcfg:"data-dir"`
		Backend string // ql or tiedot
		Debug   bool
	}
	Serve struct {
		Addr      string
		ThumbSize int `gcfg:"thumb-size"`
	}
}

func defaultConfig() Config {
	var c Config
	if dir, err := os.UserConfigDir(); err == nil {
		c.Main.DataDir = filepath.Join(dir, "imagev")
	}
	c.Main.Backend = dbs.BackendQL
	c.Serve.Addr = "localhost:8081"
	c.Serve.ThumbSize = 200
	return c
}

// defaultConfigPath is where the config file is looked up when no -cfg
// flag is given. It may not exist.
func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "imagev", "imagev.cfg")
}

// loadConfig reads path over the defaults. A missing file is fine only
// when it is the default one.
func loadConfig(path string, explicit bool) (Config, error) {
	c := defaultConfig()
	if path != "" {
		err := gcfg.ReadFileInto(&c, path)
		if err != nil && (explicit || !errors.Is(err, fs.ErrNotExist)) {
			return c, fmt.Errorf("cannot read config: %w", err)
		}
	}
	return c, c.validate()
}

func (c *Config) validate() error {
	switch c.Main.Backend {
	case dbs.BackendQL, dbs.BackendTiedot:
	default:
		return fmt.Errorf("config: unknown backend %q", c.Main.Backend)
	}
	if c.Main.DataDir == "" {
		return errors.New("config: data-dir not set and no user config dir")
	}
	if c.Serve.ThumbSize <= 0 {
		return fmt.Errorf("config: bad thumb-size %d", c.Serve.ThumbSize)
	}
	return nil
}

// StorePath is the location of the timestamp cache for the configured
// backend.
func (c *Config) StorePath() string {
	name := "image_cache." + c.Main.Backend
	return filepath.Join(c.Main.DataDir, name)
}
