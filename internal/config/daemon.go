package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type LogConfig struct {
	Directory  string `yaml:"directory"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	MaxBackups int    `yaml:"maxBackups"`
	Compress   bool   `yaml:"compress"`
	Level      string `yaml:"level"`
	JSON       bool   `yaml:"json"`
}

type InboxConfig struct {
	Directory string `yaml:"directory"`
	// Processed and Rejected default to subdirectories of Directory.
	Processed string `yaml:"processed"`
	Rejected  string `yaml:"rejected"`
}

// Daemon is the fitd configuration file.
type Daemon struct {
	Port       int         `yaml:"port"`
	StorageDir string      `yaml:"storageDir"`
	PolicyFile string      `yaml:"policy"`
	VendorFile string      `yaml:"vendorProfile"`
	MaxUpload  int64       `yaml:"maxUploadBytes"`
	EditLog    string      `yaml:"editLog"`
	Lang       string      `yaml:"lang"`
	Inbox      InboxConfig `yaml:"inbox"`
	Logs       LogConfig   `yaml:"logs"`
}

// LoadDaemon reads the daemon config at path, fills defaults and resolves
// relative paths against the directory of the file.
func LoadDaemon(path string) (Daemon, error) {
	var cfg Daemon
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode %s: %w", path, err)
	}
	baseDir := filepath.Dir(path)
	resolve := func(p string) string {
		p = strings.TrimSpace(p)
		if p == "" {
			return ""
		}
		if filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		candidate := filepath.Clean(filepath.Join(baseDir, p))
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		return filepath.Clean(p)
	}

	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return cfg, fmt.Errorf("port %d out of range", cfg.Port)
	}
	if cfg.StorageDir == "" {
		cfg.StorageDir = filepath.Join(".", "data")
	}
	if cfg.MaxUpload <= 0 {
		cfg.MaxUpload = 64 << 20
	}
	cfg.PolicyFile = resolve(cfg.PolicyFile)
	cfg.VendorFile = resolve(cfg.VendorFile)
	if cfg.EditLog == "" {
		cfg.EditLog = filepath.Join(cfg.StorageDir, "edits.jsonl")
	}
	if cfg.Lang == "" {
		cfg.Lang = "en"
	}
	cfg.Inbox.Directory = resolve(cfg.Inbox.Directory)
	if cfg.Inbox.Directory != "" {
		if cfg.Inbox.Processed == "" {
			cfg.Inbox.Processed = filepath.Join(cfg.Inbox.Directory, "processed")
		}
		if cfg.Inbox.Rejected == "" {
			cfg.Inbox.Rejected = filepath.Join(cfg.Inbox.Directory, "rejected")
		}
	} else if cfg.Inbox.Processed != "" || cfg.Inbox.Rejected != "" {
		return cfg, errors.New("inbox processed/rejected set without inbox directory")
	}
	if cfg.Logs.Directory == "" {
		cfg.Logs.Directory = filepath.Join(cfg.StorageDir, "logs")
	}
	if cfg.Logs.MaxSizeMB <= 0 {
		cfg.Logs.MaxSizeMB = 25
	}
	if cfg.Logs.MaxAgeDays <= 0 {
		cfg.Logs.MaxAgeDays = 7
	}
	if cfg.Logs.MaxBackups <= 0 {
		cfg.Logs.MaxBackups = 5
	}
	if cfg.Logs.Level == "" {
		cfg.Logs.Level = "info"
	}
	return cfg, nil
}
