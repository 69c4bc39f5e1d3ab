package logging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gluk-w/claworc/tunneling/internal/cache"
)

// FileConfig is the YAML logging configuration shared by all replicas,
// typically mounted from a ConfigMap.
//
//	level: debug
type FileConfig struct {
	Level string `yaml:"level"`
}

// ParseFileConfig decodes and validates a YAML logging configuration.
func ParseFileConfig(data []byte) (FileConfig, error) {
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return FileConfig{}, fmt.Errorf("parse logging config: %w", err)
	}
	if _, err := ParseLevel(fc.Level); err != nil {
		return FileConfig{}, err
	}
	return fc, nil
}

var (
	fileCfgMu sync.Mutex
	fileCfg   *cache.Cache[FileConfig]
)

// WatchFile registers path as the logging configuration source. An empty
// path disables file-based configuration.
func WatchFile(path string, ttl time.Duration) {
	fileCfgMu.Lock()
	defer fileCfgMu.Unlock()
	if path == "" {
		fileCfg = nil
		return
	}
	fileCfg = cache.NewFile(path, ttl, ParseFileConfig)
}

// RefreshFromFile re-reads the logging configuration when it changed on disk
// and applies its level. It is cheap enough to call at the start of every
// request.
func RefreshFromFile() {
	fileCfgMu.Lock()
	c := fileCfg
	fileCfgMu.Unlock()
	if c == nil {
		return
	}

	fc, reloaded, err := c.RefreshIfStale()
	if err != nil {
		log.Printf("[WARNING] Could not load logging config file: %v", err)
		return
	}
	if !reloaded {
		return
	}
	lvl, _ := ParseLevel(fc.Level)
	SetLevel(lvl)
	Debug("Logging config reloaded", Fields{"level": lvl})
}
