// Package conf loads the engine's resolved options: storage mode, file
// paths, and the capacity knobs the buffer/log/fsl managers are opened
// with. Parsing a connection string (file://, memory://) and wiring it
// to a Cfg is an external concern this package does not own; it only
// loads already-resolved options from an ini file section.
package conf

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/ini.v1"
)

// StorageMode selects the storage.Backend implementation the engine
// opens over.
type StorageMode string

const (
	StorageModeFile   StorageMode = "file"
	StorageModeMemory StorageMode = "memory"
)

// Cfg holds the options a single engine.Open call needs. Zero value is
// not valid; use NewCfg for documented defaults, then Load to overlay an
// ini file.
type Cfg struct {
	Raw *ini.File

	StorageMode StorageMode

	DataPath string
	LogPath  string
	FSLPath  string

	PageSize  int
	CacheSize int // buffer manager frame capacity

	LogBufferPages int // log manager's private buffer capacity

	FSLRangeSize int // data-page ids covered per FSL page

	FlushTimeout         string `default:"5s"`
	FlushTimeoutDuration time.Duration
}

// NewCfg returns a Cfg with the defaults a fresh file-backed engine
// should use absent any configuration file.
func NewCfg() *Cfg {
	return &Cfg{
		Raw:            ini.Empty(),
		StorageMode:    StorageModeFile,
		DataPath:       "pagestore.data",
		LogPath:        "pagestore.log",
		FSLPath:        "pagestore.fsl",
		PageSize:       4096,
		CacheSize:      256,
		LogBufferPages: 16,
		FSLRangeSize:   512,
		FlushTimeout:   "5s",

		FlushTimeoutDuration: 5 * time.Second,
	}
}

// Load overlays path's [engine] section onto cfg's defaults. An absent
// key keeps its default, and so does an integer key whose value does not
// parse; a malformed flush_timeout or an unknown storage_mode is an error.
func (cfg *Cfg) Load(path string) (*Cfg, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("pagestore: config file %q does not exist", path)
	}

	raw, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("pagestore: failed to parse %q: %w", path, err)
	}
	cfg.Raw = raw

	section := raw.Section("engine")
	cfg.StorageMode = StorageMode(section.Key("storage_mode").MustString(string(cfg.StorageMode)))
	cfg.DataPath = section.Key("data_path").MustString(cfg.DataPath)
	cfg.LogPath = section.Key("log_path").MustString(cfg.LogPath)
	cfg.FSLPath = section.Key("fsl_path").MustString(cfg.FSLPath)
	cfg.PageSize = section.Key("page_size").MustInt(cfg.PageSize)
	cfg.CacheSize = section.Key("cache_size").MustInt(cfg.CacheSize)
	cfg.LogBufferPages = section.Key("log_buffer_pages").MustInt(cfg.LogBufferPages)
	cfg.FSLRangeSize = section.Key("fsl_range_size").MustInt(cfg.FSLRangeSize)

	cfg.FlushTimeout = section.Key("flush_timeout").MustString(cfg.FlushTimeout)
	cfg.FlushTimeoutDuration, err = time.ParseDuration(cfg.FlushTimeout)
	if err != nil {
		return nil, fmt.Errorf("pagestore: invalid flush_timeout %q: %w", cfg.FlushTimeout, err)
	}

	if cfg.StorageMode != StorageModeFile && cfg.StorageMode != StorageModeMemory {
		return nil, fmt.Errorf("pagestore: unknown storage_mode %q", cfg.StorageMode)
	}
	return cfg, nil
}
