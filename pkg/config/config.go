// Package config defines the core's configuration surface: a typed,
// YAML-loadable shape for node identity, storage and networking (mirroring
// the teacher's pkg/config.Config / internal/config.Config split), plus the
// raw key/value option map the storage core itself reads directly, per
// spec.md §6 ("Configuration options recognised by the core").
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// PageStorageMode selects how leaf pages lay out their column data.
type PageStorageMode string

const (
	RowStorage    PageStorageMode = "ROW_STORAGE"
	ColumnStorage PageStorageMode = "COLUMN_STORAGE"
)

// Config is the root configuration loaded from YAML.
type Config struct {
	Logger  LoggerConfig  `yaml:"logger" validate:"required"`
	Node    NodeConfig    `yaml:"node" validate:"required"`
	Storage StorageConfig `yaml:"storage" validate:"required"`
	Network NetworkConfig `yaml:"network" validate:"required"`
	Options RawOptions    `yaml:"options"`
}

type LoggerConfig struct {
	Level string `yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	JSON  bool   `yaml:"json"`
}

type NodeConfig struct {
	ID         string `yaml:"id"`
	DataCenter string `yaml:"data_center"`
	Rack       string `yaml:"rack"`
}

type StorageConfig struct {
	DataDir              string `yaml:"data_dir" validate:"required"`
	ChunkTargetBytes     int64  `yaml:"chunk_target_bytes" validate:"min=0"`
	SessionPoolQueueSize int    `yaml:"session_pool_queue_size" validate:"min=1"`
}

type NetworkConfig struct {
	ListenAddress string `yaml:"listen_address" validate:"required"`
	HTTPPort      int    `yaml:"http_port" validate:"required,min=1,max=65535"`
}

// RawOptions is the core's own config-map escape hatch: the option names
// named verbatim in spec.md §6, recognized whether or not they also appear
// in the typed Config above. This is how the core accepts `readOnly`,
// `isShardingMode`, `pohFactory`, the `*_loop_interval` keys and the rest
// without every caller threading a new typed field through Config.
type RawOptions map[string]string

func (o RawOptions) Has(key string) bool {
	_, ok := o[key]
	return ok
}

func (o RawOptions) ReadOnly() bool { return o.Has("readOnly") }

func (o RawOptions) InMemory() bool { return o.Has("inMemory") }

func (o RawOptions) IsShardingMode() bool {
	v, ok := o["isShardingMode"]
	return ok && strings.EqualFold(v, "true")
}

// InitReplicationNodes parses the ampersand-separated host list required in
// sharding mode on first open.
func (o RawOptions) InitReplicationNodes() []string {
	raw, ok := o["initReplicationNodes"]
	if !ok || raw == "" {
		return nil
	}
	return strings.Split(raw, "&")
}

func (o RawOptions) PageStorageMode() PageStorageMode {
	if v, ok := o["pageStorageMode"]; ok && v == string(ColumnStorage) {
		return ColumnStorage
	}
	return RowStorage
}

// PohFactory names the page-operation-handler factory implementation to
// construct, defaulting to the single built-in one.
func (o RawOptions) PohFactory() string {
	if v, ok := o["pohFactory"]; ok && v != "" {
		return v
	}
	return "default"
}

// LoopInterval reads one of the three `*_loop_interval` keys, defaulting to
// defaultMs when absent or unparsable.
func (o RawOptions) LoopInterval(key string, defaultMs int) time.Duration {
	raw, ok := o[key]
	if !ok {
		return time.Duration(defaultMs) * time.Millisecond
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 {
		return time.Duration(defaultMs) * time.Millisecond
	}
	return time.Duration(ms) * time.Millisecond
}

// SessionPoolQueueSize reads lealone.session.pool.queue.size, defaulting to
// 3 per spec.md §6.
func (o RawOptions) SessionPoolQueueSize() int {
	raw, ok := o["lealone.session.pool.queue.size"]
	if !ok {
		return 3
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 3
	}
	return n
}

// ReplicationFactor reads replicationFactor, the N in spec.md §4.5's
// replica-set sizing, defaulting to 3 when absent or unparsable.
func (o RawOptions) ReplicationFactor() int {
	return o.intOr("replicationFactor", 3)
}

// MaxTries reads maxTries, the retry bound spec.md §4.5 and §7 both refer
// to for quorum reads/writes and leaf-move negotiation rounds.
func (o RawOptions) MaxTries() int {
	return o.intOr("maxTries", 3)
}

// VirtualNodes reads virtualNodes, the per-member point count for the
// consistent-hash ring backing replica placement.
func (o RawOptions) VirtualNodes() int {
	return o.intOr("virtualNodes", 100)
}

func (o RawOptions) intOr(key string, def int) int {
	raw, ok := o[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{Level: "INFO", JSON: false},
		Node:   NodeConfig{ID: "node-1"},
		Storage: StorageConfig{
			DataDir:              "./data",
			ChunkTargetBytes:     64 * 1024 * 1024,
			SessionPoolQueueSize: 3,
		},
		Network: NetworkConfig{ListenAddress: "0.0.0.0", HTTPPort: 8080},
		Options: RawOptions{},
	}
}

// Load reads and parses a YAML config file, falling back to Default for any
// field the file omits.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
