package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"HostBridge/pkg/logger"
)

// EnvPrefix 是环境变量覆盖项的统一前缀。
const EnvPrefix = "HOSTBRIDGE"

// Config 描述了 HostBridge 在启动阶段需要加载的全部配置。
type Config struct {
	Server  ServerConfig  `json:"server" yaml:"server" toml:"server"`
	NATS    NATSConfig    `json:"nats" yaml:"nats" toml:"nats"`
	Logging logger.Config `json:"logging" yaml:"logging" toml:"logging"`
	Bridge  BridgeConfig  `json:"bridge" yaml:"bridge" toml:"bridge"`
	AI      AIConfig      `json:"ai" yaml:"ai" toml:"ai"`
	Worker  WorkerConfig  `json:"worker" yaml:"worker" toml:"worker"`
	Store   StoreConfig   `json:"store" yaml:"store" toml:"store"`
	KV      KVConfig      `json:"kv" yaml:"kv" toml:"kv"`
	Runtime RuntimeConfig `json:"runtime" yaml:"runtime" toml:"runtime"`
}

// ServerConfig 控制 HTTP 适配器的监听地址与超时。
type ServerConfig struct {
	Address                string `json:"address" yaml:"address" toml:"address"`
	ReadTimeoutSeconds     int    `json:"read_timeout_seconds" yaml:"read_timeout_seconds" toml:"read_timeout_seconds"`
	WriteTimeoutSeconds    int    `json:"write_timeout_seconds" yaml:"write_timeout_seconds" toml:"write_timeout_seconds"`
	ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds" toml:"shutdown_timeout_seconds"`
}

// NATSConfig 控制 NATS 适配器。
type NATSConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	URL           string `json:"url" yaml:"url" toml:"url"`
	Name          string `json:"name" yaml:"name" toml:"name"`
	SubjectPrefix string `json:"subject_prefix" yaml:"subject_prefix" toml:"subject_prefix"`
	QueueGroup    string `json:"queue_group" yaml:"queue_group" toml:"queue_group"`
}

// BridgeConfig 描述注册阶段的约束。
type BridgeConfig struct {
	// RequiredVersions 以子系统名称为键，值为 semver 约束，例如 ">=1.0.0, <2"。
	RequiredVersions map[string]string `json:"required_versions" yaml:"required_versions" toml:"required_versions"`
}

// AIConfig 用于配置 AI 子系统的大模型提供方。
type AIConfig struct {
	// Provider 可选 openai、python_bridge；为空表示不启用生成能力。
	Provider string             `json:"provider" yaml:"provider" toml:"provider"`
	OpenAI   OpenAIConfig       `json:"openai" yaml:"openai" toml:"openai"`
	Python   PythonBridgeConfig `json:"python_bridge" yaml:"python_bridge" toml:"python_bridge"`
}

// OpenAIConfig 描述 OpenAI Chat Completions 的访问参数。
type OpenAIConfig struct {
	APIKey         string `json:"api_key" yaml:"api_key" toml:"api_key"`
	BaseURL        string `json:"base_url" yaml:"base_url" toml:"base_url"`
	Model          string `json:"model" yaml:"model" toml:"model"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds" toml:"timeout_seconds"`
}

// PythonBridgeConfig 描述通过 Python 脚本完成推理时所需的信息。
type PythonBridgeConfig struct {
	PythonExecutable string `json:"python_executable" yaml:"python_executable" toml:"python_executable"`
	ScriptPath       string `json:"script_path" yaml:"script_path" toml:"script_path"`
	WorkingDir       string `json:"working_dir" yaml:"working_dir" toml:"working_dir"`
}

// WorkerConfig 描述后台作业的存储、队列与处理器参数。
type WorkerConfig struct {
	Store                   BackendConfig `json:"store" yaml:"store" toml:"store"`
	Queue                   QueueConfig   `json:"queue" yaml:"queue" toml:"queue"`
	Concurrency             int           `json:"concurrency" yaml:"concurrency" toml:"concurrency"`
	MaxRetries              int           `json:"max_retries" yaml:"max_retries" toml:"max_retries"`
	JobTimeoutSeconds       int           `json:"job_timeout_seconds" yaml:"job_timeout_seconds" toml:"job_timeout_seconds"`
	RecoveryIntervalSeconds int           `json:"recovery_interval_seconds" yaml:"recovery_interval_seconds" toml:"recovery_interval_seconds"`
	StuckAfterSeconds       int           `json:"stuck_after_seconds" yaml:"stuck_after_seconds" toml:"stuck_after_seconds"`
	KVSweepIntervalSeconds  int           `json:"kv_sweep_interval_seconds" yaml:"kv_sweep_interval_seconds" toml:"kv_sweep_interval_seconds"`
}

// BackendConfig 是通用的 driver + DSN 组合。
type BackendConfig struct {
	Driver string `json:"driver" yaml:"driver" toml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn" toml:"dsn"`
}

// QueueConfig 描述作业队列。
type QueueConfig struct {
	Driver   string         `json:"driver" yaml:"driver" toml:"driver"`
	Buffer   int            `json:"buffer" yaml:"buffer" toml:"buffer"`
	Redis    RedisConfig    `json:"redis" yaml:"redis" toml:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq" toml:"rabbitmq"`
}

// RedisConfig 描述 Redis 连接信息。
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr" toml:"addr"`
	Password string `json:"password" yaml:"password" toml:"password"`
	DB       int    `json:"db" yaml:"db" toml:"db"`
	Key      string `json:"key" yaml:"key" toml:"key"`
}

// RabbitMQConfig 描述 RabbitMQ 连接信息。
type RabbitMQConfig struct {
	URL   string `json:"url" yaml:"url" toml:"url"`
	Queue string `json:"queue" yaml:"queue" toml:"queue"`
}

// StoreConfig 描述资源存储的后端。
type StoreConfig struct {
	Driver      string `json:"driver" yaml:"driver" toml:"driver"`
	DSN         string `json:"dsn" yaml:"dsn" toml:"dsn"`
	AutoMigrate bool   `json:"auto_migrate" yaml:"auto_migrate" toml:"auto_migrate"`
	// SnapshotFile 仅用于 memory 驱动，相对路径基于 runtime.data_dir。
	SnapshotFile string `json:"snapshot_file" yaml:"snapshot_file" toml:"snapshot_file"`
}

// KVConfig 描述键值缓存的后端。
type KVConfig struct {
	Driver string      `json:"driver" yaml:"driver" toml:"driver"`
	Prefix string      `json:"prefix" yaml:"prefix" toml:"prefix"`
	Redis  RedisConfig `json:"redis" yaml:"redis" toml:"redis"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir" yaml:"data_dir" toml:"data_dir"`
}

// envOverrides 列出允许通过环境变量覆盖的配置项，空值表示不覆盖。
type envOverrides struct {
	ServerAddress     string `envconfig:"SERVER_ADDRESS"`
	LogLevel          string `envconfig:"LOG_LEVEL"`
	LogFormat         string `envconfig:"LOG_FORMAT"`
	NATSEnabled       *bool  `envconfig:"NATS_ENABLED"`
	NATSURL           string `envconfig:"NATS_URL"`
	AIProvider        string `envconfig:"AI_PROVIDER"`
	OpenAIAPIKey      string `envconfig:"OPENAI_API_KEY"`
	WorkerStoreDriver string `envconfig:"WORKER_STORE_DRIVER"`
	WorkerStoreDSN    string `envconfig:"WORKER_STORE_DSN"`
	WorkerQueueDriver string `envconfig:"WORKER_QUEUE_DRIVER"`
	WorkerRedisAddr   string `envconfig:"WORKER_REDIS_ADDR"`
	WorkerRabbitURL   string `envconfig:"WORKER_RABBITMQ_URL"`
	StoreDriver       string `envconfig:"STORE_DRIVER"`
	StoreDSN          string `envconfig:"STORE_DSN"`
	KVDriver          string `envconfig:"KV_DRIVER"`
	KVRedisAddr       string `envconfig:"KV_REDIS_ADDR"`
	DataDir           string `envconfig:"DATA_DIR"`
}

// Default 返回补齐默认值后的配置，baseDir 用于解析相对路径。
func Default(baseDir string) *Config {
	cfg := &Config{}
	cfg.applyDefaults(baseDir)
	return cfg
}

// Load 负责解析指定路径的配置文件，并应用默认值与环境变量覆盖。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := decode(path, content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.finish(filepath.Dir(path)); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault 在配置文件不存在时退回默认配置，其余错误原样返回。
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := &Config{}
		if err := cfg.finish("."); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return Load(path)
}

func (c *Config) finish(baseDir string) error {
	c.applyDefaults(baseDir)
	if err := c.applyEnv(); err != nil {
		return fmt.Errorf("读取环境变量失败: %w", err)
	}
	return c.Validate()
}

func decode(path string, content []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(content, cfg)
	case ".toml":
		return toml.Unmarshal(content, cfg)
	case ".json", "":
		dec := json.NewDecoder(bytes.NewReader(content))
		dec.DisallowUnknownFields()
		return dec.Decode(cfg)
	default:
		return fmt.Errorf("不支持的配置文件格式 %s", filepath.Ext(path))
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadTimeoutSeconds <= 0 {
		c.Server.ReadTimeoutSeconds = 15
	}
	if c.Server.WriteTimeoutSeconds <= 0 {
		c.Server.WriteTimeoutSeconds = 60
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 10
	}

	if c.NATS.URL == "" {
		c.NATS.URL = "nats://127.0.0.1:4222"
	}
	if c.NATS.Name == "" {
		c.NATS.Name = "hostbridge"
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "hostbridge.op"
	}
	if c.NATS.QueueGroup == "" {
		c.NATS.QueueGroup = "hostbridge"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit", "calls.log")
	}

	c.AI.Provider = strings.ToLower(strings.TrimSpace(c.AI.Provider))
	if c.AI.Python.PythonExecutable == "" {
		c.AI.Python.PythonExecutable = "python3"
	}
	if c.AI.Python.WorkingDir == "" {
		c.AI.Python.WorkingDir = baseDir
	} else if !filepath.IsAbs(c.AI.Python.WorkingDir) {
		c.AI.Python.WorkingDir = filepath.Join(baseDir, c.AI.Python.WorkingDir)
	}
	if c.AI.OpenAI.TimeoutSeconds <= 0 {
		c.AI.OpenAI.TimeoutSeconds = 60
	}

	if c.Worker.Store.Driver == "" {
		c.Worker.Store.Driver = "memory"
	}
	if c.Worker.Queue.Driver == "" {
		c.Worker.Queue.Driver = "memory"
	}
	if c.Worker.Queue.Buffer <= 0 {
		c.Worker.Queue.Buffer = 128
	}
	if c.Worker.Queue.Redis.Key == "" {
		c.Worker.Queue.Redis.Key = "hostbridge:jobs"
	}
	if c.Worker.Queue.RabbitMQ.Queue == "" {
		c.Worker.Queue.RabbitMQ.Queue = "hostbridge.jobs"
	}
	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 4
	}
	if c.Worker.MaxRetries <= 0 {
		c.Worker.MaxRetries = 3
	}
	if c.Worker.JobTimeoutSeconds <= 0 {
		c.Worker.JobTimeoutSeconds = 120
	}
	if c.Worker.RecoveryIntervalSeconds <= 0 {
		c.Worker.RecoveryIntervalSeconds = 30
	}
	if c.Worker.StuckAfterSeconds <= 0 {
		c.Worker.StuckAfterSeconds = 300
	}
	if c.Worker.KVSweepIntervalSeconds <= 0 {
		c.Worker.KVSweepIntervalSeconds = 60
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Store.SnapshotFile == "" {
		c.Store.SnapshotFile = "resources.jsonl"
	}

	if c.KV.Driver == "" {
		c.KV.Driver = "memory"
	}
	if c.KV.Prefix == "" {
		c.KV.Prefix = "hostbridge:kv:"
	}
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return err
	}
	override := func(dst *string, value string) {
		if v := strings.TrimSpace(value); v != "" {
			*dst = v
		}
	}
	override(&c.Server.Address, env.ServerAddress)
	override(&c.Logging.Level, env.LogLevel)
	override(&c.Logging.Format, env.LogFormat)
	override(&c.NATS.URL, env.NATSURL)
	override(&c.AI.Provider, strings.ToLower(env.AIProvider))
	override(&c.AI.OpenAI.APIKey, env.OpenAIAPIKey)
	override(&c.Worker.Store.Driver, env.WorkerStoreDriver)
	override(&c.Worker.Store.DSN, env.WorkerStoreDSN)
	override(&c.Worker.Queue.Driver, env.WorkerQueueDriver)
	override(&c.Worker.Queue.Redis.Addr, env.WorkerRedisAddr)
	override(&c.Worker.Queue.RabbitMQ.URL, env.WorkerRabbitURL)
	override(&c.Store.Driver, env.StoreDriver)
	override(&c.Store.DSN, env.StoreDSN)
	override(&c.KV.Driver, env.KVDriver)
	override(&c.KV.Redis.Addr, env.KVRedisAddr)
	override(&c.Runtime.DataDir, env.DataDir)

	if env.NATSEnabled != nil {
		c.NATS.Enabled = *env.NATSEnabled
	}
	return nil
}

// Validate 校验驱动名称、依赖项与版本约束。
func (c *Config) Validate() error {
	var errs []error
	check := func(section, value string, allowed ...string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s 不支持的取值 %q，可选 %s", section, value, strings.Join(allowed, "|")))
	}

	if strings.TrimSpace(c.Server.Address) == "" {
		errs = append(errs, errors.New("server.address 不能为空"))
	}
	check("ai.provider", c.AI.Provider, "", "openai", "python_bridge")
	check("worker.store.driver", c.Worker.Store.Driver, "memory", "mysql")
	check("worker.queue.driver", c.Worker.Queue.Driver, "memory", "redis", "rabbitmq")
	check("store.driver", c.Store.Driver, "memory", "mysql", "postgres")
	check("kv.driver", c.KV.Driver, "memory", "redis")

	if c.AI.Provider == "python_bridge" && c.AI.Python.ScriptPath == "" {
		errs = append(errs, errors.New("ai.python_bridge.script_path 不能为空"))
	}
	if c.Worker.Store.Driver == "mysql" && c.Worker.Store.DSN == "" {
		errs = append(errs, errors.New("worker.store.dsn 不能为空"))
	}
	if c.Worker.Queue.Driver == "redis" && c.Worker.Queue.Redis.Addr == "" {
		errs = append(errs, errors.New("worker.queue.redis.addr 不能为空"))
	}
	if c.Worker.Queue.Driver == "rabbitmq" && c.Worker.Queue.RabbitMQ.URL == "" {
		errs = append(errs, errors.New("worker.queue.rabbitmq.url 不能为空"))
	}
	if (c.Store.Driver == "mysql" || c.Store.Driver == "postgres") && c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn 不能为空"))
	}
	if c.KV.Driver == "redis" && c.KV.Redis.Addr == "" {
		errs = append(errs, errors.New("kv.redis.addr 不能为空"))
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url 不能为空"))
	}
	for name, constraint := range c.Bridge.RequiredVersions {
		if _, err := semver.NewConstraint(constraint); err != nil {
			errs = append(errs, fmt.Errorf("bridge.required_versions.%s 无效: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Seconds 把配置中的秒数转换为 time.Duration。
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
