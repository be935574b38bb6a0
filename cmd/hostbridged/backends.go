package main

import (
	"context"
	"fmt"

	"HostBridge/internal/config"
	"HostBridge/internal/kv"
	"HostBridge/internal/llm"
	"HostBridge/internal/llm/openai"
	"HostBridge/internal/llm/pythonbridge"
	"HostBridge/internal/storage/mysql"
	"HostBridge/internal/storage/postgres"
	"HostBridge/internal/storage/redis"
	"HostBridge/internal/store"
	"HostBridge/internal/worker"
)

// buildLLMClient 根据 ai.provider 创建大模型客户端，未配置时返回 nil。
func buildLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.AI.Provider {
	case "":
		return nil, nil
	case "openai":
		return openai.NewClient(openai.Config{
			APIKey:  cfg.AI.OpenAI.APIKey,
			BaseURL: cfg.AI.OpenAI.BaseURL,
			Model:   cfg.AI.OpenAI.Model,
			Timeout: config.Seconds(cfg.AI.OpenAI.TimeoutSeconds),
		})
	case "python_bridge":
		return pythonbridge.NewClient(cfg.AI.Python.PythonExecutable, cfg.AI.Python.ScriptPath, cfg.AI.Python.WorkingDir)
	default:
		return nil, fmt.Errorf("未知的 AI 提供方: %s", cfg.AI.Provider)
	}
}

func buildJobStore(ctx context.Context, cfg *config.Config) (worker.Store, error) {
	switch cfg.Worker.Store.Driver {
	case "memory":
		return worker.NewMemoryStore(), nil
	case "mysql":
		return worker.NewMySQLStore(ctx, cfg.Worker.Store.DSN)
	default:
		return nil, fmt.Errorf("未知的作业存储驱动: %s", cfg.Worker.Store.Driver)
	}
}

func buildQueue(ctx context.Context, cfg *config.Config) (worker.Queue, error) {
	q := cfg.Worker.Queue
	switch q.Driver {
	case "memory":
		return worker.NewMemoryQueue(q.Buffer), nil
	case "redis":
		return worker.NewRedisQueue(ctx, worker.RedisQueueConfig{
			Address:  q.Redis.Addr,
			Password: q.Redis.Password,
			DB:       q.Redis.DB,
			Key:      q.Redis.Key,
		})
	case "rabbitmq":
		return worker.NewRabbitMQQueue(worker.RabbitMQConfig{
			URL:      q.RabbitMQ.URL,
			Queue:    q.RabbitMQ.Queue,
			Prefetch: cfg.Worker.Concurrency,
			Durable:  true,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", q.Driver)
	}
}

func buildResourceRepository(ctx context.Context, cfg *config.Config) (store.Repository, error) {
	switch cfg.Store.Driver {
	case "memory":
		return store.NewMemoryRepository(cfg.Runtime.DataDir, cfg.Store.SnapshotFile)
	case "mysql":
		return mysql.NewResourceRepository(ctx, mysql.Config{DSN: cfg.Store.DSN}, cfg.Store.AutoMigrate)
	case "postgres":
		return postgres.NewResourceRepository(ctx, cfg.Store.DSN, cfg.Store.AutoMigrate)
	default:
		return nil, fmt.Errorf("未知的资源存储驱动: %s", cfg.Store.Driver)
	}
}

func buildKVBackend(ctx context.Context, cfg *config.Config) (kv.Backend, error) {
	switch cfg.KV.Driver {
	case "memory":
		return kv.NewMemoryBackend(), nil
	case "redis":
		return redis.NewKVBackend(ctx, redis.Config{
			Address:  cfg.KV.Redis.Addr,
			Password: cfg.KV.Redis.Password,
			DB:       cfg.KV.Redis.DB,
			Prefix:   cfg.KV.Prefix,
		})
	default:
		return nil, fmt.Errorf("未知的 KV 驱动: %s", cfg.KV.Driver)
	}
}
