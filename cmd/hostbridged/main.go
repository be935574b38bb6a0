package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"HostBridge/internal/ai"
	"HostBridge/internal/api"
	"HostBridge/internal/bridge"
	"HostBridge/internal/config"
	"HostBridge/internal/kv"
	"HostBridge/internal/natsbridge"
	"HostBridge/internal/observability/alerting"
	"HostBridge/internal/observability/metrics"
	"HostBridge/internal/store"
	"HostBridge/internal/worker"
	"HostBridge/pkg/logger"
)

// main 是 HostBridge 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("hostbridged 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("HOSTBRIDGE_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "hostbridge.yaml")
	}

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Named("hostbridged")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	var closers closeStack
	defer closers.closeAll(log)

	llmClient, err := buildLLMClient(cfg)
	if err != nil {
		return err
	}
	aiModule := ai.New(ai.WithClient(llmClient), ai.WithTimeout(config.Seconds(cfg.AI.OpenAI.TimeoutSeconds)))

	jobStore, err := buildJobStore(ctx, cfg)
	if err != nil {
		return err
	}
	closers.push("作业存储", jobStore.Close)

	queue, err := buildQueue(ctx, cfg)
	if err != nil {
		return err
	}
	closers.push("作业队列", queue.Close)

	repo, err := buildResourceRepository(ctx, cfg)
	if err != nil {
		return err
	}
	closers.push("资源存储", repo.Close)

	kvBackend, err := buildKVBackend(ctx, cfg)
	if err != nil {
		return err
	}
	closers.push("KV 后端", kvBackend.Close)
	kvModule := kv.NewModule(kvBackend)

	runners := worker.NewRunners()
	for kind, fn := range map[string]worker.RunFunc{
		"ai.generate":       aiModule.RunGenerate,
		"ai.classify_batch": aiModule.RunClassifyBatch,
		"kv.sweep":          kvModule.RunSweep,
	} {
		if err := runners.Register(kind, fn); err != nil {
			return err
		}
	}
	jobs := worker.NewService(jobStore, queue, runners, cfg.Worker.MaxRetries)

	ns := bridge.NewNamespace()
	coordinator := bridge.NewCoordinator(
		aiModule,
		worker.NewModule(jobs),
		store.NewModule(store.NewService(repo)),
		kvModule,
		bridge.WithVersionConstraints(cfg.Bridge.RequiredVersions),
	)
	if err := coordinator.RegisterAll(ns); err != nil {
		log.Error("子系统注册失败", slog.Any("error", err))
		return err
	}
	log.Info("命名空间已就绪", slog.Int("operations", ns.Len()))

	alerts := alerting.NewFanout(&alerting.LogNotifier{})
	processor := worker.NewProcessor(runners, jobStore, queue, queue,
		worker.WithWorkerCount(cfg.Worker.Concurrency),
		worker.WithJobTimeout(config.Seconds(cfg.Worker.JobTimeoutSeconds)),
		worker.WithAlertDispatcher(alerts),
	)

	recorder := metrics.NewRecorder(true)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 4)
	goRun := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("组件退出", slog.String("component", name), slog.Any("error", err))
				errCh <- err
			}
		}()
	}

	goRun("processor", func() error { return processor.Start(ctx) })
	goRun("recovery", func() error {
		processor.RunRecovery(ctx, config.Seconds(cfg.Worker.RecoveryIntervalSeconds), config.Seconds(cfg.Worker.StuckAfterSeconds))
		return nil
	})
	goRun("kv.sweep", func() error {
		jobs.Every(ctx, config.Seconds(cfg.Worker.KVSweepIntervalSeconds), worker.SubmitRequest{Kind: "kv.sweep", Payload: []byte(`{}`), MaxRetries: 1})
		return nil
	})

	server := api.NewServer(cfg.Server.Address, ns,
		api.WithMetrics(recorder),
		api.WithTimeouts(
			config.Seconds(cfg.Server.ReadTimeoutSeconds),
			config.Seconds(cfg.Server.WriteTimeoutSeconds),
			config.Seconds(cfg.Server.ShutdownTimeoutSeconds),
		),
	)
	goRun("http", func() error { return server.Start(ctx) })

	if cfg.NATS.Enabled {
		nc, err := natsbridge.Connect(cfg.NATS.URL, cfg.NATS.Name)
		if err != nil {
			cancel()
			wg.Wait()
			return err
		}
		defer nc.Close()
		adapter := natsbridge.NewAdapter(nc, ns,
			natsbridge.WithPrefix(cfg.NATS.SubjectPrefix),
			natsbridge.WithQueueGroup(cfg.NATS.QueueGroup),
			natsbridge.WithMetrics(recorder),
		)
		if err := adapter.Start(ctx); err != nil {
			cancel()
			wg.Wait()
			return err
		}
		defer adapter.Stop()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("收到退出信号，开始关闭")
	case runErr = <-errCh:
	}
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(config.Seconds(cfg.Server.ShutdownTimeoutSeconds)):
		log.Warn("等待组件退出超时")
	}
	return runErr
}

type closeStack struct {
	names []string
	fns   []func() error
}

func (s *closeStack) push(name string, fn func() error) {
	s.names = append(s.names, name)
	s.fns = append(s.fns, fn)
}

// closeAll 按创建的逆序关闭资源。
func (s *closeStack) closeAll(log *slog.Logger) {
	for i := len(s.fns) - 1; i >= 0; i-- {
		if err := s.fns[i](); err != nil {
			log.Warn("关闭资源失败", slog.String("resource", s.names[i]), slog.Any("error", err))
		}
	}
}
