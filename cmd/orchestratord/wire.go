package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"OpenMCP-Orchestrator/internal/agent"
	"OpenMCP-Orchestrator/internal/auth"
	"OpenMCP-Orchestrator/internal/checkpoint"
	"OpenMCP-Orchestrator/internal/config"
	"OpenMCP-Orchestrator/internal/conversation"
	"OpenMCP-Orchestrator/internal/job"
	"OpenMCP-Orchestrator/internal/knowledge"
	"OpenMCP-Orchestrator/internal/llm"
	"OpenMCP-Orchestrator/internal/llm/openai"
	"OpenMCP-Orchestrator/internal/llm/pythonbridge"
	"OpenMCP-Orchestrator/internal/observability/alerting"
	"OpenMCP-Orchestrator/internal/storage/mysql"
	storageredis "OpenMCP-Orchestrator/internal/storage/redis"
	"OpenMCP-Orchestrator/internal/tools"
	"OpenMCP-Orchestrator/internal/tools/web3tools"
	"OpenMCP-Orchestrator/internal/web3"
	"OpenMCP-Orchestrator/internal/web3/ethereum"
	"OpenMCP-Orchestrator/internal/web3/provider"
	"OpenMCP-Orchestrator/pkg/logger"
)

// app 汇总进程内共享的组件，closers 按逆序释放。
type app struct {
	cfg          *config.Config
	orchestrator *agent.Orchestrator
	runner       *job.Runner
	alerts       alerting.Dispatcher
	pool         *mysql.Pool
	closers      []func() error
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close 释放所有已打开的资源。
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := logger.Sync(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// bootstrap 读取配置并装配编排引擎，出错时释放已创建的资源。
func bootstrap(ctx context.Context, path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	a := &app{cfg: cfg, pool: mysql.NewPool()}
	a.onClose(a.pool.Close)
	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg
	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return fmt.Errorf("创建数据目录失败: %w", err)
	}

	conversations, err := a.conversationStore(ctx)
	if err != nil {
		return err
	}
	checkpoints, err := a.checkpointStore(ctx)
	if err != nil {
		return err
	}
	client, err := createLLMClient(cfg)
	if err != nil {
		return err
	}
	catalog, err := a.toolCatalog(ctx)
	if err != nil {
		return err
	}
	registry, err := tools.NewRegistry(catalog...)
	if err != nil {
		return err
	}

	a.alerts = buildAlerts(cfg.Alerting)
	orch, err := agent.New(client, tools.NewDispatcher(registry), conversations, checkpoints,
		agent.WithReview(cfg.Orchestrator.ReviewEnabled),
		agent.WithMaxPasses(cfg.Orchestrator.MaxPasses),
		agent.WithMaxToolCalls(cfg.Orchestrator.MaxToolCalls),
		agent.WithHistoryDepth(cfg.Orchestrator.HistoryDepth),
		agent.WithLLMTimeout(cfg.LLM.Timeout),
		agent.WithAlerts(a.alerts),
	)
	if err != nil {
		return err
	}
	a.orchestrator = orch
	a.runner = job.NewRunner(orch)
	logger.L().Info("编排引擎已就绪",
		"llm_provider", cfg.LLM.Provider,
		"tools", registry.Names(),
		"review", cfg.Orchestrator.ReviewEnabled,
	)
	return nil
}

func (a *app) conversationStore(ctx context.Context) (conversation.Store, error) {
	sc := a.cfg.Storage.Conversation
	switch strings.ToLower(sc.Driver) {
	case "mysql":
		db, err := a.pool.Get(ctx, sc.DSN)
		if err != nil {
			return nil, err
		}
		return conversation.NewMySQLStore(db), nil
	case "memory":
		return conversation.NewFileStore("")
	default:
		return conversation.NewFileStore(filepath.Join(a.cfg.Runtime.DataDir, "conversations"))
	}
}

func (a *app) checkpointStore(ctx context.Context) (checkpoint.Store, error) {
	sc := a.cfg.Storage.Checkpoint
	switch strings.ToLower(sc.Driver) {
	case "mysql":
		db, err := a.pool.Get(ctx, sc.DSN)
		if err != nil {
			return nil, err
		}
		return checkpoint.NewMySQLStore(db), nil
	case "redis":
		client, err := storageredis.NewClient(ctx, sc.Redis)
		if err != nil {
			return nil, err
		}
		a.onClose(client.Close)
		return checkpoint.NewRedisStore(client, "", sc.TTL), nil
	default:
		return checkpoint.NewMemoryStore(), nil
	}
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch strings.ToLower(cfg.LLM.Provider) {
	case "python_bridge":
		py := cfg.LLM.Python
		return pythonbridge.NewClient(py.PythonExecutable, py.ScriptPath, py.WorkingDir)
	default:
		oc := cfg.LLM.OpenAI
		key := oc.APIKey
		if key == "" && oc.APIKeyEnv != "" {
			key = os.Getenv(oc.APIKeyEnv)
		}
		return openai.NewClient(openai.Config{
			APIKey:            key,
			BaseURL:           oc.BaseURL,
			Model:             oc.Model,
			Temperature:       oc.Temperature,
			Timeout:           cfg.LLM.Timeout,
			RequestsPerSecond: oc.RequestsPerSecond,
		})
	}
}

// toolCatalog 组装知识库检索工具，并在配置了链端点时追加 Web3 工具。
func (a *app) toolCatalog(ctx context.Context) ([]tools.Tool, error) {
	kc := a.cfg.Knowledge
	var kp *knowledge.StaticProvider
	if kc.Source != "" {
		loaded, err := knowledge.LoadStaticProvider(kc.Source, kc.MaxResults)
		if err != nil {
			return nil, err
		}
		kp = loaded
	} else {
		kp = knowledge.NewStaticProvider(knowledge.Builtin(), kc.MaxResults)
	}
	catalog := []tools.Tool{knowledge.NewTool(kp)}

	wc := a.cfg.Web3
	if !wc.Enabled {
		return catalog, nil
	}
	if wc.ChainConfig == "" && strings.TrimSpace(wc.RPCURL) == "" {
		logger.L().Warn("Web3 已启用但未配置链端点，跳过链上工具")
		return catalog, nil
	}
	chains, err := provider.NewRegistry(ctx, wc)
	if err != nil {
		return nil, err
	}
	a.onClose(func() error {
		chains.Close()
		return nil
	})

	var signer web3.Signer
	if wc.SignerKeyEnv != "" {
		if hexKey := strings.TrimSpace(os.Getenv(wc.SignerKeyEnv)); hexKey != "" {
			ks, err := ethereum.NewKeySigner(hexKey)
			if err != nil {
				return nil, fmt.Errorf("加载签名私钥失败: %w", err)
			}
			signer = ks
		}
	}
	return append(catalog, web3tools.All(chains, signer)...), nil
}

func buildAlerts(cfg config.AlertingConfig) alerting.Dispatcher {
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if url := strings.TrimSpace(cfg.WebhookURL); url != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(url, cfg.Timeout))
	}
	return alerting.NewFanout(notifiers...)
}

// jobStack 构造作业存储与队列，仅 serve 命令需要。
func (a *app) jobStack(ctx context.Context) (job.Store, job.Queue, error) {
	cfg := a.cfg
	var store job.Store
	switch strings.ToLower(cfg.Storage.Jobs.Driver) {
	case "mysql":
		db, err := a.pool.Get(ctx, cfg.Storage.Jobs.DSN)
		if err != nil {
			return nil, nil, err
		}
		store = job.NewMySQLStore(db)
	default:
		store = job.NewMemoryStore()
	}

	qc := cfg.Queue
	var queue job.Queue
	switch strings.ToLower(qc.Driver) {
	case "redis":
		client, err := storageredis.NewClient(ctx, qc.Redis)
		if err != nil {
			return nil, nil, err
		}
		rq, err := job.NewRedisQueue(client, qc.Name, job.WithOwnedClient())
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		queue = rq
	case "rabbitmq":
		mq, err := job.NewRabbitMQQueue(job.RabbitMQConfig{
			URL:      qc.RabbitMQ.URL,
			Queue:    qc.Name,
			Prefetch: qc.RabbitMQ.Prefetch,
			Durable:  true,
		})
		if err != nil {
			return nil, nil, err
		}
		queue = mq
	default:
		queue = job.NewMemoryQueue(qc.Buffer)
	}
	return store, queue, nil
}

func authService(cfg config.AuthConfig) (*auth.Service, error) {
	return auth.NewService(auth.Config{
		Mode:     auth.Mode(strings.ToLower(cfg.Mode)),
		Secret:   cfg.Secret,
		Issuer:   cfg.Issuer,
		Audience: cfg.Audience,
		TokenTTL: cfg.TokenTTL,
	})
}
