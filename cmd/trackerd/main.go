package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"position-sync-go/broker"
	"position-sync-go/config"
	"position-sync-go/infrastructure/logger"
	"position-sync-go/metrics"
	"position-sync-go/tracker"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	metricsAddr := flag.String("metricsAddr", "", "Prometheus metrics 监听地址，覆盖配置文件；留空取配置值")
	flag.Parse()

	// .env 里的 PS_BRIDGE_TOKEN 等覆盖敏感字段
	_ = godotenv.Load()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	logCfg := logger.DefaultConfig()
	if cfg.Log.Level != "" {
		logCfg.Level = cfg.Log.Level
	}
	if cfg.Log.Encoding != "" {
		logCfg.Format = cfg.Log.Encoding
	}
	base, err := logger.New(logCfg)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer base.Close()
	lg := base.WithFields(map[string]interface{}{"app": "trackerd", "env": cfg.Env})

	addr := cfg.Metrics.Addr
	if *metricsAddr != "" {
		addr = *metricsAddr
	}
	if addr != "" {
		metrics.StartMetricsServer(addr)
	}

	session := broker.NewBridgeSession(cfg.Bridge.BaseURL, cfg.Bridge.WSEndpoint, cfg.Bridge.Token)
	if cfg.Bridge.RateLimit > 0 {
		session.Limiter = broker.NewTokenBucketLimiter(cfg.Bridge.RateLimit, cfg.Bridge.RateBurst)
	}

	// 部位簿事件按类别走结构化日志出口
	sink := func(event string, fields map[string]interface{}) {
		account, _ := fields["account"].(string)
		switch event {
		case "deal_applied", "position_removed", "daytrade_pair_unknown":
			lg.LogDeal(event, account, fields)
		case "corrections_applied":
			count, _ := fields["count"].(int)
			lg.LogReconcile(account, count, fields)
		case "yd_offsets_rebuilt":
			trades, _ := fields["trades"].(int)
			lg.LogReconcile(account, trades, fields)
		default:
			lg.LogSync(event, account, fields)
		}
	}

	tr, err := tracker.New(session, tracker.Config{
		SyncThreshold:     cfg.Sync.Threshold(),
		QueryTimeout:      cfg.Sync.QueryTimeout(),
		ReconcileInterval: cfg.Sync.ReconcileInterval(),
	}, lg.Logger, sink)
	if err != nil {
		lg.Fatal("初始化部位跟踪失败", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr.Reconciler().Start(ctx)

	// 配置热更新：只动同步阈值与查询超时，其余字段重启生效
	watcher, err := config.NewWatcher(*cfgPath, 5*time.Second)
	if err != nil {
		lg.LogError(err, map[string]interface{}{"component": "config_watcher"})
	} else {
		err := watcher.Start(ctx, func(next config.AppConfig) {
			tr.UpdateSyncThreshold(next.Sync.Threshold())
			tr.UpdateQueryTimeout(next.Sync.QueryTimeout())
			lg.Info("同步参数已热更新",
				zap.Duration("threshold", next.Sync.Threshold()),
				zap.Duration("queryTimeout", next.Sync.QueryTimeout()))
		})
		if err != nil {
			lg.Warn("配置监听启动失败", zap.Error(err))
		} else {
			defer watcher.Stop()
		}
	}

	go func() {
		if err := session.Run(ctx); err != nil && ctx.Err() == nil {
			lg.LogError(err, map[string]interface{}{"component": "bridge_session"})
			cancel()
		}
	}()

	lg.Info("trackerd started",
		zap.String("env", cfg.Env),
		zap.String("bridge", cfg.Bridge.BaseURL),
		zap.Duration("syncThreshold", cfg.Sync.Threshold()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}
	cancel()
	lg.Info("trackerd exit")
}
