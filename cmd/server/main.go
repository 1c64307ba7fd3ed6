package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"kudos-engine/backend/config"
	"kudos-engine/backend/internal/api/handler"
	"kudos-engine/backend/internal/api/router"
	"kudos-engine/backend/internal/notify"
	"kudos-engine/backend/internal/repository"
	"kudos-engine/backend/internal/scheduler"
	"kudos-engine/backend/internal/service"
	"kudos-engine/backend/pkg/database"
	"kudos-engine/backend/pkg/jwt"
	applogger "kudos-engine/backend/pkg/logger"
	"kudos-engine/backend/pkg/redis"
)

func main() {
	// 0. 本地开发时从 .env 注入环境变量（文件不存在忽略）
	_ = godotenv.Load()

	// 1. 加载配置
	cfg, err := config.Load(os.Getenv("KUDOS_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	logger, err := applogger.NewLogger(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("应用启动中...",
		zap.Int("port", cfg.Server.Port),
		zap.String("log_level", cfg.Log.Level),
	)

	// 3. 连接数据库并迁移
	db, err := database.NewDB(&cfg.Database, cfg.Log.Level, logger)
	if err != nil {
		logger.Fatal("数据库连接失败", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("获取底层 sql.DB 失败", zap.Error(err))
	}
	if err := database.RunMigrations(sqlDB, logger); err != nil {
		logger.Fatal("数据库迁移失败", zap.Error(err))
	}

	// 4. 连接 Redis（可选：失败时降级为无缓存、无限流、单实例调度）
	rdb, err := redis.NewClient(&cfg.Redis, logger)
	if err != nil {
		logger.Warn("Redis 连接失败，降级运行", zap.Error(err))
		rdb = nil
	}

	// 5. 通知渠道
	gateway := notify.NewHTTPGateway(
		cfg.Notification.GatewayBaseURL,
		cfg.Notification.AppID,
		cfg.Notification.AppSecret,
		cfg.Notification.Timeout,
	)
	registry := notify.NewRegistry(notify.NewTeamsProvider(gateway, logger))
	dispatcher := notify.NewDispatcher(&cfg.Notification, registry, logger)

	// 6. 依赖注入: Repository → Service → Handler
	repo := repository.NewRepository(db)
	svc := service.NewService(cfg, repo, rdb, dispatcher, logger)
	dispatcher.Start(svc.Ledger)

	var locker scheduler.Locker
	if rdb != nil {
		locker = rdb
	}
	resetter := scheduler.New(&cfg.Scheduler, repo.Quota, locker, logger)
	if cfg.Scheduler.Enabled {
		resetter.Start()
	} else {
		logger.Info("额度重置调度未启用，仅支持手动触发")
	}

	h := handler.NewHandler(svc, resetter)
	jwtMgr := jwt.NewManager(&cfg.Auth)

	// 7. 初始化路由
	engine := router.Setup(cfg, h, svc.Identity, jwtMgr, rdb, logger)

	// 8. 启动 HTTP 服务器（优雅关闭）
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP 服务器已启动", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP 服务器异常", zap.Error(err))
		}
	}()

	// 9. 监听系统信号，优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("收到关闭信号，开始优雅关闭...", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("服务器关闭异常", zap.Error(err))
	}

	// 先停调度与通知，再断开存储
	resetter.Stop()
	if err := dispatcher.Stop(ctx); err != nil {
		logger.Warn("通知队列未能在超时前排空", zap.Error(err))
	}

	if err := sqlDB.Close(); err != nil {
		logger.Warn("关闭数据库连接失败", zap.Error(err))
	}
	if rdb != nil {
		rdb.Close()
	}

	logger.Info("服务器已关闭")
}
