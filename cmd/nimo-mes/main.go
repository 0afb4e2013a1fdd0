package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitfantasy/nimo-mes/internal/config"
	mesEntity "github.com/bitfantasy/nimo-mes/internal/mes/entity"
	mesHandler "github.com/bitfantasy/nimo-mes/internal/mes/handler"
	mesRepo "github.com/bitfantasy/nimo-mes/internal/mes/repository"
	mesService "github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/bitfantasy/nimo-mes/internal/middleware"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// 加载 .env 文件
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	zapLogger, err := initLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting nimo-mes service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
	)

	// 初始化数据库
	db, err := initDatabase(cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}

	// AutoMigrate MES tables
	if err := mesEntity.AutoMigrate(db); err != nil {
		zapLogger.Fatal("Failed to auto-migrate MES tables", zap.Error(err))
	}
	if err := mesEntity.SeedStatusTransitions(db); err != nil {
		zapLogger.Fatal("Failed to seed status transitions", zap.Error(err))
	}
	zapLogger.Info("MES database migration completed")

	// 初始化 Redis（单号序列用，连接失败时降级运行）
	rdb := initRedis(cfg.Redis)
	if rdb != nil {
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			zapLogger.Warn("Redis unavailable, sequence codes fall back to timestamps", zap.Error(err))
			rdb = nil
		}
	}

	// 初始化 MES 依赖
	repos := mesRepo.NewRepositories(db)
	services := mesService.NewServices(repos, db, rdb, zapLogger, cfg)
	handlers := mesHandler.NewHandlers(services)

	// 确定端口
	port := os.Getenv("MES_PORT")
	if port == "" {
		port = fmt.Sprintf("%d", cfg.Server.Port)
	}

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(zapLogger))
	router.Use(middleware.CORS())
	router.Use(middleware.RequestID())
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	// 健康检查
	router.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "nimo-mes"})
	})
	router.GET("/health/ready", func(c *gin.Context) {
		sqlDB, dbErr := db.DB()
		if dbErr != nil || sqlDB.Ping() != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "service": "nimo-mes"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "nimo-mes"})
	})

	// 版本信息
	router.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":    "nimo-mes",
			"version":    Version,
			"build_time": BuildTime,
		})
	})

	// MES API v1
	v1 := router.Group("/api/v1/mes")
	v1.Use(middleware.JWTAuth(cfg.JWT.Secret))
	{
		// 生产运行
		runs := v1.Group("/production-runs")
		{
			runs.GET("", handlers.Run.List)
			runs.POST("", handlers.Run.Create)
			runs.GET("/:id", handlers.Run.Get)
			runs.GET("/:id/status-history", handlers.Run.StatusHistory)
			runs.GET("/:id/costs", handlers.Run.Costs)
			runs.POST("/:id/tasks/:taskId/status", handlers.Run.ChangeTaskStatus)
			runs.POST("/:id/declare", handlers.Run.Declare)
			runs.POST("/:id/return-materials", handlers.Run.ReturnMaterials)
		}

		// 工艺任务
		tasks := v1.Group("/tasks")
		{
			tasks.POST("/:taskId/reserve", handlers.Run.Reserve)
			tasks.POST("/:taskId/issue", handlers.Run.Issue)
		}

		// 库存查询
		inventory := v1.Group("/inventory")
		{
			inventory.GET("", handlers.Inventory.List)
			inventory.GET("/:productId", handlers.Inventory.GetByProduct)
		}
	}

	// 创建HTTP服务器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 启动服务器
	go func() {
		zapLogger.Info("MES Server starting", zap.String("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down MES server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}

	zapLogger.Info("MES Server exited")
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}
	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}
	return zapCfg.Build()
}

func initDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	}
	db, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	return db, nil
}

func initRedis(cfg config.RedisConfig) *redis.Client {
	if cfg.Host == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}
