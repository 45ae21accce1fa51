package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/config"
	mesEntity "github.com/bitfantasy/nimo-mes/internal/mes/entity"
	mesHandler "github.com/bitfantasy/nimo-mes/internal/mes/handler"
	mesRepo "github.com/bitfantasy/nimo-mes/internal/mes/repository"
	mesService "github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/bitfantasy/nimo-mes/internal/middleware"
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

	if err := mesEntity.AutoMigrate(db); err != nil {
		zapLogger.Fatal("Failed to auto-migrate MES tables", zap.Error(err))
	}
	zapLogger.Info("MES database migration completed")

	// 事件总线：Redis 可用时发布领域事件，否则降级为空实现
	var events mesService.EventBus = mesService.NoopEventBus{}
	if cfg.Redis.Host != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			zapLogger.Warn("Redis unavailable, domain events disabled", zap.Error(err))
		} else {
			events = mesService.NewRedisEventBus(rdb, cfg.Redis.EventChannel, zapLogger)
		}
	}

	// 后台任务
	tasks := mesService.NewTaskRunner(cfg.Tasks.QueueSize, zapLogger)
	defer tasks.Stop()

	// 初始化依赖
	repos := mesRepo.NewRepositories(db)
	notifier := mesService.NewLogNotifier(zapLogger)
	services := mesService.NewServices(db, repos, events, notifier, tasks, zapLogger)
	handlers := mesHandler.NewHandlers(services)

	// 逾期订单巡检
	overdueInterval := cfg.Tasks.OverdueCheckInterval
	if overdueInterval <= 0 {
		overdueInterval = time.Hour
	}
	overdueStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(overdueInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				tasks.Offload(mesService.TaskCheckOverdueBuilds, services.Build.CheckOverdueBuilds)
			case <-overdueStop:
				return
			}
		}
	}()
	defer close(overdueStop)

	// 确定端口
	port := config.GetEnvOrDefault("MES_PORT", "8082")
	if cfg.Server.Port != 0 {
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

	// 健康检查
	router.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "nimo-mes"})
	})
	router.GET("/health/ready", func(c *gin.Context) {
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
		// 物料与BOM
		parts := v1.Group("/parts")
		{
			parts.GET("", handlers.Part.List)
			parts.POST("", handlers.Part.Create)
			parts.GET("/:id", handlers.Part.Get)
			parts.GET("/:id/bom", handlers.Part.GetBOM)
			parts.POST("/:id/bom", handlers.Part.CreateBOMItem)
			parts.POST("/:id/bom/validate", handlers.Part.ValidateBOM)
			parts.POST("/:id/bom/lock", handlers.Part.LockBOM)
		}
		v1.POST("/bom-items/:bom_item_id/substitutes", handlers.Part.AddSubstitute)

		// 库存
		stock := v1.Group("/stock")
		{
			stock.GET("", handlers.Stock.List)
			stock.POST("", handlers.Stock.Create)
			stock.GET("/:id", handlers.Stock.Get)
			stock.GET("/:id/tracking", handlers.Stock.Tracking)
			stock.POST("/locations", handlers.Stock.CreateLocation)
		}

		// 生产订单
		builds := v1.Group("/builds")
		{
			builds.GET("", handlers.Build.List)
			builds.POST("", handlers.Build.Create)
			builds.GET("/:id", handlers.Build.Get)
			builds.PUT("/:id", handlers.Build.Update)
			builds.GET("/:id/lines", handlers.Build.Lines)
			builds.POST("/:id/issue", handlers.Build.Issue)
			builds.POST("/:id/hold", handlers.Build.Hold)
			builds.POST("/:id/revert", handlers.Build.Revert)
			builds.POST("/:id/cancel", handlers.Build.Cancel)
			builds.POST("/:id/complete", handlers.Build.Complete)
			builds.POST("/:id/allocate", handlers.Build.Allocate)
			builds.POST("/:id/deallocate", handlers.Build.Deallocate)
			builds.POST("/:id/auto-allocate", handlers.Build.AutoAllocate)
			builds.POST("/:id/outputs", handlers.Build.CreateOutput)
			builds.POST("/:id/outputs/complete", handlers.Build.CompleteOutput)
			builds.POST("/:id/outputs/scrap", handlers.Build.ScrapOutput)
			builds.DELETE("/:id/outputs/:output_id", handlers.Build.DeleteOutput)
			builds.GET("/:id/export/allocations", handlers.Build.ExportAllocations)
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
