// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gin280/doc-qa-system-sub000/internal/cache"
	"github.com/gin280/doc-qa-system-sub000/internal/config"
	"github.com/gin280/doc-qa-system-sub000/internal/handler"
	"github.com/gin280/doc-qa-system-sub000/internal/middleware"
	"github.com/gin280/doc-qa-system-sub000/internal/model"
	"github.com/gin280/doc-qa-system-sub000/internal/pipeline"
	"github.com/gin280/doc-qa-system-sub000/internal/repository"
	"github.com/gin280/doc-qa-system-sub000/internal/service"
	"github.com/gin280/doc-qa-system-sub000/pkg/database"
	"github.com/gin280/doc-qa-system-sub000/pkg/embedding"
	"github.com/gin280/doc-qa-system-sub000/pkg/kafka"
	"github.com/gin280/doc-qa-system-sub000/pkg/llm"
	"github.com/gin280/doc-qa-system-sub000/pkg/log"
	"github.com/gin280/doc-qa-system-sub000/pkg/storage"
	"github.com/gin280/doc-qa-system-sub000/pkg/vectorindex"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load("./configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化外部依赖客户端
	db, err := database.NewMySQL(cfg.Database.MySQL.DSN)
	if err != nil {
		log.Fatalf("MySQL 初始化失败: %v", err)
	}
	if err := db.AutoMigrate(&model.Document{}, &model.Chunk{}); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}
	redisClient, err := database.NewRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	if err != nil {
		log.Fatalf("Redis 初始化失败: %v", err)
	}
	store, err := storage.NewMinioStore(cfg.MinIO)
	if err != nil {
		log.Fatalf("MinIO 初始化失败: %v", err)
	}
	index, err := vectorindex.NewESIndex(cfg.Elasticsearch, cfg.Embedding.Dimensions)
	if err != nil {
		log.Fatalf("向量索引初始化失败: %v", err)
	}
	producer := kafka.NewProducer(cfg.Kafka)
	defer producer.Close()

	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)

	// 4. 初始化 Repository 与缓存
	docRepo := repository.NewDocumentRepository(db)
	chunkRepo := repository.NewChunkRepository(db)
	convRepo := repository.NewConversationRepository(redisClient)
	embeddingCache := cache.NewEmbeddingCache(redisClient, embeddingClient.ModelVersion(), embeddingClient.Dimensions(), cfg.Cache.EmbeddingTTL)
	retrievalCache := cache.NewRetrievalCache(redisClient, cfg.Cache.RetrievalTTL)

	// 5. 初始化 Service (依赖注入)
	retrievalService := service.NewRetrievalService(embeddingClient, embeddingCache, retrievalCache, index, cfg.Retrieval)
	documentService := service.NewDocumentService(docRepo, chunkRepo, store, index, producer, retrievalCache, cfg.Pipeline)
	answerService := service.NewAnswerService(retrievalService, llmClient, convRepo, cfg.LLM.Prompt, cfg.Answer)

	// 6. 初始化文档处理管道 (Processor)
	processor := pipeline.NewProcessor(store, embeddingClient, index, docRepo, chunkRepo, cfg.Pipeline)

	// 7. 启动后台 Kafka 消费者，停机时通过 context 取消
	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	defer cancelConsumer()
	consumer := kafka.NewConsumer(cfg.Kafka, processor, redisClient, cfg.Pipeline.ConsumerRetry)
	go consumer.Run(consumerCtx)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的日志中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		documents := apiV1.Group("/documents")
		{
			docHandler := handler.NewDocumentHandler(documentService)
			documents.POST("", docHandler.Ingest)
			documents.GET("", docHandler.List)
			documents.GET("/:id", docHandler.Get)
			documents.DELETE("/:id", docHandler.Delete)
		}

		search := apiV1.Group("/search")
		{
			search.GET("", handler.NewSearchHandler(retrievalService).Search)
		}
	}
	// Chat 路由 (WebSocket)
	r.GET("/chat", handler.NewChatHandler(answerService).Handle)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 先停消费者，避免停机过程中继续拉取新任务
	cancelConsumer()

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}
