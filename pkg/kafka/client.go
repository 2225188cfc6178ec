// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"github.com/gin280/doc-qa-system-sub000/internal/config"
	"github.com/gin280/doc-qa-system-sub000/pkg/log"
	"github.com/gin280/doc-qa-system-sub000/pkg/tasks"
)

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.DocumentProcessingTask) error
}

// Producer 封装了向处理主题发送任务的生产者。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 创建一个 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: writer}
}

// ProduceDocumentTask 发送一个文档处理任务到 Kafka。
func (p *Producer) ProduceDocumentTask(ctx context.Context, task tasks.DocumentProcessingTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx,
		kafka.Message{
			Key:   []byte(task.DocumentID),
			Value: taskBytes,
		},
	)
}

// Close 关闭底层 writer。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer 消费文档处理任务并交给 TaskProcessor 执行。
// 失败次数在 Redis 中计数，达到上限后提交 offset 终止重试。
type Consumer struct {
	cfg         config.KafkaConfig
	processor   TaskProcessor
	redisClient *redis.Client
	maxAttempts int
}

// NewConsumer 创建一个 Kafka 消费者。
func NewConsumer(cfg config.KafkaConfig, processor TaskProcessor, redisClient *redis.Client, maxAttempts int) *Consumer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Consumer{cfg: cfg, processor: processor, redisClient: redisClient, maxAttempts: maxAttempts}
}

// Run 启动消费循环，直到 ctx 取消或读取出错。
func (c *Consumer) Run(ctx context.Context) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{c.cfg.Brokers},
		Topic:    c.cfg.Topic,
		GroupID:  c.cfg.GroupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", c.cfg.Topic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("Kafka 消费者收到退出信号")
				break
			}
			log.Error("从 Kafka 读取消息失败", err)
			break
		}

		log.Infof("收到 Kafka 消息: offset %d", m.Offset)

		var task tasks.DocumentProcessingTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			if err := r.CommitMessages(ctx, m); err != nil {
				log.Errorf("提交错误消息失败: %v", err)
			}
			continue
		}

		log.Infof("开始处理文档任务: DocumentID=%s, FileName=%s", task.DocumentID, task.FileName)
		// 同步处理任务
		if err := c.processor.Process(ctx, task); err != nil {
			log.Errorf("处理文档任务失败: DocumentID=%s, Error: %v", task.DocumentID, err)
			// 使用 Redis 计数失败次数，达到阈值后提交 offset 终止重试
			attemptsKey := fmt.Sprintf("pipeline:attempts:%s", task.DocumentID)
			attempts, incErr := c.redisClient.Incr(ctx, attemptsKey).Result()
			if incErr != nil {
				// Redis 异常时保守处理：不提交 offset，让 Kafka 重试
				continue
			}
			_ = c.redisClient.Expire(ctx, attemptsKey, 24*time.Hour).Err()
			if attempts >= int64(c.maxAttempts) {
				log.Errorf("文档任务多次失败(>=%d)，提交 offset 终止重试: DocumentID=%s", c.maxAttempts, task.DocumentID)
				if err := r.CommitMessages(ctx, m); err != nil {
					log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
				}
			}
			// attempts 未达上限时，不提交 offset 让 Kafka 自动重试
		} else {
			log.Infof("文档任务处理成功: DocumentID=%s", task.DocumentID)
			// 清理失败计数
			_ = c.redisClient.Del(ctx, fmt.Sprintf("pipeline:attempts:%s", task.DocumentID)).Err()
			// 任务处理成功后，手动提交 offset
			if err := r.CommitMessages(ctx, m); err != nil {
				log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
			}
		}
	}

	if err := r.Close(); err != nil {
		log.Errorf("关闭 Kafka 消费者失败: %v", err)
	}
}
