// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Retrieval     RetrievalConfig     `mapstructure:"retrieval"`
	Answer        AnswerConfig        `mapstructure:"answer"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置系统提示与上下文包裹格式（可选）。
type LLMPromptConfig struct {
	Rules        string `mapstructure:"rules"`
	RefStart     string `mapstructure:"ref_start"`
	RefEnd       string `mapstructure:"ref_end"`
	NoResultText string `mapstructure:"no_result_text"`
}

// PipelineConfig 存储文档处理管道的配置。
type PipelineConfig struct {
	ChunkSize     int           `mapstructure:"chunk_size"`      // 分块目标大小（rune 数）
	ChunkOverlap  int           `mapstructure:"chunk_overlap"`   // 相邻分块重叠（rune 数）
	BatchSize     int           `mapstructure:"batch_size"`      // 每批向量化的分块数
	Concurrency   int           `mapstructure:"concurrency"`     // 向量化工作协程数量
	EmbedTimeout  time.Duration `mapstructure:"embed_timeout"`   // 单批 Embedding 调用超时
	ConsumerRetry int           `mapstructure:"consumer_retry"`  // Kafka 消费侧任务最大尝试次数
	TextObjectDir string        `mapstructure:"text_object_dir"` // MinIO 中文本对象的目录前缀
}

// CacheConfig 存储两级缓存的 TTL 配置。
type CacheConfig struct {
	EmbeddingTTL time.Duration `mapstructure:"embedding_ttl"`
	RetrievalTTL time.Duration `mapstructure:"retrieval_ttl"`
}

// RetrievalConfig 存储检索排序相关的配置。
type RetrievalConfig struct {
	TopK     int     `mapstructure:"top_k"`
	MinScore float64 `mapstructure:"min_score"`
}

// AnswerConfig 存储答案生成的超时与 token 预算配置。
type AnswerConfig struct {
	FirstFragmentTimeout time.Duration `mapstructure:"first_fragment_timeout"`
	TotalTimeout         time.Duration `mapstructure:"total_timeout"`
	SimpleMaxTokens      int           `mapstructure:"simple_max_tokens"`
	ComplexMaxTokens     int           `mapstructure:"complex_max_tokens"`
	ContextBudget        int           `mapstructure:"context_budget"` // 上下文截断预算（rune 数）
}

// Load 从指定的路径读取 YAML 文件并解析为 Config，同时填充缺省值。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("kafka.group_id", "doc-qa-pipeline-consumer")
	v.SetDefault("pipeline.chunk_size", 1000)
	v.SetDefault("pipeline.chunk_overlap", 200)
	v.SetDefault("pipeline.batch_size", 20)
	v.SetDefault("pipeline.concurrency", 3)
	v.SetDefault("pipeline.embed_timeout", "30s")
	v.SetDefault("pipeline.consumer_retry", 3)
	v.SetDefault("pipeline.text_object_dir", "texts")
	v.SetDefault("cache.embedding_ttl", "1h")
	v.SetDefault("cache.retrieval_ttl", "30m")
	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.min_score", 0.3)
	v.SetDefault("answer.first_fragment_timeout", "5s")
	v.SetDefault("answer.total_timeout", "30s")
	v.SetDefault("answer.simple_max_tokens", 300)
	v.SetDefault("answer.complex_max_tokens", 500)
	v.SetDefault("answer.context_budget", 6000)
}
