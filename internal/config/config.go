// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Credential CredentialConfig `mapstructure:"credential"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Index      IndexConfig      `mapstructure:"index"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	Session    SessionConfig    `mapstructure:"session"`
	Chat       ChatConfig       `mapstructure:"chat"`
	Redis      RedisConfig      `mapstructure:"redis"`
	MinIO      MinIOConfig      `mapstructure:"minio"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// CredentialConfig 描述推理 API 凭证的来源：先查 secrets 文件，再查 .env 与环境变量。
type CredentialConfig struct {
	SecretsFile string `mapstructure:"secrets_file"`
	SecretsKey  string `mapstructure:"secrets_key"`
	EnvFile     string `mapstructure:"env_file"`
	EnvKey      string `mapstructure:"env_key"`
}

// IngestConfig 存储语料读取与切块的配置。
type IngestConfig struct {
	Source       string `mapstructure:"source"`
	Encoding     string `mapstructure:"encoding"`
	ChunkSize    int    `mapstructure:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap"`
	Splitter     string `mapstructure:"splitter"` // window | recursive
	TikaURL      string `mapstructure:"tika_url"`
}

// IndexConfig 存储磁盘向量索引的位置。
type IndexConfig struct {
	Dir        string `mapstructure:"dir"`
	Collection string `mapstructure:"collection"`
	Compress   bool   `mapstructure:"compress"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	Provider   string        `mapstructure:"provider"` // hf | openai
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"`
	Dimensions int           `mapstructure:"dimensions"`
	Normalize  bool          `mapstructure:"normalize"`
	BatchSize  int           `mapstructure:"batch_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	Provider   string              `mapstructure:"provider"` // hf | openai
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Timeout    time.Duration       `mapstructure:"timeout"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置固定的解码参数。未配置的字段为 nil，不下发给推理端点；0 是合法取值。
type LLMGenerationConfig struct {
	Temperature  *float64 `mapstructure:"temperature"`
	TopP         *float64 `mapstructure:"top_p"`
	MaxNewTokens *int     `mapstructure:"max_new_tokens"`
}

// LLMPromptConfig 配置提示词模板，使用 {{.context}} 与 {{.question}} 两个变量。
type LLMPromptConfig struct {
	Template         string `mapstructure:"template"`
	ContextSeparator string `mapstructure:"context_separator"`
}

// RetrievalConfig 存储检索相关的配置。
type RetrievalConfig struct {
	TopK int `mapstructure:"top_k"`
}

// SessionConfig 存储浏览器会话相关的配置。
type SessionConfig struct {
	Store       string        `mapstructure:"store"` // memory | redis
	TTL         time.Duration `mapstructure:"ttl"`
	TokenSecret string        `mapstructure:"token_secret"`
}

// ChatConfig 存储聊天界面相关的配置。
type ChatConfig struct {
	Title       string             `mapstructure:"title"`
	Stream      bool               `mapstructure:"stream"`
	TurnTimeout time.Duration      `mapstructure:"turn_timeout"`
	Suggestions []SuggestionConfig `mapstructure:"suggestions"`
}

// SuggestionConfig 是一个预设问题按钮。
type SuggestionConfig struct {
	Label    string `mapstructure:"label"`
	Question string `mapstructure:"question"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MinIOConfig 存储 MinIO 对象存储的配置，仅在语料来源为 minio:// 时使用。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

// DefaultPromptTemplate 是默认的问答提示词。
const DefaultPromptTemplate = `당신은 '모구' 서비스에 대한 질문에 답변하는 친절한 AI 어시스턴트입니다.
제공된 컨텍스트 정보만을 사용하여 사용자의 질문에 답변해 주세요.
응답은 반드시 한국어로 해 주세요.

컨텍스트:
{{.context}}

질문:
{{.question}}

답변:
`

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8501")
	v.SetDefault("server.mode", "release")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output_path", "")

	v.SetDefault("credential.secrets_file", ".secrets/secrets.toml")
	v.SetDefault("credential.secrets_key", "HUGGINGFACEHUB_API_TOKEN")
	v.SetDefault("credential.env_file", ".env")
	v.SetDefault("credential.env_key", "HUGGINGFACEHUB_API_TOKEN")

	v.SetDefault("ingest.source", "data.txt")
	v.SetDefault("ingest.encoding", "utf-8")
	v.SetDefault("ingest.chunk_size", 500)
	v.SetDefault("ingest.chunk_overlap", 50)
	v.SetDefault("ingest.splitter", "window")
	v.SetDefault("ingest.tika_url", "")

	v.SetDefault("index.dir", "vector_db")
	v.SetDefault("index.collection", "mogu")
	v.SetDefault("index.compress", false)

	v.SetDefault("embedding.provider", "hf")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.base_url", "https://router.huggingface.co/hf-inference/models")
	v.SetDefault("embedding.model", "sentence-transformers/all-MiniLM-L6-v2")
	v.SetDefault("embedding.dimensions", 0)
	v.SetDefault("embedding.normalize", true)
	v.SetDefault("embedding.batch_size", 32)
	v.SetDefault("embedding.timeout", "30s")
	v.SetDefault("embedding.max_retries", 2)

	v.SetDefault("llm.provider", "hf")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://router.huggingface.co/hf-inference/models")
	v.SetDefault("llm.model", "google/gemma-2b-it")
	v.SetDefault("llm.timeout", "120s")
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.generation.temperature", 0.1)
	v.SetDefault("llm.generation.max_new_tokens", 512)
	v.SetDefault("llm.prompt.template", DefaultPromptTemplate)
	v.SetDefault("llm.prompt.context_separator", "\n\n")

	v.SetDefault("retrieval.top_k", 4)

	v.SetDefault("session.store", "memory")
	v.SetDefault("session.ttl", "24h")
	v.SetDefault("session.token_secret", "")

	v.SetDefault("chat.title", "모구챗 ✨")
	v.SetDefault("chat.stream", true)
	v.SetDefault("chat.turn_timeout", "3m")
	v.SetDefault("chat.suggestions", []map[string]string{
		{"label": "수수료 제한", "question": "모구 수수료 제한은 어떻게 되나요?"},
		{"label": "마감 기한", "question": "모구 마감 기한은 며칠까지 가능한가요?"},
		{"label": "판매 금지 품목", "question": "모구에서 팔면 안되는 물건은 무엇인가요?"},
	})

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("minio.endpoint", "")
	v.SetDefault("minio.access_key_id", "")
	v.SetDefault("minio.secret_access_key", "")
	v.SetDefault("minio.use_ssl", false)
}

// Load 读取指定路径的 YAML 配置。文件不存在时仅使用默认值与 MOGU_ 前缀的环境变量。
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("MOGU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// top_p 没有默认值，需显式绑定才能从环境变量读取
	_ = v.BindEnv("llm.generation.top_p")

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !isNotExist(err) {
				return Config{}, fmt.Errorf("读取配置文件失败: %w", err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Init 加载配置到全局变量 Conf，失败时 panic。
func Init(configPath string) {
	c, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = c
}

// Validate 检查互相约束的配置项。
func (c Config) Validate() error {
	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("ingest.chunk_size 必须大于 0, 当前为 %d", c.Ingest.ChunkSize)
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap 必须满足 0 <= overlap < chunk_size, 当前为 %d/%d", c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	switch c.Ingest.Splitter {
	case "window", "recursive":
	default:
		return fmt.Errorf("未知的 ingest.splitter: %q", c.Ingest.Splitter)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k 必须大于 0, 当前为 %d", c.Retrieval.TopK)
	}
	switch c.Session.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("未知的 session.store: %q", c.Session.Store)
	}
	if c.Index.Dir == "" || c.Index.Collection == "" {
		return errors.New("index.dir 与 index.collection 不能为空")
	}
	return nil
}
