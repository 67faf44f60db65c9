package model

import "time"

// IndexManifest 记录构建索引时使用的模型与参数，随索引一起落盘。
// 服务端打开索引时据此校验 embedding 模型是否一致。
type IndexManifest struct {
	EmbeddingModel string    `yaml:"embedding_model"`
	Dimension      int       `yaml:"dimension"`
	Normalized     bool      `yaml:"normalized"`
	Compressed     bool      `yaml:"compressed"`
	ChunkCount     int       `yaml:"chunk_count"`
	ChunkSize      int       `yaml:"chunk_size"`
	ChunkOverlap   int       `yaml:"chunk_overlap"`
	Splitter       string    `yaml:"splitter"`
	Source         string    `yaml:"source"`
	BuiltAt        time.Time `yaml:"built_at"`
}
