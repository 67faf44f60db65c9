// Package model 包含了应用的数据模型定义。
package model

import "fmt"

// Document 是一份原始语料：来源路径与解码后的全文。切块后即丢弃。
type Document struct {
	Path string
	Text string
}

// Chunk 是 Document 的一段连续子串，也是检索的最小单位。
// Offset 为该段在原文中的 rune 偏移量。
type Chunk struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Index  int    `json:"index"`
	Offset int    `json:"offset"`
	Text   string `json:"text"`
}

// ChunkID 生成分块在索引中的唯一标识。
func ChunkID(index int) string {
	return fmt.Sprintf("chunk-%06d", index)
}

// SearchResult 是一条检索命中，Score 为余弦相似度。
type SearchResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float32 `json:"score"`
}
