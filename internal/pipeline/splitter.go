package pipeline

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"

	"mogu-chat/internal/model"
)

// SplitFunc 把全文切成有序的分块。
type SplitFunc func(text string, chunkSize, chunkOverlap int) ([]model.Chunk, error)

// NewSplitter 按名称返回切块策略：window 或 recursive。
func NewSplitter(name string) (SplitFunc, error) {
	switch name {
	case "window", "":
		return SplitText, nil
	case "recursive":
		return SplitRecursive, nil
	default:
		return nil, fmt.Errorf("未知的切块策略 %q", name)
	}
}

func validateChunking(chunkSize, chunkOverlap int) error {
	if chunkSize <= 0 {
		return fmt.Errorf("chunk_size 必须大于 0, 当前为 %d", chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return fmt.Errorf("chunk_overlap 必须满足 0 <= overlap < chunk_size, 当前为 %d/%d", chunkOverlap, chunkSize)
	}
	return nil
}

// SplitText 将长文本按固定的 rune 窗口切分，相邻分块重叠 chunkOverlap 个字符。
// 去掉重叠部分后按顺序拼接所有分块可以精确还原原文。
func SplitText(text string, chunkSize, chunkOverlap int) ([]model.Chunk, error) {
	if err := validateChunking(chunkSize, chunkOverlap); err != nil {
		return nil, err
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil, nil
	}

	var chunks []model.Chunk
	step := chunkSize - chunkOverlap
	for i := 0; i < len(runes); i += step {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		idx := len(chunks)
		chunks = append(chunks, model.Chunk{
			ID:     model.ChunkID(idx),
			Index:  idx,
			Offset: i,
			Text:   string(runes[i:end]),
		})
		if end == len(runes) {
			break
		}
	}
	return chunks, nil
}

// SplitRecursive 按段落、换行、空格的顺序递归切分，尽量不截断句子。
// 分块的偏移量通过在原文中向前查找得到，找不到时为 -1。
func SplitRecursive(text string, chunkSize, chunkOverlap int) ([]model.Chunk, error) {
	if err := validateChunking(chunkSize, chunkOverlap); err != nil {
		return nil, err
	}
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)
	parts, err := splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("递归切块失败: %w", err)
	}

	chunks := make([]model.Chunk, 0, len(parts))
	cursor := 0
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		offset := -1
		if pos := strings.Index(text[cursor:], part); pos >= 0 {
			byteOffset := cursor + pos
			offset = utf8.RuneCountInString(text[:byteOffset])
			_, size := utf8.DecodeRuneInString(text[byteOffset:])
			cursor = byteOffset + size
		}
		idx := len(chunks)
		chunks = append(chunks, model.Chunk{
			ID:     model.ChunkID(idx),
			Index:  idx,
			Offset: offset,
			Text:   part,
		})
	}
	return chunks, nil
}
