package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding/htmlindex"

	"mogu-chat/internal/model"
	"mogu-chat/pkg/log"
	"mogu-chat/pkg/storage"
	"mogu-chat/pkg/tika"
)

// ErrIngest 表示语料无法读取、解码或内容为空，构建直接失败，不重试。
var ErrIngest = errors.New("ingest failed")

// ObjectFetcher 从对象存储读取语料。
type ObjectFetcher interface {
	Fetch(ctx context.Context, bucket, object string) ([]byte, error)
}

// Loader 读取单个语料来源并解码为纯文本。
type Loader struct {
	tikaClient *tika.Client
	objects    ObjectFetcher
}

// NewLoader 创建 Loader。tikaClient 与 objects 均可为 nil。
func NewLoader(tikaClient *tika.Client, objects ObjectFetcher) *Loader {
	return &Loader{tikaClient: tikaClient, objects: objects}
}

var textExtensions = map[string]bool{
	"":          true,
	".txt":      true,
	".text":     true,
	".md":       true,
	".markdown": true,
	".csv":      true,
}

// Load 读取 source（本地路径或 minio://bucket/object）并按 encoding 解码。
// PDF 默认由 ledongthuc/pdf 解析；配置了 Tika 时，非纯文本文件交给 Tika 处理。
func (l *Loader) Load(ctx context.Context, source, encoding string) (model.Document, error) {
	log.Infof("[Loader] 开始读取语料, source: %s, encoding: %s", source, encoding)

	data, err := l.read(ctx, source)
	if err != nil {
		return model.Document{}, fmt.Errorf("%w: 读取 %s 失败: %v", ErrIngest, source, err)
	}
	if len(data) == 0 {
		return model.Document{}, fmt.Errorf("%w: %s 内容为空", ErrIngest, source)
	}

	ext := strings.ToLower(filepath.Ext(source))
	var text string
	switch {
	case textExtensions[ext]:
		text, err = decodeText(data, encoding)
	case l.tikaClient != nil:
		log.Infof("[Loader] 使用Tika提取文本, source: %s", source)
		text, err = l.tikaClient.ExtractText(ctx, bytes.NewReader(data), filepath.Base(source))
	case ext == ".pdf":
		text, err = extractPDF(data)
	default:
		err = fmt.Errorf("不支持的文件格式 %s", ext)
	}
	if err != nil {
		return model.Document{}, fmt.Errorf("%w: 解析 %s 失败: %v", ErrIngest, source, err)
	}
	if strings.TrimSpace(text) == "" {
		return model.Document{}, fmt.Errorf("%w: %s 提取的文本内容为空", ErrIngest, source)
	}

	log.Infof("[Loader] 语料读取成功, 内容长度: %d 字符", utf8.RuneCountInString(text))
	return model.Document{Path: source, Text: text}, nil
}

func (l *Loader) read(ctx context.Context, source string) ([]byte, error) {
	if !storage.IsObjectSource(source) {
		return os.ReadFile(source)
	}
	if l.objects == nil {
		return nil, errors.New("对象存储未配置")
	}
	bucket, object, err := storage.ParseSource(source)
	if err != nil {
		return nil, err
	}
	return l.objects.Fetch(ctx, bucket, object)
}

// decodeText 把字节按给定编码（utf-8、euc-kr、cp949 等 WHATWG 名称）解码为 UTF-8 字符串。
func decodeText(data []byte, encoding string) (string, error) {
	if encoding == "" {
		encoding = "utf-8"
	}
	enc, err := htmlindex.Get(encoding)
	if err != nil {
		return "", fmt.Errorf("未知的编码 %q: %w", encoding, err)
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("按 %s 解码失败: %w", encoding, err)
	}
	return strings.TrimPrefix(string(out), "\ufeff"), nil
}

// extractPDF 逐页提取纯文本，页与页之间以换行分隔。
func extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	pages := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("第 %d 页: %w", i, err)
		}
		pages = append(pages, pageText)
	}
	return strings.Join(pages, "\n"), nil
}
