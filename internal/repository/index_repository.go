package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/philippgille/chromem-go"
	"gopkg.in/yaml.v3"

	"mogu-chat/internal/config"
	"mogu-chat/internal/model"
	"mogu-chat/pkg/log"
)

const manifestFile = "manifest.yaml"

var (
	// ErrIndexNotFound 表示索引目录、清单或集合不存在。
	ErrIndexNotFound = errors.New("vector index not found")
	// ErrIndexEmpty 表示索引中没有任何分块。
	ErrIndexEmpty = errors.New("vector index is empty")
	// ErrModelMismatch 表示索引的 embedding 模型或维度与当前配置不一致。
	ErrModelMismatch = errors.New("embedding model does not match the index")
)

// IndexRepository 是只读的向量索引，可被多个会话并发查询。
type IndexRepository interface {
	Search(ctx context.Context, vector []float32, k int) ([]model.SearchResult, error)
	Manifest() model.IndexManifest
	Count() int
}

type chromemIndexRepository struct {
	manifest   model.IndexManifest
	collection *chromem.Collection
}

// 索引只按向量查询，集合不需要自带 embedding 函数。
func noEmbedding(_ context.Context, _ string) ([]float32, error) {
	return nil, errors.New("text queries are not supported, pass a query vector")
}

// OpenIndex 打开磁盘上的索引并校验清单中的 embedding 模型。
func OpenIndex(cfg config.IndexConfig, embeddingModel string) (IndexRepository, error) {
	if _, err := os.Stat(cfg.Dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: 目录 %s 不存在", ErrIndexNotFound, cfg.Dir)
		}
		return nil, fmt.Errorf("检查索引目录失败: %w", err)
	}
	manifest, err := ReadManifest(cfg.Dir)
	if err != nil {
		return nil, err
	}
	if embeddingModel != "" && manifest.EmbeddingModel != embeddingModel {
		return nil, fmt.Errorf("%w: 索引使用 %s, 当前配置为 %s", ErrModelMismatch, manifest.EmbeddingModel, embeddingModel)
	}

	db, err := chromem.NewPersistentDB(cfg.Dir, manifest.Compressed)
	if err != nil {
		return nil, fmt.Errorf("加载向量索引失败: %w", err)
	}
	collection := db.GetCollection(cfg.Collection, noEmbedding)
	if collection == nil {
		return nil, fmt.Errorf("%w: 集合 %s 不存在", ErrIndexNotFound, cfg.Collection)
	}
	if collection.Count() == 0 {
		return nil, ErrIndexEmpty
	}
	if collection.Count() != manifest.ChunkCount {
		log.Warnf("[IndexRepository] 索引分块数 %d 与清单记录 %d 不一致", collection.Count(), manifest.ChunkCount)
	}
	log.Infof("[IndexRepository] 索引加载成功, dir: %s, model: %s, chunks: %d", cfg.Dir, manifest.EmbeddingModel, collection.Count())
	return &chromemIndexRepository{manifest: manifest, collection: collection}, nil
}

func (r *chromemIndexRepository) Manifest() model.IndexManifest { return r.manifest }

func (r *chromemIndexRepository) Count() int { return r.collection.Count() }

// Search 返回与 vector 余弦相似度最高的 k 个分块，按分数降序排列。
// k 大于分块总数时返回全部分块。
func (r *chromemIndexRepository) Search(ctx context.Context, vector []float32, k int) ([]model.SearchResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k 必须大于 0, 当前为 %d", k)
	}
	if r.manifest.Dimension > 0 && len(vector) != r.manifest.Dimension {
		return nil, fmt.Errorf("%w: 查询向量维度 %d, 索引维度 %d", ErrModelMismatch, len(vector), r.manifest.Dimension)
	}
	if n := r.collection.Count(); k > n {
		k = n
	}
	res, err := r.collection.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("向量检索失败: %w", err)
	}
	results := make([]model.SearchResult, 0, len(res))
	for _, hit := range res {
		results = append(results, model.SearchResult{
			Chunk: chunkFromMetadata(hit.ID, hit.Content, hit.Metadata),
			Score: hit.Similarity,
		})
	}
	return results, nil
}

func chunkFromMetadata(id, content string, md map[string]string) model.Chunk {
	index, _ := strconv.Atoi(md["index"])
	offset, _ := strconv.Atoi(md["offset"])
	return model.Chunk{
		ID:     id,
		Source: md["source"],
		Index:  index,
		Offset: offset,
		Text:   content,
	}
}

// ReadManifest 读取索引目录下的 manifest.yaml。
func ReadManifest(dir string) (model.IndexManifest, error) {
	var m model.IndexManifest
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return m, fmt.Errorf("%w: 缺少 %s", ErrIndexNotFound, manifestFile)
		}
		return m, fmt.Errorf("读取索引清单失败: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("解析索引清单失败: %w", err)
	}
	return m, nil
}

// WriteIndex 在临时目录中写入全部分块与清单，成功后整体替换 cfg.Dir。
// 旧索引在替换完成后删除，失败时旧索引保持不变。
func WriteIndex(ctx context.Context, cfg config.IndexConfig, manifest model.IndexManifest, chunks []model.Chunk, vectors [][]float32) error {
	if len(chunks) == 0 {
		return ErrIndexEmpty
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("分块数 %d 与向量数 %d 不一致", len(chunks), len(vectors))
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("分块 %d 的向量维度为 %d, 期望 %d", i, len(v), dim)
		}
	}
	manifest.Dimension = dim
	manifest.ChunkCount = len(chunks)
	manifest.Compressed = cfg.Compress

	parent := filepath.Dir(filepath.Clean(cfg.Dir))
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("创建索引父目录失败: %w", err)
	}
	tmp, err := os.MkdirTemp(parent, "."+filepath.Base(cfg.Dir)+"-build-*")
	if err != nil {
		return fmt.Errorf("创建临时索引目录失败: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(tmp)
		}
	}()

	db, err := chromem.NewPersistentDB(tmp, cfg.Compress)
	if err != nil {
		return fmt.Errorf("创建向量索引失败: %w", err)
	}
	collection, err := db.CreateCollection(cfg.Collection, map[string]string{"embedding_model": manifest.EmbeddingModel}, noEmbedding)
	if err != nil {
		return fmt.Errorf("创建集合失败: %w", err)
	}
	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = chromem.Document{
			ID:      c.ID,
			Content: c.Text,
			Metadata: map[string]string{
				"source": c.Source,
				"index":  strconv.Itoa(c.Index),
				"offset": strconv.Itoa(c.Offset),
			},
			Embedding: vectors[i],
		}
	}
	if err := collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("写入分块失败: %w", err)
	}

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("序列化索引清单失败: %w", err)
	}
	if err := os.WriteFile(filepath.Join(tmp, manifestFile), data, 0o644); err != nil {
		return fmt.Errorf("写入索引清单失败: %w", err)
	}

	if err := swapDir(tmp, cfg.Dir); err != nil {
		return err
	}
	committed = true
	log.Infof("[IndexRepository] 索引写入完成, dir: %s, chunks: %d, dimension: %d", cfg.Dir, manifest.ChunkCount, dim)
	return nil
}

// swapDir 用 src 替换 dst：先把旧目录挪开，再重命名，最后删除旧目录。
func swapDir(src, dst string) error {
	var old string
	if _, err := os.Stat(dst); err == nil {
		old = fmt.Sprintf("%s.old-%d", dst, time.Now().UnixNano())
		if err := os.Rename(dst, old); err != nil {
			return fmt.Errorf("移走旧索引失败: %w", err)
		}
	}
	if err := os.Rename(src, dst); err != nil {
		if old != "" {
			_ = os.Rename(old, dst)
		}
		return fmt.Errorf("替换索引目录失败: %w", err)
	}
	if old != "" {
		if err := os.RemoveAll(old); err != nil {
			log.Warnf("[IndexRepository] 删除旧索引 %s 失败: %v", old, err)
		}
	}
	return nil
}
