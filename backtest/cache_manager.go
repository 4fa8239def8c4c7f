package backtest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"meridian/logger"
)

// ErrDatasetNotFound 数据集不存在
var ErrDatasetNotFound = errors.New("dataset not found")

// DatasetInfo 数据集信息
type DatasetInfo struct {
	Name     string    `json:"name"`
	Format   string    `json:"format"`
	Bars     int       `json:"bars"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	SizeMB   float64   `json:"size_mb"`
	Modified time.Time `json:"modified"`
}

// CatalogStats 数据目录统计
type CatalogStats struct {
	FileCount int     `json:"file_count"`
	TotalSize int64   `json:"total_size"`
	SizeMB    float64 `json:"size_mb"`
}

type catalogEntry struct {
	info DatasetInfo
	size int64
}

// Catalog K线数据目录（CSV / Parquet 文件）
// 按文件修改时间缓存统计信息，文件变化后重新加载
type Catalog struct {
	dir string

	mu    sync.Mutex
	index map[string]catalogEntry
}

// NewCatalog 创建数据目录
func NewCatalog(dir string) *Catalog {
	return &Catalog{dir: dir, index: make(map[string]catalogEntry)}
}

// Dir 数据目录路径
func (c *Catalog) Dir() string {
	return c.dir
}

func isDataFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".parquet", ".pq":
		return true
	}
	return false
}

// List 列出所有数据集，按名称排序
// 无法解析的文件记录警告后跳过，不影响其他数据集
func (c *Catalog) List() ([]DatasetInfo, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []DatasetInfo{}, nil
		}
		return nil, fmt.Errorf("读取数据目录失败: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]bool, len(entries))
	datasets := make([]DatasetInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isDataFile(e.Name()) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		seen[e.Name()] = true

		if cached, ok := c.index[e.Name()]; ok && cached.info.Modified.Equal(fi.ModTime()) && cached.size == fi.Size() {
			datasets = append(datasets, cached.info)
			continue
		}

		info, err := describe(filepath.Join(c.dir, e.Name()), fi)
		if err != nil {
			logger.Warn("⚠️ 跳过数据文件 %s: %v", e.Name(), err)
			continue
		}
		c.index[e.Name()] = catalogEntry{info: info, size: fi.Size()}
		datasets = append(datasets, info)
	}

	for name := range c.index {
		if !seen[name] {
			delete(c.index, name)
		}
	}

	sort.Slice(datasets, func(i, j int) bool { return datasets[i].Name < datasets[j].Name })
	return datasets, nil
}

func describe(path string, fi os.FileInfo) (DatasetInfo, error) {
	format := DetectFormat(path)
	bars, err := LoadBars(path, format)
	if err != nil {
		return DatasetInfo{}, err
	}
	info := DatasetInfo{
		Name:     fi.Name(),
		Format:   format,
		Bars:     len(bars),
		SizeMB:   float64(fi.Size()) / 1024 / 1024,
		Modified: fi.ModTime(),
	}
	if len(bars) > 0 {
		info.Start = time.UnixMilli(bars[0].Timestamp).UTC()
		info.End = time.UnixMilli(bars[len(bars)-1].Timestamp).UTC()
	}
	return info, nil
}

// resolve 数据集名只能是目录下的文件名，不允许路径穿越
func (c *Catalog) resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") || !isDataFile(name) {
		return "", fmt.Errorf("%w: %q", ErrDatasetNotFound, name)
	}
	path := filepath.Join(c.dir, name)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %q", ErrDatasetNotFound, name)
	}
	return path, nil
}

// Load 加载数据集
func (c *Catalog) Load(name string) ([]Bar, error) {
	path, err := c.resolve(name)
	if err != nil {
		return nil, err
	}
	return LoadBars(path, "")
}

// Delete 删除数据集
func (c *Catalog) Delete(name string) error {
	path, err := c.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("删除数据文件失败: %w", err)
	}
	c.mu.Lock()
	delete(c.index, name)
	c.mu.Unlock()
	return nil
}

// Stats 数据目录统计
func (c *Catalog) Stats() (CatalogStats, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return CatalogStats{}, nil
		}
		return CatalogStats{}, fmt.Errorf("读取数据目录失败: %w", err)
	}

	var stats CatalogStats
	for _, e := range entries {
		if e.IsDir() || !isDataFile(e.Name()) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		stats.FileCount++
		stats.TotalSize += fi.Size()
	}
	stats.SizeMB = float64(stats.TotalSize) / 1024 / 1024
	return stats, nil
}
