// Package config 提供检索引擎的配置加载与校验（支持 YAML/JSON）。
//
// 配置只描述参数，不构建对象：store/index/cache 由调用方
// 根据配置显式构造（见 Options 转换方法与 examples/basic）。
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rushteam/vecrec/core"
	"github.com/rushteam/vecrec/index"
)

// Config 是检索引擎的完整配置。
type Config struct {
	Collection CollectionConfig `yaml:"collection" json:"collection"`
	Index      IndexConfig      `yaml:"index" json:"index"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	Service    ServiceConfig    `yaml:"service" json:"service"`
	Redis      RedisConfig      `yaml:"redis" json:"redis"`
}

// CollectionConfig 描述物品集合。
type CollectionConfig struct {
	Name      string `yaml:"name" json:"name"`
	Dimension int    `yaml:"dimension" json:"dimension"`
	Metric    string `yaml:"metric" json:"metric"` // cosine / inner_product / euclidean
}

// IndexConfig 是索引后端参数。
// IVF/HNSW 的参数没有万能默认值，按语料规模与延迟预算显式配置。
type IndexConfig struct {
	Type string `yaml:"type" json:"type"` // flat / ivf / hnsw
	MaxK int    `yaml:"max_k" json:"max_k"`

	NList      int `yaml:"nlist" json:"nlist"`
	NProbe     int `yaml:"nprobe" json:"nprobe"`
	TrainIters int `yaml:"train_iters" json:"train_iters"`

	M              int   `yaml:"m" json:"m"`
	EfConstruction int   `yaml:"ef_construction" json:"ef_construction"`
	EfSearch       int   `yaml:"ef_search" json:"ef_search"`
	Seed           int64 `yaml:"seed" json:"seed"`
}

// CacheConfig 是向量缓存参数。
type CacheConfig struct {
	MaxSize int      `yaml:"max_size" json:"max_size"`
	TTL     Duration `yaml:"ttl" json:"ttl"`
	Shards  int      `yaml:"shards" json:"shards"`
}

// ServiceConfig 是编排层参数。
type ServiceConfig struct {
	EmbedTimeout  Duration `yaml:"embed_timeout" json:"embed_timeout"`
	SearchTimeout Duration `yaml:"search_timeout" json:"search_timeout"`
	MaxFetch      int      `yaml:"max_fetch" json:"max_fetch"`
}

// Duration 是支持 "2s" / "10m" 写法的时长字段。
type Duration time.Duration

// Std 转换为标准库 time.Duration。
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"2s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"2s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// RedisConfig 是外部 Redis 依赖（评分/元数据存储）的连接参数。
type RedisConfig struct {
	Addr   string `yaml:"addr" json:"addr"`
	DB     int    `yaml:"db" json:"db"`
	Prefix string `yaml:"prefix" json:"prefix"`
}

// LoadFromYAML 从 YAML 文件加载配置。
func LoadFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromJSON 从 JSON 文件加载配置。
func LoadFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置的基本合法性。
func (c *Config) Validate() error {
	if c.Collection.Dimension <= 0 {
		return fmt.Errorf("config: collection.dimension must be greater than 0")
	}
	if c.Collection.Metric != "" && !core.ValidateMetric(core.MetricType(c.Collection.Metric)) {
		return fmt.Errorf("config: unknown metric %q (supported: cosine, inner_product, euclidean)", c.Collection.Metric)
	}
	switch c.Index.Type {
	case "", "flat", "ivf", "hnsw":
	default:
		return fmt.Errorf("config: unknown index type %q (supported: flat, ivf, hnsw)", c.Index.Type)
	}
	return nil
}

// CollectionOptions 转换为 core.CollectionConfig。
func (c *Config) CollectionOptions() core.CollectionConfig {
	return core.CollectionConfig{
		Name:      c.Collection.Name,
		Dimension: c.Collection.Dimension,
		Metric:    core.MetricType(c.Collection.Metric),
	}.Normalize()
}

// IndexOptions 转换为 index.Options。
func (c *Config) IndexOptions() index.Options {
	return index.Options{
		Type:           c.Index.Type,
		MaxK:           c.Index.MaxK,
		NList:          c.Index.NList,
		NProbe:         c.Index.NProbe,
		TrainIters:     c.Index.TrainIters,
		M:              c.Index.M,
		EfConstruction: c.Index.EfConstruction,
		EfSearch:       c.Index.EfSearch,
		Seed:           c.Index.Seed,
	}
}
