package core

// MetricType 距离度量类型（用于类型安全）
type MetricType string

const (
	MetricCosine       MetricType = "cosine"
	MetricEuclidean    MetricType = "euclidean"
	MetricInnerProduct MetricType = "inner_product"
)

// ValidateMetric 验证距离度量类型
func ValidateMetric(metric MetricType) bool {
	switch metric {
	case MetricCosine, MetricEuclidean, MetricInnerProduct:
		return true
	default:
		return false
	}
}

// CollectionConfig 描述一个集合：名称、维度、度量方式。
// 物品集合与用户集合是同一抽象的两个独立实例。
type CollectionConfig struct {
	Name      string
	Dimension int
	Metric    MetricType
}

// Normalize 返回填充默认值后的配置副本。
func (c CollectionConfig) Normalize() CollectionConfig {
	if !ValidateMetric(c.Metric) {
		c.Metric = MetricCosine
	}
	return c
}
