package core

// Vector 是定长浮点向量。同一集合内所有向量维度一致（Dimension）。
// 余弦度量下向量在写入时做 L2 归一化，查询时直接内积即可。
type Vector []float64

// Clone 返回向量的深拷贝，避免调用方持有内部切片。
func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// Payload 是挂在向量上的结构化元信息，用于属性过滤。
// 值类型约定：string / float64 / []string（同一字段在集合内类型一致）。
// 例如电影场景：title, genres, year, rating, num_ratings。
type Payload map[string]any

// Clone 返回 Payload 的浅拷贝（值本身视为不可变）。
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Point 是存储单元：ID + 向量 + Payload。
// ID 由调用方分配（如真实 movieId），集合内全局唯一，不会被重新分配。
// 更新是整体替换：vector 和 payload 一起原子更新，不存在部分更新。
type Point struct {
	ID      int64
	Vector  Vector
	Payload Payload
}

// EntityKind 区分缓存实体类型（用户向量 / 物品向量）。
type EntityKind uint8

const (
	EntityUser EntityKind = iota
	EntityItem
)

func (k EntityKind) String() string {
	if k == EntityUser {
		return "user"
	}
	return "item"
}

// EntityKey 是缓存键：实体类型 + 实体 ID。
type EntityKey struct {
	Kind EntityKind
	ID   int64
}

// UserKey 构造用户实体键。
func UserKey(id int64) EntityKey { return EntityKey{Kind: EntityUser, ID: id} }

// ItemKey 构造物品实体键。
func ItemKey(id int64) EntityKey { return EntityKey{Kind: EntityItem, ID: id} }
