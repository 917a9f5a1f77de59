package filter

import (
	"fmt"

	"github.com/rushteam/vecrec/core"
)

// Expr 是结构化过滤条件的抽象接口，对 Payload 求值。
// 返回 true 表示满足条件（保留），false 表示不满足（剔除）。
//
// 变体：Equals / Range / Contains / And。
// 约定：引用 Payload 中不存在的字段时求值为 false，绝不 panic。
type Expr interface {
	core.FilterMatcher

	// String 返回可读的条件描述（诊断用）
	String() string
}

// EqualsExpr 是相等过滤：字段值等于给定标量。
type EqualsExpr struct {
	Field string
	Value any
}

// Equals 构造相等过滤条件。
func Equals(field string, value any) *EqualsExpr {
	return &EqualsExpr{Field: field, Value: value}
}

func (e *EqualsExpr) Matches(payload core.Payload) bool {
	v, ok := payload[e.Field]
	if !ok {
		return false
	}
	// 数值字段跨类型比较（5 == 5.0）
	if fv, ok1 := asNumber(v); ok1 {
		if fw, ok2 := asNumber(e.Value); ok2 {
			return fv == fw
		}
		return false
	}
	return v == e.Value
}

func (e *EqualsExpr) String() string {
	return fmt.Sprintf("%s == %v", e.Field, e.Value)
}

// RangeExpr 是数值范围过滤：min <= 字段值 <= max（闭区间，端点可省）。
type RangeExpr struct {
	Field string
	Min   *float64
	Max   *float64
}

// Range 构造数值范围过滤条件。
// min/max 至少给一个；min > max 属于调用方错误，在构造时报告。
// 字段值非数值时求值为 false（等同字段缺失）。
func Range(field string, min, max *float64) (*RangeExpr, error) {
	if min == nil && max == nil {
		return nil, core.NewDomainError(core.ModuleFilter, core.ErrorCodeInvalidInput,
			"filter: range requires at least one bound")
	}
	if min != nil && max != nil && *min > *max {
		return nil, core.NewDomainError(core.ModuleFilter, core.ErrorCodeInvalidInput,
			fmt.Sprintf("filter: range min %v greater than max %v", *min, *max))
	}
	return &RangeExpr{Field: field, Min: min, Max: max}, nil
}

// Bound 是 Range 的便捷构造辅助。
func Bound(v float64) *float64 { return &v }

func (e *RangeExpr) Matches(payload core.Payload) bool {
	raw, ok := payload[e.Field]
	if !ok {
		return false
	}
	v, ok := asNumber(raw)
	if !ok {
		return false
	}
	if e.Min != nil && v < *e.Min {
		return false
	}
	if e.Max != nil && v > *e.Max {
		return false
	}
	return true
}

func (e *RangeExpr) String() string {
	switch {
	case e.Min != nil && e.Max != nil:
		return fmt.Sprintf("%v <= %s <= %v", *e.Min, e.Field, *e.Max)
	case e.Min != nil:
		return fmt.Sprintf("%s >= %v", e.Field, *e.Min)
	default:
		return fmt.Sprintf("%s <= %v", e.Field, *e.Max)
	}
}

// ContainsExpr 是集合成员过滤：列表字段包含给定值（如 genre 命中）。
type ContainsExpr struct {
	Field string
	Value string
}

// Contains 构造列表成员过滤条件。
func Contains(field, value string) *ContainsExpr {
	return &ContainsExpr{Field: field, Value: value}
}

func (e *ContainsExpr) Matches(payload core.Payload) bool {
	raw, ok := payload[e.Field]
	if !ok {
		return false
	}
	switch list := raw.(type) {
	case []string:
		for _, v := range list {
			if v == e.Value {
				return true
			}
		}
	case []any:
		for _, v := range list {
			if s, ok := v.(string); ok && s == e.Value {
				return true
			}
		}
	}
	return false
}

func (e *ContainsExpr) String() string {
	return fmt.Sprintf("%q in %s", e.Value, e.Field)
}

// AndExpr 是合取过滤：全部子条件满足才通过，从左到右短路求值。
type AndExpr struct {
	Exprs []Expr
}

// And 构造合取过滤条件。
func And(exprs ...Expr) *AndExpr {
	return &AndExpr{Exprs: exprs}
}

func (e *AndExpr) Matches(payload core.Payload) bool {
	for _, sub := range e.Exprs {
		if sub == nil {
			continue
		}
		if !sub.Matches(payload) {
			return false
		}
	}
	return true
}

func (e *AndExpr) String() string {
	if len(e.Exprs) == 0 {
		return "true"
	}
	out := ""
	for i, sub := range e.Exprs {
		if i > 0 {
			out += " && "
		}
		out += sub.String()
	}
	return out
}

// asNumber 把 Payload 中可能出现的数值类型收敛为 float64。
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// 确保实现了接口
var (
	_ Expr = (*EqualsExpr)(nil)
	_ Expr = (*RangeExpr)(nil)
	_ Expr = (*ContainsExpr)(nil)
	_ Expr = (*AndExpr)(nil)
)
