package filter

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rushteam/vecrec/core"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvOnce sync.Once
	celEnvErr  error
)

// getCELEnv 获取或创建 CEL 环境
func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("payload", cel.DynType),
		)
	})
	return celEnv, celEnvErr
}

// CELExpr 是表达式驱动的过滤条件，使用 CEL (Common Expression Language) 实现。
// CEL 是 Google 开发的表达式语言，具有类型安全、高性能、线程安全等特性。
// 表达式在构造时编译一次，之后可以并发多次求值。
//
// 表达式语法（CEL 标准语法，payload 为顶层变量）：
//   - 数值：payload.year >= 2000 && payload.year <= 2010
//   - 成员："Action" in payload.genres
//   - 相等：payload.title == "Heat"
//   - 组合：payload.rating >= 4.0 && "Drama" in payload.genres
//
// 注意：CEL 访问不存在的 key 会报错；求值错误统一按不匹配处理
// （与结构化过滤器"字段缺失为 false"的约定一致）。
type CELExpr struct {
	expr string
	prg  cel.Program
}

// CEL 编译表达式并返回可复用的过滤条件。编译失败在此处报告。
func CEL(expr string) (*CELExpr, error) {
	if expr == "" {
		return nil, core.NewDomainError(core.ModuleFilter, core.ErrorCodeInvalidInput, "filter: empty CEL expression")
	}
	env, err := getCELEnv()
	if err != nil {
		return nil, core.NewDomainError(core.ModuleFilter, core.ErrorCodeInvalidInput, "filter: cel env: "+err.Error())
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, core.NewDomainError(core.ModuleFilter, core.ErrorCodeInvalidInput,
			fmt.Sprintf("filter: compile %q: %v", expr, issues.Err()))
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, core.NewDomainError(core.ModuleFilter, core.ErrorCodeInvalidInput,
			fmt.Sprintf("filter: program %q: %v", expr, err))
	}
	return &CELExpr{expr: expr, prg: prg}, nil
}

func (e *CELExpr) Matches(payload core.Payload) bool {
	out, _, err := e.prg.Eval(map[string]any{
		"payload": map[string]any(payload),
	})
	if err != nil {
		return false
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false
	}
	return result
}

func (e *CELExpr) String() string { return e.expr }

// 确保实现了接口
var _ Expr = (*CELExpr)(nil)
