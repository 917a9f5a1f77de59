package core

// DomainError 是领域层的统一错误类型。
//
// 设计原则：
//   - 所有领域层错误都使用此类型
//   - 提供错误代码（Code）和消息（Message）
//   - 支持错误检查函数（IsXXX）
//
// 使用场景：
//   - Store 错误：DIMENSION_MISMATCH, STORE_ERROR
//   - Index 错误：EMPTY_CORPUS, INVALID_K, CORRUPT_INDEX
//   - Service 错误：NO_HISTORY, NOT_FOUND, TIMEOUT
type DomainError struct {
	Code    string // 错误代码（如 "NOT_FOUND", "INVALID_K"）
	Message string // 错误消息
	Module  string // 模块名称（如 "store", "index", "cache", "service"）
}

func (e *DomainError) Error() string {
	return e.Message
}

// IsDomainError 检查错误是否为 DomainError 类型
func IsDomainError(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(*DomainError)
	return ok
}

// GetDomainError 获取 DomainError，如果不是则返回 nil
func GetDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	if domainErr, ok := err.(*DomainError); ok {
		return domainErr
	}
	return nil
}

// NewDomainError 创建新的领域错误
func NewDomainError(module, code, message string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
	}
}

// 错误代码常量
const (
	ErrorCodeDimensionMismatch = "DIMENSION_MISMATCH" // 向量维度不一致
	ErrorCodeEmptyCorpus       = "EMPTY_CORPUS"       // 构建索引时语料为空
	ErrorCodeInvalidK          = "INVALID_K"          // TopK 超出允许范围
	ErrorCodeNotFound          = "NOT_FOUND"          // 资源不存在
	ErrorCodeNoHistory         = "NO_HISTORY"         // 用户行为序列为空，无法生成向量
	ErrorCodeTimeout           = "TIMEOUT"            // 外部调用超时
	ErrorCodeCorruptIndex      = "CORRUPT_INDEX"      // 索引文件损坏或与存储不一致
	ErrorCodeStoreError        = "STORE_ERROR"        // 底层存储失败
	ErrorCodeNotSupported      = "NOT_SUPPORTED"      // 操作不支持
	ErrorCodeInvalidInput      = "INVALID_INPUT"      // 输入无效
)

// 模块名称常量
const (
	ModuleStore   = "store"   // 向量存储模块
	ModuleIndex   = "index"   // 索引模块
	ModuleFilter  = "filter"  // 过滤模块
	ModuleCache   = "cache"   // 缓存模块
	ModuleService = "service" // 检索服务模块
)

func isCode(err error, code string) bool {
	if err == nil {
		return false
	}
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == code
	}
	return false
}

// IsDimensionMismatch 检查错误是否为 DIMENSION_MISMATCH
func IsDimensionMismatch(err error) bool { return isCode(err, ErrorCodeDimensionMismatch) }

// IsEmptyCorpus 检查错误是否为 EMPTY_CORPUS
func IsEmptyCorpus(err error) bool { return isCode(err, ErrorCodeEmptyCorpus) }

// IsInvalidK 检查错误是否为 INVALID_K
func IsInvalidK(err error) bool { return isCode(err, ErrorCodeInvalidK) }

// IsNotFound 检查错误是否为 NOT_FOUND
func IsNotFound(err error) bool { return isCode(err, ErrorCodeNotFound) }

// IsNoHistory 检查错误是否为 NO_HISTORY
func IsNoHistory(err error) bool { return isCode(err, ErrorCodeNoHistory) }

// IsTimeout 检查错误是否为 TIMEOUT
func IsTimeout(err error) bool { return isCode(err, ErrorCodeTimeout) }

// IsCorruptIndex 检查错误是否为 CORRUPT_INDEX
func IsCorruptIndex(err error) bool { return isCode(err, ErrorCodeCorruptIndex) }

// IsStoreError 检查错误是否为 STORE_ERROR
func IsStoreError(err error) bool { return isCode(err, ErrorCodeStoreError) }

// IsNotSupported 检查错误是否为 NOT_SUPPORTED
func IsNotSupported(err error) bool { return isCode(err, ErrorCodeNotSupported) }

// 常用错误预定义（热路径上直接比较，避免重复分配）
var (
	// ErrStoreNotFound 表示 key/point 不存在
	ErrStoreNotFound = NewDomainError(ModuleStore, ErrorCodeNotFound, "store: not found")

	// ErrStoreNotSupported 表示操作不支持
	ErrStoreNotSupported = NewDomainError(ModuleStore, ErrorCodeNotSupported, "store: operation not supported")
)
