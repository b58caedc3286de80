package exchange

import (
	"errors"
	"fmt"
)

// ErrTransient 瞬时网关错误标记（网络故障、超时、交易所临时不可用）
// 携带此标记的错误可以在下个同步周期重试
var ErrTransient = errors.New("网关瞬时错误")

// APIError 交易所业务错误（认证失败、nonce 无效、权限不足等）
// 此类错误重试无意义，原样向上传递供运维排查
type APIError struct {
	Exchange string
	Code     string
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] API 错误 %s: %s", e.Exchange, e.Code, e.Message)
}

// Transient 为底层错误附加瞬时标记
func Transient(err error) error {
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// IsTransient 判断错误是否可重试
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsAPIError 判断是否为交易所业务错误
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}
