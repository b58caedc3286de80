package exchange

import (
	"errors"
	"fmt"
	"testing"
)

func TestTransientClassification(t *testing.T) {
	base := errors.New("connection reset by peer")
	err := Transient(base)

	if !IsTransient(err) {
		t.Error("包装后的错误应识别为瞬时错误")
	}
	// 包装后保留原始错误信息
	if msg := err.Error(); msg == "" || !errors.Is(err, ErrTransient) {
		t.Errorf("错误链不完整: %v", err)
	}

	wrapped := fmt.Errorf("预约调用额度失败: %w", err)
	if !IsTransient(wrapped) {
		t.Error("多层包装后仍应识别为瞬时错误")
	}
}

func TestAPIErrorClassification(t *testing.T) {
	err := &APIError{Exchange: "Kraken", Code: "EAPI", Message: "EAPI:Invalid key"}

	wrapped := fmt.Errorf("同步失败: %w", err)
	if !IsAPIError(wrapped) {
		t.Fatal("包装后的 APIError 应能被识别")
	}
	var apiErr *APIError
	if !errors.As(wrapped, &apiErr) || apiErr.Code != "EAPI" {
		t.Errorf("错误码丢失: %v", wrapped)
	}
	if IsTransient(err) {
		t.Error("业务错误不应识别为瞬时错误")
	}
}
