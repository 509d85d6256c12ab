package processor

import (
	"fmt"
	"strings"

	"resumind-go/internal/constants"
	"resumind-go/internal/types"
)

// InputValidator 在文件进入流水线前校验类型与大小
type InputValidator struct {
	maxFileSize  int64
	allowedMIMEs map[string]struct{}
}

// ValidatorOption 校验器配置选项
type ValidatorOption func(*InputValidator)

// WithMaxFileSize 设置允许的最大字节数
func WithMaxFileSize(size int64) ValidatorOption {
	return func(v *InputValidator) {
		if size > 0 {
			v.maxFileSize = size
		}
	}
}

// WithAllowedMIMETypes 覆盖允许的 MIME 类型
func WithAllowedMIMETypes(mimes ...string) ValidatorOption {
	return func(v *InputValidator) {
		if len(mimes) == 0 {
			return
		}
		v.allowedMIMEs = make(map[string]struct{}, len(mimes))
		for _, m := range mimes {
			v.allowedMIMEs[strings.ToLower(strings.TrimSpace(m))] = struct{}{}
		}
	}
}

// NewInputValidator 默认只接受不超过 20 MiB 的 application/pdf
func NewInputValidator(opts ...ValidatorOption) *InputValidator {
	v := &InputValidator{
		maxFileSize:  constants.MaxFileSize,
		allowedMIMEs: map[string]struct{}{constants.MIMETypePDF: {}},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// MaxFileSize 当前生效的大小上限
func (v *InputValidator) MaxFileSize() int64 {
	return v.maxFileSize
}

// SelectFile 只取第一个文件并校验，其余文件被忽略
func (v *InputValidator) SelectFile(files []*types.CandidateFile) (*types.CandidateFile, error) {
	if len(files) == 0 {
		return nil, newRejectedError("未选择文件")
	}
	first := files[0]
	if err := v.Validate(first); err != nil {
		return nil, err
	}
	return first, nil
}

// Validate 校验单个文件，无副作用
func (v *InputValidator) Validate(file *types.CandidateFile) error {
	if file == nil {
		return newRejectedError("文件为空")
	}
	mime := strings.ToLower(strings.TrimSpace(file.MIMEType))
	if _, ok := v.allowedMIMEs[mime]; !ok {
		return newRejectedError(fmt.Sprintf("不支持的文件类型: %q", file.MIMEType))
	}
	if file.Size < 0 {
		return newRejectedError(fmt.Sprintf("文件大小无效: %d", file.Size))
	}
	if file.Size > v.maxFileSize {
		return newRejectedError(fmt.Sprintf("文件大小 %d 超过上限 %d", file.Size, v.maxFileSize))
	}
	return nil
}
