package service

import "errors"

// 领域错误：调用方通过 errors.Is 区分并映射为HTTP状态码。
// 存储层故障不在此列，按封装后的原始错误向上传递，整个操作可安全重试。
var (
	// ErrUnknownDevice 设备编号不存在
	ErrUnknownDevice = errors.New("unknown device number")
	// ErrUnknownOwner 操作员不存在
	ErrUnknownOwner = errors.New("unknown operator")
	// ErrInvalidCommandFormat 提交的命令文本不符合格式
	ErrInvalidCommandFormat = errors.New("invalid command format")
)
