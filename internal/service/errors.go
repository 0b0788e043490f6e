package service

import "errors"

// 同步面向调用方的错误分类；验签失败在边界被 adapter 拦截，
// 瞬时投递失败走 broker 重投，都不会出现在这里。
var (
	// ErrThreadNotFound 未知会话
	ErrThreadNotFound = errors.New("thread not found")
	// ErrContactNotFound 未知联系人
	ErrContactNotFound = errors.New("contact not found")
	// ErrValidation 发送请求不合法（缺字段、渠道能力不允许等）
	ErrValidation = errors.New("validation failed")
	// ErrChannelMismatch 请求渠道与会话渠道不一致
	ErrChannelMismatch = errors.New("channel does not match thread")
)
