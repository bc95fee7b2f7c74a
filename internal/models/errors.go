package models

import "errors"

// 存储与鉴权层共用的领域错误，调用方用 errors.Is 判断。
var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unknown or unverified user")
)
