package store

import "errors"

// 错误分类：Validation/Referential 直接拒绝；ConcurrencyConflict 由适配器有限重试；
// Unavailable 由调用方按页重试。
var (
	ErrNotFound                 = errors.New("not found")
	ErrDuplicate                = errors.New("already exists")
	ErrValidation               = errors.New("validation error")
	ErrParentNotFound           = errors.New("parent comment not found")
	ErrThreadClosed             = errors.New("thread is closed")
	ErrCrossTenantReference     = errors.New("cross tenant reference")
	ErrInvalidEndorsementTarget = errors.New("cannot endorse a reply")
	ErrConcurrencyConflict      = errors.New("concurrent update conflict")
	ErrUnavailable              = errors.New("backend unavailable")
)
