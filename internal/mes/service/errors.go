package service

import "errors"

// 领域错误，调用方用 errors.Is 区分错误类别
var (
	ErrValidation            = errors.New("参数无效")
	ErrNotFound              = errors.New("记录不存在")
	ErrStateTransition       = errors.New("非法状态流转")
	ErrInsufficientInventory = errors.New("库存不足")
	ErrConcurrencyConflict   = errors.New("并发修改冲突")
)

// 数量比较容差，decimal(12,4) 列的所有数量运算共用
const qtyEpsilon = 1e-6
