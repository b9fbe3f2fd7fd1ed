package errors

import "errors"

// ErrOptimisticLock 乐观锁冲突：教职工的学科分配已被其他操作修改
var ErrOptimisticLock = errors.New("assignments were modified by another editor, reload and retry")

// ErrStoreUnavailable 存储不可用（连接失败、超时等），属于整体性失败
var ErrStoreUnavailable = errors.New("assignment store unavailable")
