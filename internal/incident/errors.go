package incident

import (
	"errors"

	"rescuenet-core/internal/repository"
)

// ErrIllegalTransition 终态事件上的显式状态操作
// 后台扫描不会碰到它（扫描只取非终态事件），只有操作员调用会收到
var ErrIllegalTransition = errors.New("illegal incident state transition")

// ErrIncidentNotFound 事件不存在（仓库层哨兵的别名，省去调用方多引一个包）
var ErrIncidentNotFound = repository.ErrIncidentNotFound
