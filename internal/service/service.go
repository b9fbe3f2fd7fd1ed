package service

import (
	"go.uber.org/zap"

	"github.com/noorqidam/satam-kahiji-sub002/config"
	"github.com/noorqidam/satam-kahiji-sub002/internal/repository"
)

// Service 所有 Service 的聚合入口
type Service struct {
	Assignment AssignmentService
}

// NewService 创建 Service 聚合
// notifier 为 nil 时不广播变更
func NewService(
	cfg *config.Config,
	repo *repository.Repository,
	notifier ChangeNotifier,
	logger *zap.Logger,
) *Service {
	return &Service{
		Assignment: NewAssignmentService(cfg.Assignment, repo, notifier, logger),
	}
}
