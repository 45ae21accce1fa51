package service

import (
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Services 服务聚合
type Services struct {
	Part   *PartService
	Stock  *StockService
	Build  *BuildService
	Export *ExportService
}

func NewServices(
	db *gorm.DB,
	repos *repository.Repositories,
	events EventBus,
	notifier Notifier,
	tasks *TaskRunner,
	logger *zap.Logger,
) *Services {
	policy := NewSettingPolicyProvider(repos.Setting)
	return &Services{
		Part:   NewPartService(repos.Part),
		Stock:  NewStockService(repos.Stock),
		Build:  NewBuildService(db, repos, policy, events, notifier, tasks, logger),
		Export: NewExportService(repos),
	}
}
