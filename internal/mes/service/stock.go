package service

import (
	"fmt"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type StockService struct {
	repo *repository.StockRepository
}

func NewStockService(repo *repository.StockRepository) *StockService {
	return &StockService{repo: repo}
}

type CreateStockItemRequest struct {
	PartID     string  `json:"part_id" binding:"required"`
	LocationID string  `json:"location_id"`
	Quantity   float64 `json:"quantity" binding:"required,gt=0"`
	SerialNo   string  `json:"serial_no"`
	BatchNo    string  `json:"batch_no"`
}

func (s *StockService) CreateItem(req CreateStockItemRequest) (*entity.StockItem, error) {
	if req.SerialNo != "" && req.Quantity != 1 {
		return nil, fmt.Errorf("序列号库存数量必须为1")
	}
	item := &entity.StockItem{
		ID:       uuid.New().String(),
		PartID:   req.PartID,
		Quantity: req.Quantity,
		SerialNo: req.SerialNo,
		BatchNo:  req.BatchNo,
		Status:   entity.StockStatusOK,
	}
	if req.LocationID != "" {
		item.LocationID = &req.LocationID
	}
	if err := s.repo.Create(item); err != nil {
		return nil, fmt.Errorf("创建库存失败: %w", err)
	}
	return item, nil
}

func (s *StockService) GetItem(id string) (*entity.StockItem, error) {
	return s.repo.GetByID(id)
}

func (s *StockService) List(params repository.StockListParams) ([]entity.StockItem, int64, error) {
	return s.repo.List(params)
}

func (s *StockService) ListTracking(stockItemID string) ([]entity.StockTracking, error) {
	return s.repo.ListTracking(stockItemID)
}

type CreateLocationRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	ParentID    string `json:"parent_id"`
}

// CreateLocation 创建库位并维护物化路径
func (s *StockService) CreateLocation(req CreateLocationRequest) (*entity.StockLocation, error) {
	loc := &entity.StockLocation{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
	}
	if req.ParentID != "" {
		parent, err := s.repo.GetLocation(req.ParentID)
		if err != nil {
			return nil, fmt.Errorf("父库位不存在: %w", err)
		}
		loc.ParentID = &parent.ID
		loc.Path = parent.Path + "/" + loc.ID
	} else {
		loc.Path = loc.ID
	}
	if err := s.repo.CreateLocation(loc); err != nil {
		return nil, fmt.Errorf("创建库位失败: %w", err)
	}
	return loc, nil
}

// ==================== 事务内库存操作 ====================

func addTracking(tx *gorm.DB, stockItemID, trackingType, notes, userID string, deltas entity.JSONB) error {
	entry := &entity.StockTracking{
		ID:           uuid.New().String(),
		StockItemID:  stockItemID,
		TrackingType: trackingType,
		Notes:        notes,
		Deltas:       deltas,
		CreatedBy:    userID,
	}
	return tx.Create(entry).Error
}

// splitStockItem 从库存项拆出指定数量为新库存项，原项扣减
// 新项继承批次/库位/在制标记
func splitStockItem(tx *gorm.DB, item *entity.StockItem, qty float64, userID string) (*entity.StockItem, error) {
	if qty <= 0 || qty >= item.Quantity {
		return nil, fmt.Errorf("拆分数量必须大于0且小于原数量 %.4f", item.Quantity)
	}
	if item.Serialized() {
		return nil, fmt.Errorf("序列号库存不能拆分")
	}
	newItem := &entity.StockItem{
		ID:         uuid.New().String(),
		PartID:     item.PartID,
		LocationID: item.LocationID,
		Quantity:   qty,
		BatchNo:    item.BatchNo,
		Status:     item.Status,
		IsBuilding: item.IsBuilding,
		BuildID:    item.BuildID,
	}
	if err := tx.Create(newItem).Error; err != nil {
		return nil, fmt.Errorf("拆分库存失败: %w", err)
	}
	item.Quantity -= qty
	if err := tx.Save(item).Error; err != nil {
		return nil, fmt.Errorf("扣减原库存失败: %w", err)
	}
	if err := addTracking(tx, newItem.ID, entity.TrackingSplitFromItem, "", userID, entity.JSONB{
		"source_item": item.ID,
		"quantity":    qty,
	}); err != nil {
		return nil, err
	}
	return newItem, nil
}

// installStockItem 将序列号件装入产出库存项
func installStockItem(tx *gorm.DB, item *entity.StockItem, output *entity.StockItem, buildID, userID string) error {
	item.BelongsToID = &output.ID
	item.LocationID = nil
	if err := tx.Save(item).Error; err != nil {
		return fmt.Errorf("装入库存失败: %w", err)
	}
	return addTracking(tx, item.ID, entity.TrackingInstalledIntoItem, "", userID, entity.JSONB{
		"install_into": output.ID,
		"build":        buildID,
	})
}

// consumeStockItem 标记库存被生产订单消耗
func consumeStockItem(tx *gorm.DB, item *entity.StockItem, buildID, userID string) error {
	item.ConsumedByID = &buildID
	item.LocationID = nil
	if err := tx.Save(item).Error; err != nil {
		return fmt.Errorf("消耗库存失败: %w", err)
	}
	return addTracking(tx, item.ID, entity.TrackingBuildConsumed, "", userID, entity.JSONB{
		"build": buildID,
	})
}
