package repository

import (
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"gorm.io/gorm"
)

type StockRepository struct {
	db *gorm.DB
}

func NewStockRepository(db *gorm.DB) *StockRepository {
	return &StockRepository{db: db}
}

func (r *StockRepository) Create(item *entity.StockItem) error {
	return r.db.Create(item).Error
}

func (r *StockRepository) GetByID(id string) (*entity.StockItem, error) {
	var item entity.StockItem
	err := r.db.Preload("Part").Where("id = ? AND deleted_at IS NULL", id).First(&item).Error
	return &item, err
}

func (r *StockRepository) Update(item *entity.StockItem) error {
	return r.db.Save(item).Error
}

func (r *StockRepository) Delete(item *entity.StockItem) error {
	return r.db.Delete(item).Error
}

type StockListParams struct {
	PartID     string
	LocationID string
	InStock    bool
	Page       int
	Size       int
}

func (r *StockRepository) List(params StockListParams) ([]entity.StockItem, int64, error) {
	query := r.db.Model(&entity.StockItem{}).Where("deleted_at IS NULL")
	if params.PartID != "" {
		query = query.Where("part_id = ?", params.PartID)
	}
	if params.LocationID != "" {
		query = query.Where("location_id = ?", params.LocationID)
	}
	if params.InStock {
		query = query.Where("consumed_by_id IS NULL AND belongs_to_id IS NULL AND is_building = ? AND quantity > 0", false)
	}
	var total int64
	query.Count(&total)
	if params.Page <= 0 {
		params.Page = 1
	}
	if params.Size <= 0 {
		params.Size = 20
	}
	var items []entity.StockItem
	err := query.Preload("Part").Order("created_at DESC").
		Offset((params.Page-1)*params.Size).Limit(params.Size).Find(&items).Error
	return items, total, err
}

// BuildAllocationQty 某库存项在所有生产订单上的已分配数量
// excludeItemID 排除指定分配记录（校验更新场景用）
func (r *StockRepository) BuildAllocationQty(stockItemID, excludeItemID string) (float64, error) {
	var result struct{ Total float64 }
	query := r.db.Model(&entity.BuildItem{}).
		Select("COALESCE(SUM(quantity), 0) as total").
		Where("stock_item_id = ?", stockItemID)
	if excludeItemID != "" {
		query = query.Where("id != ?", excludeItemID)
	}
	err := query.Scan(&result).Error
	return result.Total, err
}

// SalesAllocationQty 某库存项在销售订单上的预留数量
func (r *StockRepository) SalesAllocationQty(stockItemID string) (float64, error) {
	var result struct{ Total float64 }
	err := r.db.Raw(`
		SELECT COALESCE(SUM(quantity), 0) as total
		FROM mes_sales_order_allocations
		WHERE stock_item_id = ?
	`, stockItemID).Scan(&result).Error
	return result.Total, err
}

// AllocatedQty 生产 + 销售的全部预留数量，库存守恒校验用
func (r *StockRepository) AllocatedQty(stockItemID, excludeBuildItemID string) (float64, error) {
	buildQty, err := r.BuildAllocationQty(stockItemID, excludeBuildItemID)
	if err != nil {
		return 0, err
	}
	salesQty, err := r.SalesAllocationQty(stockItemID)
	if err != nil {
		return 0, err
	}
	return buildQty + salesQty, nil
}

// AvailableQuery 构造在库可用库存查询：未消耗、未装入、非在制
func (r *StockRepository) availableQuery(partIDs []string) *gorm.DB {
	return r.db.Model(&entity.StockItem{}).
		Where("deleted_at IS NULL").
		Where("part_id IN ?", partIDs).
		Where("consumed_by_id IS NULL AND belongs_to_id IS NULL AND is_building = ?", false).
		Where("quantity > 0").
		Where("status = ?", entity.StockStatusOK)
}

type AvailableStockParams struct {
	PartIDs            []string
	Serial             string   // 非空则按序列号精确匹配
	Unserialized       bool     // 只要无序列号的散件
	LocationIDs        []string // 限定库位集合
	ExcludeLocationIDs []string
}

// FindAvailable 查找可分配的库存项
func (r *StockRepository) FindAvailable(params AvailableStockParams) ([]entity.StockItem, error) {
	query := r.availableQuery(params.PartIDs)
	if params.Serial != "" {
		query = query.Where("serial_no = ?", params.Serial)
	}
	if params.Unserialized {
		query = query.Where("serial_no = ''")
	}
	if len(params.LocationIDs) > 0 {
		query = query.Where("location_id IN ?", params.LocationIDs)
	}
	if len(params.ExcludeLocationIDs) > 0 {
		query = query.Where("location_id IS NULL OR location_id NOT IN ?", params.ExcludeLocationIDs)
	}
	var items []entity.StockItem
	err := query.Order("created_at").Find(&items).Error
	return items, err
}

func (r *StockRepository) CreateLocation(loc *entity.StockLocation) error {
	return r.db.Create(loc).Error
}

func (r *StockRepository) GetLocation(id string) (*entity.StockLocation, error) {
	var loc entity.StockLocation
	err := r.db.Where("id = ? AND deleted_at IS NULL", id).First(&loc).Error
	return &loc, err
}

// LocationSubtreeIDs 按物化路径前缀取库位子树的全部ID（含根）
func (r *StockRepository) LocationSubtreeIDs(locationID string) ([]string, error) {
	loc, err := r.GetLocation(locationID)
	if err != nil {
		return nil, err
	}
	var locs []entity.StockLocation
	if err := r.db.Select("id").
		Where("path LIKE ? AND deleted_at IS NULL", loc.Path+"%").
		Find(&locs).Error; err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(locs))
	for _, l := range locs {
		ids = append(ids, l.ID)
	}
	return ids, nil
}

func (r *StockRepository) CreateTracking(tracking *entity.StockTracking) error {
	return r.db.Create(tracking).Error
}

func (r *StockRepository) ListTracking(stockItemID string) ([]entity.StockTracking, error) {
	var entries []entity.StockTracking
	err := r.db.Where("stock_item_id = ?", stockItemID).Order("created_at DESC").Find(&entries).Error
	return entries, err
}

func (r *StockRepository) CreateSalesAllocation(a *entity.SalesOrderAllocation) error {
	return r.db.Create(a).Error
}

// DB 返回底层db用于事务
func (r *StockRepository) DB() *gorm.DB {
	return r.db
}
