package repository

import (
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"gorm.io/gorm"
)

type BuildOrderRepository struct {
	db *gorm.DB
}

func NewBuildOrderRepository(db *gorm.DB) *BuildOrderRepository {
	return &BuildOrderRepository{db: db}
}

func (r *BuildOrderRepository) Create(b *entity.BuildOrder) error {
	return r.db.Create(b).Error
}

func (r *BuildOrderRepository) GetByID(id string) (*entity.BuildOrder, error) {
	var b entity.BuildOrder
	err := r.db.Preload("Part").
		Preload("Lines.BomItem.SubPart").
		Preload("Lines.BomItem.Substitutes").
		Preload("Lines.Allocations").
		Where("id = ? AND deleted_at IS NULL", id).First(&b).Error
	return &b, err
}

func (r *BuildOrderRepository) GetByReference(reference string) (*entity.BuildOrder, error) {
	var b entity.BuildOrder
	err := r.db.Where("reference = ? AND deleted_at IS NULL", reference).First(&b).Error
	return &b, err
}

func (r *BuildOrderRepository) Update(b *entity.BuildOrder) error {
	return r.db.Save(b).Error
}

type BuildListParams struct {
	Status   string
	PartID   string
	ParentID string
	Keyword  string
	Page     int
	Size     int
}

func (r *BuildOrderRepository) List(params BuildListParams) ([]entity.BuildOrder, int64, error) {
	query := r.db.Model(&entity.BuildOrder{}).Where("deleted_at IS NULL")
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	if params.PartID != "" {
		query = query.Where("part_id = ?", params.PartID)
	}
	if params.ParentID != "" {
		query = query.Where("parent_id = ?", params.ParentID)
	}
	if params.Keyword != "" {
		kw := "%" + params.Keyword + "%"
		query = query.Where("reference ILIKE ? OR title ILIKE ? OR part_name ILIKE ?", kw, kw, kw)
	}
	var total int64
	query.Count(&total)
	if params.Page <= 0 {
		params.Page = 1
	}
	if params.Size <= 0 {
		params.Size = 20
	}
	var builds []entity.BuildOrder
	err := query.Order("reference_int DESC").Offset((params.Page-1)*params.Size).Limit(params.Size).Find(&builds).Error
	return builds, total, err
}

// MaxReferenceInt 当前最大单号序号，取号用
func (r *BuildOrderRepository) MaxReferenceInt() (int64, error) {
	var result struct{ Max int64 }
	err := r.db.Raw(`
		SELECT COALESCE(MAX(reference_int), 0) as max FROM mes_build_orders
	`).Scan(&result).Error
	return result.Max, err
}

// ==================== 用料行 ====================

func (r *BuildOrderRepository) BatchCreateLines(lines []entity.BuildLine) error {
	return r.db.Create(&lines).Error
}

func (r *BuildOrderRepository) GetLine(id string) (*entity.BuildLine, error) {
	var line entity.BuildLine
	err := r.db.Preload("BomItem.SubPart").Preload("BomItem.Substitutes").Preload("Allocations").
		Where("id = ?", id).First(&line).Error
	return &line, err
}

func (r *BuildOrderRepository) GetLines(buildID string) ([]entity.BuildLine, error) {
	var lines []entity.BuildLine
	err := r.db.Preload("BomItem.SubPart").Preload("BomItem.Substitutes").Preload("Allocations").
		Where("build_id = ?", buildID).Order("created_at").Find(&lines).Error
	return lines, err
}

func (r *BuildOrderRepository) UpdateLine(line *entity.BuildLine) error {
	return r.db.Save(line).Error
}

// FindLineForBOMItem 查订单上对应某BOM行的用料行
func (r *BuildOrderRepository) FindLineForBOMItem(buildID, bomItemID string) (*entity.BuildLine, error) {
	var line entity.BuildLine
	err := r.db.Preload("BomItem.SubPart").Preload("Allocations").
		Where("build_id = ? AND bom_item_id = ?", buildID, bomItemID).First(&line).Error
	return &line, err
}

// LineAllocatedQty 用料行的已分配数量（数据库聚合）
func (r *BuildOrderRepository) LineAllocatedQty(lineID string) (float64, error) {
	var result struct{ Total float64 }
	err := r.db.Raw(`
		SELECT COALESCE(SUM(quantity), 0) as total
		FROM mes_build_items WHERE build_line_id = ?
	`, lineID).Scan(&result).Error
	return result.Total, err
}

// AnnotatedLine 用料行列表展示用的聚合结果
type AnnotatedLine struct {
	entity.BuildLine
	Allocated      float64 `json:"allocated"`
	AvailableStock float64 `json:"available_stock"`
}

// AnnotatedLines 批量计算每行的已分配数量与子件在库数量
func (r *BuildOrderRepository) AnnotatedLines(buildID string) ([]AnnotatedLine, error) {
	lines, err := r.GetLines(buildID)
	if err != nil {
		return nil, err
	}
	annotated := make([]AnnotatedLine, 0, len(lines))
	for _, line := range lines {
		a := AnnotatedLine{BuildLine: line, Allocated: line.AllocatedQuantity()}
		if line.BomItem != nil {
			var result struct{ Total float64 }
			if err := r.db.Raw(`
				SELECT COALESCE(SUM(quantity), 0) as total
				FROM mes_stock_items
				WHERE part_id = ? AND deleted_at IS NULL
				AND consumed_by_id IS NULL AND belongs_to_id IS NULL AND is_building = false
			`, line.BomItem.SubPartID).Scan(&result).Error; err != nil {
				return nil, err
			}
			a.AvailableStock = result.Total
		}
		annotated = append(annotated, a)
	}
	return annotated, nil
}

// ==================== 分配记录 ====================

func (r *BuildOrderRepository) CreateItem(item *entity.BuildItem) error {
	return r.db.Create(item).Error
}

func (r *BuildOrderRepository) GetItem(id string) (*entity.BuildItem, error) {
	var item entity.BuildItem
	err := r.db.Preload("BuildLine.BomItem.SubPart").Preload("StockItem.Part").Preload("InstallInto").
		Where("id = ?", id).First(&item).Error
	return &item, err
}

func (r *BuildOrderRepository) UpdateItem(item *entity.BuildItem) error {
	return r.db.Save(item).Error
}

func (r *BuildOrderRepository) DeleteItem(item *entity.BuildItem) error {
	return r.db.Delete(item).Error
}

// FindItem 按唯一三元组查已有分配（用于合并数量）
func (r *BuildOrderRepository) FindItem(buildLineID, stockItemID string, installIntoID *string) (*entity.BuildItem, error) {
	query := r.db.Where("build_line_id = ? AND stock_item_id = ?", buildLineID, stockItemID)
	if installIntoID == nil {
		query = query.Where("install_into_id IS NULL")
	} else {
		query = query.Where("install_into_id = ?", *installIntoID)
	}
	var item entity.BuildItem
	err := query.First(&item).Error
	return &item, err
}

// ItemsForBuild 订单下全部分配记录
func (r *BuildOrderRepository) ItemsForBuild(buildID string) ([]entity.BuildItem, error) {
	var items []entity.BuildItem
	err := r.db.Preload("BuildLine.BomItem.SubPart").Preload("StockItem").
		Joins("JOIN mes_build_lines ON mes_build_lines.id = mes_build_items.build_line_id").
		Where("mes_build_lines.build_id = ?", buildID).
		Order("mes_build_items.created_at").
		Find(&items).Error
	return items, err
}

// ItemsForOutput 指向某在制产出的分配记录
func (r *BuildOrderRepository) ItemsForOutput(outputID string) ([]entity.BuildItem, error) {
	var items []entity.BuildItem
	err := r.db.Preload("BuildLine.BomItem.SubPart").Preload("StockItem").
		Where("install_into_id = ?", outputID).
		Order("created_at").
		Find(&items).Error
	return items, err
}

// DeleteItemsForBuild 删除订单下的分配记录，可选限定用料行/产出
func (r *BuildOrderRepository) DeleteItemsForBuild(buildID, buildLineID, outputID string) error {
	query := r.db.
		Where("build_line_id IN (?)", r.db.Model(&entity.BuildLine{}).Select("id").Where("build_id = ?", buildID))
	if buildLineID != "" {
		query = query.Where("build_line_id = ?", buildLineID)
	}
	if outputID != "" {
		query = query.Where("install_into_id = ?", outputID)
	}
	return query.Delete(&entity.BuildItem{}).Error
}

// ==================== 产出 ====================

// IncompleteOutputs 在制产出
func (r *BuildOrderRepository) IncompleteOutputs(buildID string) ([]entity.StockItem, error) {
	var outputs []entity.StockItem
	err := r.db.Where("build_id = ? AND is_building = ? AND deleted_at IS NULL", buildID, true).
		Order("created_at").Find(&outputs).Error
	return outputs, err
}

// CompleteOutputs 已完工产出（不含报废）
func (r *BuildOrderRepository) CompleteOutputs(buildID string) ([]entity.StockItem, error) {
	var outputs []entity.StockItem
	err := r.db.Where("build_id = ? AND is_building = ? AND status != ? AND deleted_at IS NULL",
		buildID, false, entity.StockStatusRejected).
		Order("created_at").Find(&outputs).Error
	return outputs, err
}

// CompleteOutputQty 已完工产出总数量
func (r *BuildOrderRepository) CompleteOutputQty(buildID string) (float64, error) {
	var result struct{ Total float64 }
	err := r.db.Raw(`
		SELECT COALESCE(SUM(quantity), 0) as total
		FROM mes_stock_items
		WHERE build_id = ? AND is_building = false AND status != ? AND deleted_at IS NULL
	`, buildID, entity.StockStatusRejected).Scan(&result).Error
	return result.Total, err
}

// ==================== 订单树 ====================

func (r *BuildOrderRepository) Children(buildID string) ([]entity.BuildOrder, error) {
	var children []entity.BuildOrder
	err := r.db.Where("parent_id = ? AND deleted_at IS NULL", buildID).Find(&children).Error
	return children, err
}

// Descendants 按物化路径前缀取全部后代订单
func (r *BuildOrderRepository) Descendants(path string) ([]entity.BuildOrder, error) {
	var descendants []entity.BuildOrder
	err := r.db.Where("path LIKE ? AND deleted_at IS NULL", path+"/%").Find(&descendants).Error
	return descendants, err
}

// HasOpenChildren 是否存在未关闭的子订单
func (r *BuildOrderRepository) HasOpenChildren(buildID string) (bool, error) {
	var count int64
	err := r.db.Model(&entity.BuildOrder{}).
		Where("parent_id = ? AND deleted_at IS NULL", buildID).
		Where("status NOT IN ?", []string{entity.BuildStatusComplete, entity.BuildStatusCancelled}).
		Count(&count).Error
	return count > 0, err
}

// DB 返回底层db用于事务
func (r *BuildOrderRepository) DB() *gorm.DB {
	return r.db
}
