package repository

import (
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"gorm.io/gorm"
)

type PartRepository struct {
	db *gorm.DB
}

func NewPartRepository(db *gorm.DB) *PartRepository {
	return &PartRepository{db: db}
}

func (r *PartRepository) Create(p *entity.Part) error {
	return r.db.Create(p).Error
}

func (r *PartRepository) GetByID(id string) (*entity.Part, error) {
	var p entity.Part
	err := r.db.Where("id = ? AND deleted_at IS NULL", id).First(&p).Error
	return &p, err
}

func (r *PartRepository) Update(p *entity.Part) error {
	return r.db.Save(p).Error
}

type PartListParams struct {
	Assembly *bool
	Keyword  string
	Page     int
	Size     int
}

func (r *PartRepository) List(params PartListParams) ([]entity.Part, int64, error) {
	query := r.db.Model(&entity.Part{}).Where("deleted_at IS NULL")
	if params.Assembly != nil {
		query = query.Where("assembly = ?", *params.Assembly)
	}
	if params.Keyword != "" {
		kw := "%" + params.Keyword + "%"
		query = query.Where("code ILIKE ? OR name ILIKE ?", kw, kw)
	}
	var total int64
	query.Count(&total)
	if params.Page <= 0 {
		params.Page = 1
	}
	if params.Size <= 0 {
		params.Size = 20
	}
	var parts []entity.Part
	err := query.Order("code").Offset((params.Page-1)*params.Size).Limit(params.Size).Find(&parts).Error
	return parts, total, err
}

func (r *PartRepository) CreateBOMItem(item *entity.BOMItem) error {
	return r.db.Create(item).Error
}

func (r *PartRepository) GetBOMItem(id string) (*entity.BOMItem, error) {
	var item entity.BOMItem
	err := r.db.Preload("SubPart").Preload("Substitutes").Where("id = ?", id).First(&item).Error
	return &item, err
}

func (r *PartRepository) CreateSubstitute(sub *entity.BOMSubstitute) error {
	return r.db.Create(sub).Error
}

// Ancestors 沿 variant_of 链向上取所有模板物料
func (r *PartRepository) Ancestors(partID string) ([]entity.Part, error) {
	var ancestors []entity.Part
	current := partID
	for {
		var p entity.Part
		if err := r.db.Where("id = ?", current).First(&p).Error; err != nil {
			return ancestors, err
		}
		if p.VariantOfID == nil {
			return ancestors, nil
		}
		var parent entity.Part
		if err := r.db.Where("id = ?", *p.VariantOfID).First(&parent).Error; err != nil {
			return ancestors, err
		}
		ancestors = append(ancestors, parent)
		current = parent.ID
	}
}

// GetBOMItems 展开装配件的全部BOM行：自身的行 + 模板祖先上标记继承的行
func (r *PartRepository) GetBOMItems(partID string) ([]entity.BOMItem, error) {
	var items []entity.BOMItem
	err := r.db.Preload("SubPart").Preload("Substitutes").
		Where("part_id = ?", partID).Order("created_at").Find(&items).Error
	if err != nil {
		return nil, err
	}

	ancestors, err := r.Ancestors(partID)
	if err != nil {
		return nil, err
	}
	for _, anc := range ancestors {
		var inherited []entity.BOMItem
		if err := r.db.Preload("SubPart").Preload("Substitutes").
			Where("part_id = ? AND inherited = ?", anc.ID, true).
			Order("created_at").Find(&inherited).Error; err != nil {
			return nil, err
		}
		items = append(items, inherited...)
	}
	return items, nil
}

// VariantIDs 取物料变体树中所有后代ID（含自身）
func (r *PartRepository) VariantIDs(partID string) ([]string, error) {
	ids := []string{partID}
	frontier := []string{partID}
	for len(frontier) > 0 {
		var children []entity.Part
		if err := r.db.Select("id").Where("variant_of_id IN ?", frontier).Find(&children).Error; err != nil {
			return nil, err
		}
		frontier = frontier[:0]
		for _, c := range children {
			ids = append(ids, c.ID)
			frontier = append(frontier, c.ID)
		}
	}
	return ids, nil
}

// IsVariantOf 判断 partID 是否为 templateID 的变体（后代）
func (r *PartRepository) IsVariantOf(templateID, partID string) (bool, error) {
	if templateID == partID {
		return true, nil
	}
	current := partID
	for {
		var p entity.Part
		if err := r.db.Select("id", "variant_of_id").Where("id = ?", current).First(&p).Error; err != nil {
			return false, err
		}
		if p.VariantOfID == nil {
			return false, nil
		}
		if *p.VariantOfID == templateID {
			return true, nil
		}
		current = *p.VariantOfID
	}
}

// DB 返回底层db用于事务
func (r *PartRepository) DB() *gorm.DB {
	return r.db
}
