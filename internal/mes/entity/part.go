package entity

import (
	"time"
)

// Part 物料/产品主数据
// Assembly=true 的物料可以创建生产订单；VariantOfID 指向模板物料，形成变体树
type Part struct {
	ID           string     `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	Code         string     `json:"code" gorm:"size:64;not null;uniqueIndex"`
	Name         string     `json:"name" gorm:"size:128;not null"`
	Description  string     `json:"description" gorm:"type:text"`
	Unit         string     `json:"unit" gorm:"size:20;not null;default:pcs"`
	Assembly     bool       `json:"assembly" gorm:"default:false"`      // 可装配（有BOM）
	Component    bool       `json:"component" gorm:"default:true"`      // 可作为BOM子件
	Trackable    bool       `json:"trackable" gorm:"default:false"`     // 序列号管理
	Purchaseable bool       `json:"purchaseable" gorm:"default:true"`   // 可采购
	Active       bool       `json:"active" gorm:"default:true"`
	Locked       bool       `json:"locked" gorm:"default:false"`        // BOM已锁定
	BOMValidated bool       `json:"bom_validated" gorm:"default:false"` // BOM已校验
	VariantOfID  *string    `json:"variant_of_id" gorm:"type:uuid;index"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at" gorm:"index"`

	VariantOf *Part `json:"variant_of,omitempty" gorm:"foreignKey:VariantOfID"`
}

func (Part) TableName() string {
	return "mes_parts"
}

// BOMItem BOM行项 —— 装配件的一条用料需求
type BOMItem struct {
	ID            string    `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	PartID        string    `json:"part_id" gorm:"type:uuid;not null;index"`     // 装配件
	SubPartID     string    `json:"sub_part_id" gorm:"type:uuid;not null;index"` // 子件
	Quantity      float64   `json:"quantity" gorm:"type:decimal(12,4);not null"` // 单台用量
	Consumable    bool      `json:"consumable" gorm:"default:false"`    // 辅料，不做分配跟踪
	Optional      bool      `json:"optional" gorm:"default:false"`      // 可选件
	Inherited     bool      `json:"inherited" gorm:"default:false"`     // 向变体继承
	AllowVariants bool      `json:"allow_variants" gorm:"default:false"` // 允许用变体件分配
	Reference     string    `json:"reference" gorm:"size:128"`
	Notes         string    `json:"notes" gorm:"type:text"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	Part        *Part           `json:"part,omitempty" gorm:"foreignKey:PartID"`
	SubPart     *Part           `json:"sub_part,omitempty" gorm:"foreignKey:SubPartID"`
	Substitutes []BOMSubstitute `json:"substitutes,omitempty" gorm:"foreignKey:BomItemID"`
}

func (BOMItem) TableName() string {
	return "mes_bom_items"
}

// BOMSubstitute BOM替代料
type BOMSubstitute struct {
	ID        string    `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	BomItemID string    `json:"bom_item_id" gorm:"type:uuid;not null;index;uniqueIndex:uniq_bom_substitute"`
	PartID    string    `json:"part_id" gorm:"type:uuid;not null;uniqueIndex:uniq_bom_substitute"`
	CreatedAt time.Time `json:"created_at"`

	Part *Part `json:"part,omitempty" gorm:"foreignKey:PartID"`
}

func (BOMSubstitute) TableName() string {
	return "mes_bom_substitutes"
}
