package entity

import (
	"time"
)

// BuildOrderStatus 生产订单状态
const (
	BuildStatusPending    = "PENDING"
	BuildStatusProduction = "PRODUCTION"
	BuildStatusOnHold     = "ON_HOLD"
	BuildStatusComplete   = "COMPLETE"
	BuildStatusCancelled  = "CANCELLED"
)

// BuildOrder 生产订单
// Quantity 计划数量，Completed 已完工数量；ParentID + Path 构成子装配订单树
type BuildOrder struct {
	ID             string     `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	Reference      string     `json:"reference" gorm:"size:64;not null;uniqueIndex"`
	ReferenceInt   int64      `json:"reference_int" gorm:"index"` // 单号中的递增序号，用于排序与取号
	Title          string     `json:"title" gorm:"size:200"`
	PartID         string     `json:"part_id" gorm:"type:uuid;not null;index"`
	PartCode       string     `json:"part_code" gorm:"size:64"`
	PartName       string     `json:"part_name" gorm:"size:128"`
	ParentID       *string    `json:"parent_id" gorm:"type:uuid;index"`
	Path           string     `json:"path" gorm:"size:1024;index"` // 祖先ID物化路径
	SalesOrderID   *string    `json:"sales_order_id" gorm:"size:64;index"`
	ProjectCode    string     `json:"project_code" gorm:"size:64"`
	Quantity       float64    `json:"quantity" gorm:"type:decimal(12,4);not null"`
	Completed      float64    `json:"completed" gorm:"type:decimal(12,4);default:0"`
	Status         string     `json:"status" gorm:"size:20;not null;default:PENDING;index"`
	Batch          string     `json:"batch" gorm:"size:100"`
	External       bool       `json:"external" gorm:"default:false"` // 委外生产
	TakeFromID     *string    `json:"take_from_id" gorm:"type:uuid"`    // 领料库位
	DestinationID  *string    `json:"destination_id" gorm:"type:uuid"`  // 完工入库库位
	StartDate      *time.Time `json:"start_date"`
	TargetDate     *time.Time `json:"target_date"`
	CompletionDate *time.Time `json:"completion_date"`
	Priority       int        `json:"priority" gorm:"default:0"`
	IssuedByID     string     `json:"issued_by_id" gorm:"size:64"`
	ResponsibleID  string     `json:"responsible_id" gorm:"size:64"`
	CompletedByID  string     `json:"completed_by_id" gorm:"size:64"`
	Notes          string     `json:"notes" gorm:"type:text"`
	CreatedBy      string     `json:"created_by" gorm:"size:64;not null"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	DeletedAt      *time.Time `json:"deleted_at" gorm:"index"`

	Part   *Part       `json:"part,omitempty" gorm:"foreignKey:PartID"`
	Parent *BuildOrder `json:"parent,omitempty" gorm:"foreignKey:ParentID"`
	Lines  []BuildLine `json:"lines,omitempty" gorm:"foreignKey:BuildID"`
}

func (BuildOrder) TableName() string {
	return "mes_build_orders"
}

// CurrentStatus 实现状态机接口
func (b *BuildOrder) CurrentStatus() string {
	return b.Status
}

// SetStatus 实现状态机接口
func (b *BuildOrder) SetStatus(status string) {
	b.Status = status
}

// Remaining 未完工数量
func (b *BuildOrder) Remaining() float64 {
	r := b.Quantity - b.Completed
	if r < 0 {
		return 0
	}
	return r
}

// IsActive 是否处于活动状态（可分配/可产出）
func (b *BuildOrder) IsActive() bool {
	return b.Status == BuildStatusPending || b.Status == BuildStatusProduction || b.Status == BuildStatusOnHold
}

// IsComplete 是否终态完工
func (b *BuildOrder) IsComplete() bool {
	return b.Status == BuildStatusComplete
}

// BuildLine 生产订单用料行 —— BOM行按订单数量放大后的需求
// (BuildID, BomItemID) 唯一
type BuildLine struct {
	ID        string    `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	BuildID   string    `json:"build_id" gorm:"type:uuid;not null;index;uniqueIndex:uniq_build_line"`
	BomItemID string    `json:"bom_item_id" gorm:"type:uuid;not null;uniqueIndex:uniq_build_line"`
	Quantity  float64   `json:"quantity" gorm:"type:decimal(12,4);not null"`           // 需求数量
	Consumed  float64   `json:"consumed" gorm:"type:decimal(12,4);not null;default:0"` // 已消耗数量
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	BomItem     *BOMItem    `json:"bom_item,omitempty" gorm:"foreignKey:BomItemID"`
	Allocations []BuildItem `json:"allocations,omitempty" gorm:"foreignKey:BuildLineID"`
}

func (BuildLine) TableName() string {
	return "mes_build_lines"
}

// AllocatedQuantity 已分配数量（仅统计已加载的 Allocations）
func (l *BuildLine) AllocatedQuantity() float64 {
	var total float64
	for _, a := range l.Allocations {
		total += a.Quantity
	}
	return total
}

// RequiredQuantity 扣除已消耗后的剩余需求
func (l *BuildLine) RequiredQuantity() float64 {
	r := l.Quantity - l.Consumed
	if r < 0 {
		return 0
	}
	return r
}

// UnallocatedQuantity 尚未分配的需求数量，不为负
func (l *BuildLine) UnallocatedQuantity() float64 {
	u := l.RequiredQuantity() - l.AllocatedQuantity()
	if u < 0 {
		return 0
	}
	return u
}

// IsFullyAllocated 是否已完成分配；辅料行无需分配，恒为真
func (l *BuildLine) IsFullyAllocated() bool {
	if l.BomItem != nil && l.BomItem.Consumable {
		return true
	}
	return l.AllocatedQuantity() >= l.RequiredQuantity()
}

// IsOverAllocated 是否超量分配
func (l *BuildLine) IsOverAllocated() bool {
	return l.AllocatedQuantity() > l.RequiredQuantity()
}

// IsTracked 子件是否序列号管理
func (l *BuildLine) IsTracked() bool {
	return l.BomItem != nil && l.BomItem.SubPart != nil && l.BomItem.SubPart.Trackable
}

// BuildItem 库存分配记录 —— 把某个库存项的数量预留给某条用料行
// InstallIntoID 指定装入的在制产出（序列号件必填）
// (BuildLineID, StockItemID, InstallIntoID) 唯一
type BuildItem struct {
	ID            string    `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	BuildLineID   string    `json:"build_line_id" gorm:"type:uuid;not null;index;uniqueIndex:uniq_build_item"`
	StockItemID   string    `json:"stock_item_id" gorm:"type:uuid;not null;index;uniqueIndex:uniq_build_item"`
	InstallIntoID *string   `json:"install_into_id" gorm:"type:uuid;index;uniqueIndex:uniq_build_item"`
	Quantity      float64   `json:"quantity" gorm:"type:decimal(12,4);not null"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	BuildLine   *BuildLine `json:"build_line,omitempty" gorm:"foreignKey:BuildLineID"`
	StockItem   *StockItem `json:"stock_item,omitempty" gorm:"foreignKey:StockItemID"`
	InstallInto *StockItem `json:"install_into,omitempty" gorm:"foreignKey:InstallIntoID"`
}

func (BuildItem) TableName() string {
	return "mes_build_items"
}
