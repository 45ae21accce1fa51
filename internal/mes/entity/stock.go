package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONB JSONB类型
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("failed to scan JSONB: %v", value)
	}
	return json.Unmarshal(bytes, j)
}

// StockItemStatus 库存状态
const (
	StockStatusOK       = "OK"
	StockStatusDamaged  = "DAMAGED"
	StockStatusRejected = "REJECTED"
)

// StockTrackingType 库存履历类型
const (
	TrackingBuildOutputCreated   = "BUILD_OUTPUT_CREATED"
	TrackingBuildOutputCompleted = "BUILD_OUTPUT_COMPLETED"
	TrackingBuildOutputRejected  = "BUILD_OUTPUT_REJECTED"
	TrackingBuildConsumed        = "BUILD_CONSUMED"
	TrackingInstalledIntoItem    = "INSTALLED_INTO_ITEM"
	TrackingSplitFromItem        = "SPLIT_FROM_ITEM"
)

// StockLocation 库位 —— 邻接表 + 物化路径，Path 形如 "id1/id2/id3"
type StockLocation struct {
	ID          string     `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	Name        string     `json:"name" gorm:"size:128;not null"`
	Description string     `json:"description" gorm:"type:text"`
	ParentID    *string    `json:"parent_id" gorm:"type:uuid;index"`
	Path        string     `json:"path" gorm:"size:1024;index"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at" gorm:"index"`

	Parent *StockLocation `json:"parent,omitempty" gorm:"foreignKey:ParentID"`
}

func (StockLocation) TableName() string {
	return "mes_stock_locations"
}

// StockItem 库存项
// IsBuilding=true 表示生产订单的在制产出；ConsumedByID 记录被哪个订单消耗；
// BelongsToID 表示已装入另一库存项（序列号件装配）
type StockItem struct {
	ID           string     `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	PartID       string     `json:"part_id" gorm:"type:uuid;not null;index"`
	LocationID   *string    `json:"location_id" gorm:"type:uuid;index"`
	Quantity     float64    `json:"quantity" gorm:"type:decimal(12,4);not null;default:0"`
	SerialNo     string     `json:"serial_no" gorm:"size:100;index"`
	BatchNo      string     `json:"batch_no" gorm:"size:50"`
	Status       string     `json:"status" gorm:"size:20;not null;default:OK"`
	IsBuilding   bool       `json:"is_building" gorm:"default:false;index"`
	BuildID      *string    `json:"build_id" gorm:"type:uuid;index"`       // 产出自哪个生产订单
	ConsumedByID *string    `json:"consumed_by_id" gorm:"type:uuid;index"` // 被哪个生产订单消耗
	BelongsToID  *string    `json:"belongs_to_id" gorm:"type:uuid;index"`  // 装入的父库存项
	Notes        string     `json:"notes" gorm:"type:text"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at" gorm:"index"`

	Part     *Part          `json:"part,omitempty" gorm:"foreignKey:PartID"`
	Location *StockLocation `json:"location,omitempty" gorm:"foreignKey:LocationID"`
}

func (StockItem) TableName() string {
	return "mes_stock_items"
}

// Serialized 是否序列号管理的单件库存
func (s *StockItem) Serialized() bool {
	return s.SerialNo != ""
}

// InStock 是否可用在库库存：未被消耗、未装入他件、不是在制品
func (s *StockItem) InStock() bool {
	return s.ConsumedByID == nil && s.BelongsToID == nil && !s.IsBuilding && s.Quantity > 0
}

// StockTracking 库存履历
type StockTracking struct {
	ID           string    `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	StockItemID  string    `json:"stock_item_id" gorm:"type:uuid;not null;index"`
	TrackingType string    `json:"tracking_type" gorm:"size:40;not null"`
	Notes        string    `json:"notes" gorm:"type:text"`
	Deltas       JSONB     `json:"deltas" gorm:"type:jsonb"`
	CreatedBy    string    `json:"created_by" gorm:"size:64"`
	CreatedAt    time.Time `json:"created_at"`
}

func (StockTracking) TableName() string {
	return "mes_stock_tracking"
}

// SalesOrderAllocation 销售订单预留
// 生产分配校验库存守恒时需要把销售预留一起计入，故此处保留最小模型
type SalesOrderAllocation struct {
	ID           string    `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	SalesOrderID string    `json:"sales_order_id" gorm:"size:64;not null;index"`
	StockItemID  string    `json:"stock_item_id" gorm:"type:uuid;not null;index"`
	Quantity     float64   `json:"quantity" gorm:"type:decimal(12,4);not null"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (SalesOrderAllocation) TableName() string {
	return "mes_sales_order_allocations"
}
