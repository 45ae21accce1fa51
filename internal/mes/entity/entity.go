package entity

import "gorm.io/gorm"

// AutoMigrate 自动迁移所有MES表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		// 主数据
		&Part{},
		&BOMItem{},
		&BOMSubstitute{},

		// 库存
		&StockLocation{},
		&StockItem{},
		&StockTracking{},
		&SalesOrderAllocation{},

		// 生产
		&BuildOrder{},
		&BuildLine{},
		&BuildItem{},

		// 设置
		&GlobalSetting{},
	)
}
