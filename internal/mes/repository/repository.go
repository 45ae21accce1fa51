package repository

import "gorm.io/gorm"

// Repositories MES 仓库集合
type Repositories struct {
	Part    *PartRepository
	Stock   *StockRepository
	Build   *BuildOrderRepository
	Setting *SettingRepository
}

func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Part:    NewPartRepository(db),
		Stock:   NewStockRepository(db),
		Build:   NewBuildOrderRepository(db),
		Setting: NewSettingRepository(db),
	}
}

// WithTx 返回绑定到事务的仓库集合
// 事务内的校验读取必须走它，否则读不到本事务未提交的写入
func (r *Repositories) WithTx(tx *gorm.DB) *Repositories {
	return NewRepositories(tx)
}
