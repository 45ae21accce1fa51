package handler

import "github.com/bitfantasy/nimo-mes/internal/mes/service"

// Handlers 生产管理HTTP处理器集合
type Handlers struct {
	Part  *PartHandler
	Stock *StockHandler
	Build *BuildHandler
}

func NewHandlers(services *service.Services) *Handlers {
	return &Handlers{
		Part:  NewPartHandler(services.Part),
		Stock: NewStockHandler(services.Stock),
		Build: NewBuildHandler(services.Build, services.Export),
	}
}
