package service

import (
	"bytes"
	"fmt"

	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/xuri/excelize/v2"
)

// ExportService 导出报表
type ExportService struct {
	repos *repository.Repositories
}

func NewExportService(repos *repository.Repositories) *ExportService {
	return &ExportService{repos: repos}
}

// BuildAllocationReport 生产订单领料分配表（xlsx）
// 第一张表为用料行汇总，第二张表为分配明细
func (s *ExportService) BuildAllocationReport(buildID string) (*bytes.Buffer, string, error) {
	order, err := s.repos.Build.GetByID(buildID)
	if err != nil {
		return nil, "", fmt.Errorf("订单不存在: %w", err)
	}
	lines, err := s.repos.Build.AnnotatedLines(buildID)
	if err != nil {
		return nil, "", err
	}
	items, err := s.repos.Build.ItemsForBuild(buildID)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := "用料汇总"
	f.SetSheetName("Sheet1", sheet)
	headers := []string{"子件编码", "子件名称", "需求数量", "已分配", "已消耗", "在库数量", "是否辅料", "是否序列号件"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}
	row := 2
	for _, line := range lines {
		code, name := "", ""
		consumable, tracked := false, false
		if line.BomItem != nil && line.BomItem.SubPart != nil {
			code = line.BomItem.SubPart.Code
			name = line.BomItem.SubPart.Name
			consumable = line.BomItem.Consumable
			tracked = line.BomItem.SubPart.Trackable
		}
		values := []interface{}{code, name, line.Quantity, line.Allocated, line.Consumed, line.AvailableStock, consumable, tracked}
		for i, v := range values {
			cell, _ := excelize.CoordinatesToCellName(i+1, row)
			f.SetCellValue(sheet, cell, v)
		}
		row++
	}

	detail := "分配明细"
	if _, err := f.NewSheet(detail); err != nil {
		return nil, "", fmt.Errorf("生成报表失败: %w", err)
	}
	detailHeaders := []string{"子件编码", "库存项", "序列号", "批次", "分配数量", "装入产出"}
	for i, h := range detailHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(detail, cell, h)
	}
	row = 2
	for _, item := range items {
		code, serial, batch := "", "", ""
		if item.BuildLine != nil && item.BuildLine.BomItem != nil && item.BuildLine.BomItem.SubPart != nil {
			code = item.BuildLine.BomItem.SubPart.Code
		}
		if item.StockItem != nil {
			serial = item.StockItem.SerialNo
			batch = item.StockItem.BatchNo
		}
		installInto := ""
		if item.InstallIntoID != nil {
			installInto = *item.InstallIntoID
		}
		values := []interface{}{code, item.StockItemID, serial, batch, item.Quantity, installInto}
		for i, v := range values {
			cell, _ := excelize.CoordinatesToCellName(i+1, row)
			f.SetCellValue(detail, cell, v)
		}
		row++
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", fmt.Errorf("生成报表失败: %w", err)
	}
	filename := fmt.Sprintf("%s-领料分配表.xlsx", order.Reference)
	return buf, filename, nil
}
