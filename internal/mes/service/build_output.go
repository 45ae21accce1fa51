package service

import (
	"errors"
	"fmt"
	"math"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CreateOutputRequest struct {
	Quantity     float64  `json:"quantity" binding:"required,gt=0"`
	Serials      []string `json:"serials"` // 序列号件每个序列号产出一件
	Batch        string   `json:"batch"`
	AutoAllocate bool     `json:"auto_allocate"` // 按序列号匹配自动分配序列号子件
}

// CreateOutput 创建在制产出
// 产出物或其BOM中含序列号件时必须提供序列号；待下达订单创建产出后自动下达
func (s *BuildService) CreateOutput(buildID string, req CreateOutputRequest, userID string) ([]entity.StockItem, error) {
	order, err := s.repos.Build.GetByID(buildID)
	if err != nil {
		return nil, fmt.Errorf("订单不存在: %w", err)
	}
	if !order.IsActive() {
		return nil, fmt.Errorf("订单状态不允许创建产出: %s", order.Status)
	}
	part := order.Part
	if part == nil {
		if part, err = s.repos.Part.GetByID(order.PartID); err != nil {
			return nil, fmt.Errorf("物料不存在: %w", err)
		}
	}

	needSerials := part.Trackable
	if !needSerials {
		for i := range order.Lines {
			if order.Lines[i].IsTracked() {
				needSerials = true
				break
			}
		}
	}
	if needSerials && len(req.Serials) == 0 {
		return nil, fmt.Errorf("序列号管理的产出必须提供序列号")
	}
	if req.Quantity > order.Remaining() {
		return nil, fmt.Errorf("产出数量 %.4f 超过订单未完工数量 %.4f", req.Quantity, order.Remaining())
	}

	var outputs []entity.StockItem
	if len(req.Serials) > 0 {
		if req.Quantity != math.Trunc(req.Quantity) {
			return nil, fmt.Errorf("序列号产出数量必须为整数")
		}
		if int(req.Quantity) != len(req.Serials) {
			return nil, fmt.Errorf("序列号个数 %d 与数量 %.0f 不一致", len(req.Serials), req.Quantity)
		}
		seen := map[string]bool{}
		for _, sn := range req.Serials {
			if sn == "" {
				return nil, fmt.Errorf("序列号不能为空")
			}
			if seen[sn] {
				return nil, fmt.Errorf("序列号重复: %s", sn)
			}
			seen[sn] = true
			var count int64
			if err := s.db.Model(&entity.StockItem{}).
				Where("part_id = ? AND serial_no = ? AND deleted_at IS NULL", part.ID, sn).
				Count(&count).Error; err != nil {
				return nil, err
			}
			if count > 0 {
				return nil, fmt.Errorf("序列号已存在: %s", sn)
			}
		}
		for _, sn := range req.Serials {
			outputs = append(outputs, entity.StockItem{
				ID:         uuid.New().String(),
				PartID:     part.ID,
				Quantity:   1,
				SerialNo:   sn,
				BatchNo:    req.Batch,
				Status:     entity.StockStatusOK,
				IsBuilding: true,
				BuildID:    &order.ID,
			})
		}
	} else {
		outputs = append(outputs, entity.StockItem{
			ID:         uuid.New().String(),
			PartID:     part.ID,
			Quantity:   req.Quantity,
			BatchNo:    req.Batch,
			Status:     entity.StockStatusOK,
			IsBuilding: true,
			BuildID:    &order.ID,
		})
	}

	issued := false
	err = s.db.Transaction(func(tx *gorm.DB) error {
		for i := range outputs {
			if err := tx.Create(&outputs[i]).Error; err != nil {
				return fmt.Errorf("创建产出失败: %w", err)
			}
			if err := addTracking(tx, outputs[i].ID, entity.TrackingBuildOutputCreated, "", userID, entity.JSONB{
				"build":    order.ID,
				"quantity": outputs[i].Quantity,
			}); err != nil {
				return err
			}
		}
		if req.AutoAllocate {
			repos := s.repos.WithTx(tx)
			for i := range outputs {
				if err := s.autoAllocateBySerial(tx, repos, order, &outputs[i]); err != nil {
					return err
				}
			}
		}
		// 待下达订单创建产出即自动下达，与产出创建同一事务，下达失败整体回滚
		if order.Status == entity.BuildStatusPending {
			if s.policy.RequireResponsible() && order.ResponsibleID == "" {
				return fmt.Errorf("必须指定负责人后才能下达")
			}
			order.IssuedByID = userID
			if err := s.engine.TransitionTx(tx, order, entity.BuildStatusProduction, nil); err != nil {
				return err
			}
			issued = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if issued {
		s.events.Trigger(EventBuildIssued, map[string]interface{}{
			"build":     order.ID,
			"reference": order.Reference,
		})
		s.notifyStakeholders(order, EventBuildIssued, userID)
	}
	s.events.Trigger(EventBuildOutputCreated, map[string]interface{}{
		"build":     order.ID,
		"reference": order.Reference,
		"outputs":   len(outputs),
	})
	return outputs, nil
}

// autoAllocateBySerial 给序列号产出自动分配同序列号的序列号子件
// 仅当恰好有一个候选库存时分配，歧义时留给人工
func (s *BuildService) autoAllocateBySerial(tx *gorm.DB, repos *repository.Repositories, order *entity.BuildOrder, output *entity.StockItem) error {
	if output.SerialNo == "" {
		return nil
	}
	for i := range order.Lines {
		line := &order.Lines[i]
		if !line.IsTracked() || line.BomItem == nil {
			continue
		}
		partIDs := []string{line.BomItem.SubPartID}
		if line.BomItem.AllowVariants {
			variants, err := repos.Part.VariantIDs(line.BomItem.SubPartID)
			if err != nil {
				return err
			}
			partIDs = variants
		}
		items, err := repos.Stock.FindAvailable(repository.AvailableStockParams{
			PartIDs: partIDs,
			Serial:  output.SerialNo,
		})
		if err != nil {
			return err
		}
		if len(items) != 1 || items[0].Quantity != 1 {
			continue
		}
		item := &entity.BuildItem{
			ID:            uuid.New().String(),
			BuildLineID:   line.ID,
			StockItemID:   items[0].ID,
			InstallIntoID: &output.ID,
			Quantity:      1,
		}
		if err := tx.Create(item).Error; err != nil {
			return fmt.Errorf("按序列号自动分配失败: %w", err)
		}
	}
	return nil
}

type CompleteOutputRequest struct {
	OutputID                   string  `json:"output_id" binding:"required"`
	Quantity                   float64 `json:"quantity"`    // 0表示整件完工，小于产出数量则先拆分
	LocationID                 string  `json:"location_id"` // 入库库位，空则用订单完工库位
	Status                     string  `json:"status"`      // 入库状态，默认 OK
	Notes                      string  `json:"notes"`
	AcceptIncompleteAllocation bool    `json:"accept_incomplete_allocation"` // 接受序列号子件未分配齐
	RequiredTestsPassed        bool    `json:"required_tests_passed"`        // 质检结论，策略开启时校验
}

// CompleteOutput 完工产出：消耗指向它的分配，转为在库库存，累加订单完工数量
func (s *BuildService) CompleteOutput(buildID string, req CompleteOutputRequest, userID string) (*entity.StockItem, error) {
	order, err := s.repos.Build.GetByID(buildID)
	if err != nil {
		return nil, fmt.Errorf("订单不存在: %w", err)
	}
	if order.Status != entity.BuildStatusProduction {
		return nil, fmt.Errorf("订单状态不允许完工产出: %s", order.Status)
	}
	output, err := s.repos.Stock.GetByID(req.OutputID)
	if err != nil {
		return nil, fmt.Errorf("产出不存在: %w", err)
	}
	if !output.IsBuilding || output.BuildID == nil || *output.BuildID != order.ID {
		return nil, fmt.Errorf("不是该订单的在制产出")
	}
	if s.policy.PreventOutputCompleteOnIncompleteTests() && !req.RequiredTestsPassed {
		return nil, fmt.Errorf("必检项未通过，不能完工")
	}

	// 序列号子件必须按产出数量分配齐
	if !req.AcceptIncompleteAllocation {
		allocated := map[string]float64{}
		items, err := s.repos.Build.ItemsForOutput(output.ID)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			allocated[it.BuildLineID] += it.Quantity
		}
		for i := range order.Lines {
			line := &order.Lines[i]
			if !line.IsTracked() || line.BomItem == nil {
				continue
			}
			need := line.BomItem.Quantity * output.Quantity
			if allocated[line.ID] < need {
				return nil, fmt.Errorf("序列号子件 %s 未分配齐: 需要 %.4f，已分配 %.4f",
					line.BomItem.SubPart.Code, need, allocated[line.ID])
			}
		}
	}

	status := req.Status
	if status == "" {
		status = entity.StockStatusOK
	}
	locationID := req.LocationID
	if locationID == "" && order.DestinationID != nil {
		locationID = *order.DestinationID
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		// 部分完工：拆出完工部分，分配必须为空（无法按比例归属）
		if req.Quantity > 0 && req.Quantity < output.Quantity {
			items, err := s.repos.Build.ItemsForOutput(output.ID)
			if err != nil {
				return err
			}
			if len(items) > 0 {
				return fmt.Errorf("产出存在分配记录，不能部分完工")
			}
			split, err := splitStockItem(tx, output, req.Quantity, userID)
			if err != nil {
				return err
			}
			output = split
		} else if req.Quantity > output.Quantity {
			return fmt.Errorf("完工数量 %.4f 超过产出数量 %.4f", req.Quantity, output.Quantity)
		}
		if output.Quantity > order.Remaining() {
			return fmt.Errorf("完工数量 %.4f 超过订单未完工数量 %.4f", output.Quantity, order.Remaining())
		}

		items, err := s.repos.Build.ItemsForOutput(output.ID)
		if err != nil {
			return err
		}
		for i := range items {
			if err := s.completeAllocation(tx, &items[i], order.ID, output, userID); err != nil {
				return err
			}
		}

		output.IsBuilding = false
		output.Status = status
		if locationID != "" {
			output.LocationID = &locationID
		}
		if err := tx.Save(output).Error; err != nil {
			return fmt.Errorf("完工产出失败: %w", err)
		}
		if err := addTracking(tx, output.ID, entity.TrackingBuildOutputCompleted, req.Notes, userID, entity.JSONB{
			"build":    order.ID,
			"location": locationID,
			"status":   status,
		}); err != nil {
			return err
		}

		return tx.Model(&entity.BuildOrder{}).
			Where("id = ?", order.ID).
			UpdateColumn("completed", gorm.Expr("completed + ?", output.Quantity)).Error
	})
	if err != nil {
		return nil, err
	}

	s.events.Trigger(EventBuildOutputCompleted, map[string]interface{}{
		"build":     order.ID,
		"reference": order.Reference,
		"output":    output.ID,
		"quantity":  output.Quantity,
	})
	return output, nil
}

type ScrapOutputRequest struct {
	OutputID           string  `json:"output_id" binding:"required"`
	Quantity           float64 `json:"quantity"`    // 0表示整件报废
	LocationID         string  `json:"location_id"` // 报废品存放库位
	Notes              string  `json:"notes"`
	DiscardAllocations bool    `json:"discard_allocations"` // true=释放分配回库存，false=照常消耗
}

// ScrapOutput 报废产出：转为 REJECTED 状态库存，不计入订单完工数量
func (s *BuildService) ScrapOutput(buildID string, req ScrapOutputRequest, userID string) (*entity.StockItem, error) {
	order, err := s.repos.Build.GetByID(buildID)
	if err != nil {
		return nil, fmt.Errorf("订单不存在: %w", err)
	}
	if !order.IsActive() {
		return nil, fmt.Errorf("订单状态不允许报废产出: %s", order.Status)
	}
	output, err := s.repos.Stock.GetByID(req.OutputID)
	if err != nil {
		return nil, fmt.Errorf("产出不存在: %w", err)
	}
	if !output.IsBuilding || output.BuildID == nil || *output.BuildID != order.ID {
		return nil, fmt.Errorf("不是该订单的在制产出")
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if req.Quantity > 0 && req.Quantity < output.Quantity {
			items, err := s.repos.Build.ItemsForOutput(output.ID)
			if err != nil {
				return err
			}
			if len(items) > 0 {
				return fmt.Errorf("产出存在分配记录，不能部分报废")
			}
			split, err := splitStockItem(tx, output, req.Quantity, userID)
			if err != nil {
				return err
			}
			output = split
		} else if req.Quantity > output.Quantity {
			return fmt.Errorf("报废数量 %.4f 超过产出数量 %.4f", req.Quantity, output.Quantity)
		}

		items, err := s.repos.Build.ItemsForOutput(output.ID)
		if err != nil {
			return err
		}
		for i := range items {
			if req.DiscardAllocations {
				if err := tx.Delete(&entity.BuildItem{}, "id = ?", items[i].ID).Error; err != nil {
					return fmt.Errorf("释放分配失败: %w", err)
				}
			} else {
				if err := s.completeAllocation(tx, &items[i], order.ID, output, userID); err != nil {
					return err
				}
			}
		}

		output.IsBuilding = false
		output.Status = entity.StockStatusRejected
		if req.LocationID != "" {
			output.LocationID = &req.LocationID
		}
		if err := tx.Save(output).Error; err != nil {
			return fmt.Errorf("报废产出失败: %w", err)
		}
		return addTracking(tx, output.ID, entity.TrackingBuildOutputRejected, req.Notes, userID, entity.JSONB{
			"build": order.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.events.Trigger(EventBuildOutputScrapped, map[string]interface{}{
		"build":     order.ID,
		"reference": order.Reference,
		"output":    output.ID,
		"quantity":  output.Quantity,
	})
	return output, nil
}

// DeleteOutput 删除在制产出：先释放指向它的分配，再删除库存项
func (s *BuildService) DeleteOutput(buildID, outputID string) error {
	order, err := s.repos.Build.GetByID(buildID)
	if err != nil {
		return fmt.Errorf("订单不存在: %w", err)
	}
	output, err := s.repos.Stock.GetByID(outputID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("产出不存在")
		}
		return err
	}
	if !output.IsBuilding || output.BuildID == nil || *output.BuildID != order.ID {
		return fmt.Errorf("不是该订单的在制产出")
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("install_into_id = ?", output.ID).Delete(&entity.BuildItem{}).Error; err != nil {
			return fmt.Errorf("释放分配失败: %w", err)
		}
		if err := tx.Delete(output).Error; err != nil {
			return fmt.Errorf("删除产出失败: %w", err)
		}
		return nil
	})
}
