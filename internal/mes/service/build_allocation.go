package service

import (
	"errors"
	"fmt"
	"sort"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type AllocationRequest struct {
	BuildLineID string  `json:"build_line_id" binding:"required"`
	StockItemID string  `json:"stock_item_id" binding:"required"`
	Quantity    float64 `json:"quantity" binding:"required,gt=0"`
	OutputID    string  `json:"output_id"` // 序列号件装入的在制产出
}

// AllocateStock 把库存分配到用料行，批量执行，任一条校验失败整体回滚
// 同一 (用料行, 库存项, 产出) 三元组重复分配时合并数量
func (s *BuildService) AllocateStock(buildID string, reqs []AllocationRequest, userID string) error {
	if len(reqs) == 0 {
		return fmt.Errorf("分配明细不能为空")
	}
	order, err := s.repos.Build.GetByID(buildID)
	if err != nil {
		return fmt.Errorf("订单不存在: %w", err)
	}
	if !order.IsActive() {
		return fmt.Errorf("订单状态不允许分配: %s", order.Status)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		// 校验读取全部走事务内仓库，批量分配时后一条能看到前一条的写入
		repos := s.repos.WithTx(tx)
		for _, req := range reqs {
			if err := s.allocateOne(tx, repos, order, req, userID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BuildService) allocateOne(tx *gorm.DB, repos *repository.Repositories, order *entity.BuildOrder, req AllocationRequest, userID string) error {
	if req.Quantity <= 0 {
		return fmt.Errorf("分配数量必须大于0")
	}

	line, err := repos.Build.GetLine(req.BuildLineID)
	if err != nil {
		return fmt.Errorf("用料行不存在: %w", err)
	}
	if line.BuildID != order.ID {
		return fmt.Errorf("用料行不属于该订单")
	}

	stock, err := repos.Stock.GetByID(req.StockItemID)
	if err != nil {
		return fmt.Errorf("库存项不存在: %w", err)
	}
	if !stock.InStock() {
		return fmt.Errorf("库存项 %s 不在库，不能分配", stock.ID)
	}
	if stock.Status != entity.StockStatusOK {
		return fmt.Errorf("库存项状态异常，不能分配: %s", stock.Status)
	}
	if stock.Serialized() && req.Quantity != 1 {
		return fmt.Errorf("序列号库存的分配数量必须为1")
	}
	if req.Quantity > stock.Quantity {
		return fmt.Errorf("分配数量 %.4f 超过库存数量 %.4f", req.Quantity, stock.Quantity)
	}

	// 库存项与用料行的子件不匹配时，尝试在同订单内找匹配的行
	ok, err := s.partMatchesLine(repos, line, stock.PartID)
	if err != nil {
		return err
	}
	if !ok {
		line, err = s.rederiveLine(repos, order, stock.PartID)
		if err != nil {
			return err
		}
	}

	var installInto *string
	if line.IsTracked() {
		if req.OutputID == "" {
			return fmt.Errorf("序列号管理的子件必须指定装入的在制产出")
		}
		output, err := repos.Stock.GetByID(req.OutputID)
		if err != nil {
			return fmt.Errorf("在制产出不存在: %w", err)
		}
		if !output.IsBuilding || output.BuildID == nil || *output.BuildID != order.ID {
			return fmt.Errorf("指定的产出不是该订单的在制产出")
		}
		installInto = &output.ID
	} else if req.OutputID != "" {
		return fmt.Errorf("散件分配不能指定产出")
	}

	// 守恒校验：同一库存项的分配总量不能超过库存数量
	existing, err := repos.Build.FindItem(line.ID, stock.ID, installInto)
	excludeID := ""
	if err == nil {
		excludeID = existing.ID
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	allocatedElsewhere, err := repos.Stock.AllocatedQty(stock.ID, excludeID)
	if err != nil {
		return err
	}
	newQty := req.Quantity
	if excludeID != "" {
		newQty += existing.Quantity
	}
	if allocatedElsewhere+newQty > stock.Quantity {
		return fmt.Errorf("库存项 %s 可分配余量不足: 库存 %.4f，已分配 %.4f，本次 %.4f",
			stock.ID, stock.Quantity, allocatedElsewhere, newQty)
	}

	if excludeID != "" {
		existing.Quantity = newQty
		if err := tx.Save(existing).Error; err != nil {
			return fmt.Errorf("合并分配失败: %w", err)
		}
		return nil
	}
	item := &entity.BuildItem{
		ID:            uuid.New().String(),
		BuildLineID:   line.ID,
		StockItemID:   stock.ID,
		InstallIntoID: installInto,
		Quantity:      req.Quantity,
	}
	if err := tx.Create(item).Error; err != nil {
		return fmt.Errorf("创建分配失败: %w", err)
	}
	return nil
}

// partMatchesLine 库存物料是否可用于该用料行：
// 直接匹配 / 允许变体时的变体件 / 替代料
func (s *BuildService) partMatchesLine(repos *repository.Repositories, line *entity.BuildLine, partID string) (bool, error) {
	if line.BomItem == nil {
		return false, fmt.Errorf("用料行缺少BOM信息")
	}
	bom := line.BomItem
	if partID == bom.SubPartID {
		return true, nil
	}
	if bom.AllowVariants {
		ok, err := repos.Part.IsVariantOf(bom.SubPartID, partID)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	for _, sub := range bom.Substitutes {
		if sub.PartID == partID {
			return true, nil
		}
	}
	return false, nil
}

// rederiveLine 按库存物料在订单内重找匹配的用料行
func (s *BuildService) rederiveLine(repos *repository.Repositories, order *entity.BuildOrder, partID string) (*entity.BuildLine, error) {
	lines, err := repos.Build.GetLines(order.ID)
	if err != nil {
		return nil, err
	}
	for i := range lines {
		ok, err := s.partMatchesLine(repos, &lines[i], partID)
		if err != nil {
			return nil, err
		}
		if ok {
			return &lines[i], nil
		}
	}
	return nil, fmt.Errorf("物料与订单的任何用料行都不匹配")
}

// DeallocateStock 释放分配记录；buildLineID/outputID 为空表示不限定
func (s *BuildService) DeallocateStock(buildID, buildLineID, outputID string) error {
	order, err := s.repos.Build.GetByID(buildID)
	if err != nil {
		return fmt.Errorf("订单不存在: %w", err)
	}
	if !order.IsActive() {
		return fmt.Errorf("订单状态不允许释放分配: %s", order.Status)
	}
	return s.repos.Build.DeleteItemsForBuild(buildID, buildLineID, outputID)
}

type AutoAllocateRequest struct {
	LocationID        string `json:"location_id"`         // 只从该库位（含子库位）取料
	ExcludeLocationID string `json:"exclude_location_id"` // 排除该库位（含子库位）
	Interchangeable   bool   `json:"interchangeable"`     // 多候选库存时允许混用
	Substitutes       bool   `json:"substitutes"`         // 允许使用替代料
	OptionalItems     bool   `json:"optional_items"`      // 也为可选件分配
}

// stockCandidate 自动分配候选，rank 越小优先级越高：本体 < 变体 < 替代料
type stockCandidate struct {
	item      entity.StockItem
	available float64
	rank      int
}

// AutoAllocateStock 为散件用料行自动分配库存
// 某行存在多个候选库存且未允许混用时跳过该行，不算失败
func (s *BuildService) AutoAllocateStock(buildID string, req AutoAllocateRequest, userID string) error {
	order, err := s.repos.Build.GetByID(buildID)
	if err != nil {
		return fmt.Errorf("订单不存在: %w", err)
	}
	if !order.IsActive() {
		return fmt.Errorf("订单状态不允许分配: %s", order.Status)
	}

	var includeLocs, excludeLocs []string
	if req.LocationID != "" {
		includeLocs, err = s.repos.Stock.LocationSubtreeIDs(req.LocationID)
		if err != nil {
			return fmt.Errorf("库位不存在: %w", err)
		}
	}
	if req.ExcludeLocationID != "" {
		excludeLocs, err = s.repos.Stock.LocationSubtreeIDs(req.ExcludeLocationID)
		if err != nil {
			return fmt.Errorf("排除库位不存在: %w", err)
		}
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		// 候选可用量的计算走事务内仓库，候选集重叠的行不会重复占用同一库存
		repos := s.repos.WithTx(tx)
		lines, err := repos.Build.GetLines(buildID)
		if err != nil {
			return err
		}
		for i := range lines {
			line := &lines[i]
			if line.BomItem == nil || line.IsTracked() || line.BomItem.Consumable {
				continue
			}
			if line.BomItem.Optional && !req.OptionalItems {
				continue
			}
			unallocated := line.UnallocatedQuantity()
			if unallocated <= 0 {
				continue
			}
			if err := s.autoAllocateLine(tx, repos, line, unallocated, req, includeLocs, excludeLocs); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BuildService) autoAllocateLine(
	tx *gorm.DB,
	repos *repository.Repositories,
	line *entity.BuildLine,
	unallocated float64,
	req AutoAllocateRequest,
	includeLocs, excludeLocs []string,
) error {
	candidates, err := s.lineCandidates(repos, line, req, includeLocs, excludeLocs)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}
	if len(candidates) > 1 && !req.Interchangeable {
		s.logger.Debug("多候选库存且未允许混用，跳过自动分配",
			zap.String("build_line", line.ID),
			zap.Int("candidates", len(candidates)))
		return nil
	}

	for _, c := range candidates {
		if unallocated <= 0 {
			break
		}
		qty := c.available
		if qty > unallocated {
			qty = unallocated
		}
		// 已有同三元组的分配时合并数量，不产生重复记录
		existing, err := repos.Build.FindItem(line.ID, c.item.ID, nil)
		if err == nil {
			existing.Quantity += qty
			if err := tx.Save(existing).Error; err != nil {
				return fmt.Errorf("自动分配失败: %w", err)
			}
			unallocated -= qty
			continue
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		item := &entity.BuildItem{
			ID:          uuid.New().String(),
			BuildLineID: line.ID,
			StockItemID: c.item.ID,
			Quantity:    qty,
		}
		if err := tx.Create(item).Error; err != nil {
			return fmt.Errorf("自动分配失败: %w", err)
		}
		unallocated -= qty
	}
	return nil
}

// lineCandidates 某用料行的可用库存候选，按 本体>变体>替代料、先入先出 排序
func (s *BuildService) lineCandidates(
	repos *repository.Repositories,
	line *entity.BuildLine,
	req AutoAllocateRequest,
	includeLocs, excludeLocs []string,
) ([]stockCandidate, error) {
	bom := line.BomItem
	rankOf := map[string]int{bom.SubPartID: 0}
	partIDs := []string{bom.SubPartID}
	if bom.AllowVariants {
		variants, err := repos.Part.VariantIDs(bom.SubPartID)
		if err != nil {
			return nil, err
		}
		for _, id := range variants {
			if _, seen := rankOf[id]; !seen {
				rankOf[id] = 1
				partIDs = append(partIDs, id)
			}
		}
	}
	if req.Substitutes {
		for _, sub := range bom.Substitutes {
			if _, seen := rankOf[sub.PartID]; !seen {
				rankOf[sub.PartID] = 2
				partIDs = append(partIDs, sub.PartID)
			}
		}
	}

	items, err := repos.Stock.FindAvailable(repository.AvailableStockParams{
		PartIDs:            partIDs,
		Unserialized:       true,
		LocationIDs:        includeLocs,
		ExcludeLocationIDs: excludeLocs,
	})
	if err != nil {
		return nil, err
	}

	var candidates []stockCandidate
	for _, item := range items {
		allocated, err := repos.Stock.AllocatedQty(item.ID, "")
		if err != nil {
			return nil, err
		}
		available := item.Quantity - allocated
		if available <= 0 {
			continue
		}
		candidates = append(candidates, stockCandidate{
			item:      item,
			available: available,
			rank:      rankOf[item.PartID],
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].rank != candidates[j].rank {
			return candidates[i].rank < candidates[j].rank
		}
		return candidates[i].item.CreatedAt.Before(candidates[j].item.CreatedAt)
	})
	return candidates, nil
}

// ==================== 分配消耗 ====================

// CompleteAllocations 消耗订单剩余的散件分配（幂等，无剩余分配时为空操作）
// 订单完工/取消时由后台任务调用
func (s *BuildService) CompleteAllocations(buildID, userID string) error {
	items, err := s.repos.Build.ItemsForBuild(buildID)
	if err != nil {
		return fmt.Errorf("读取分配记录失败: %w", err)
	}
	if len(items) == 0 {
		return nil
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		for i := range items {
			if err := s.completeAllocation(tx, &items[i], buildID, nil, userID); err != nil {
				return err
			}
		}
		return nil
	})
}

// completeAllocation 消耗单条分配：
// 部分分配先拆分库存，序列号件装入产出，散件标记为订单消耗；
// 累加用料行已消耗数量后删除分配记录
func (s *BuildService) completeAllocation(tx *gorm.DB, item *entity.BuildItem, buildID string, output *entity.StockItem, userID string) error {
	stock := item.StockItem
	if stock == nil {
		loaded, err := s.repos.Stock.GetByID(item.StockItemID)
		if err != nil {
			return fmt.Errorf("分配的库存项不存在: %w", err)
		}
		stock = loaded
	}

	target := stock
	if item.Quantity < stock.Quantity {
		split, err := splitStockItem(tx, stock, item.Quantity, userID)
		if err != nil {
			return err
		}
		target = split
	}

	if output != nil && item.InstallIntoID != nil {
		if err := installStockItem(tx, target, output, buildID, userID); err != nil {
			return err
		}
	} else {
		if err := consumeStockItem(tx, target, buildID, userID); err != nil {
			return err
		}
	}

	if err := tx.Model(&entity.BuildLine{}).
		Where("id = ?", item.BuildLineID).
		UpdateColumn("consumed", gorm.Expr("consumed + ?", item.Quantity)).Error; err != nil {
		return fmt.Errorf("更新用料行消耗失败: %w", err)
	}
	if err := tx.Delete(&entity.BuildItem{}, "id = ?", item.ID).Error; err != nil {
		return fmt.Errorf("删除分配记录失败: %w", err)
	}
	return nil
}

// trimAllocatedStock 裁剪超量分配，优先保留最早创建的分配记录
func trimAllocatedStock(tx *gorm.DB, buildID string) error {
	var lines []entity.BuildLine
	if err := tx.Preload("BomItem.SubPart").Preload("Allocations").
		Where("build_id = ?", buildID).Find(&lines).Error; err != nil {
		return err
	}
	for i := range lines {
		line := &lines[i]
		if line.IsTracked() {
			continue
		}
		excess := line.AllocatedQuantity() - line.RequiredQuantity()
		if excess <= 0 {
			continue
		}
		allocs := line.Allocations
		sort.SliceStable(allocs, func(a, b int) bool {
			return allocs[a].CreatedAt.After(allocs[b].CreatedAt)
		})
		for j := range allocs {
			if excess <= 0 {
				break
			}
			a := &allocs[j]
			if a.Quantity <= excess {
				excess -= a.Quantity
				if err := tx.Delete(&entity.BuildItem{}, "id = ?", a.ID).Error; err != nil {
					return fmt.Errorf("裁剪分配失败: %w", err)
				}
			} else {
				a.Quantity -= excess
				excess = 0
				if err := tx.Save(a).Error; err != nil {
					return fmt.Errorf("裁剪分配失败: %w", err)
				}
			}
		}
	}
	return nil
}
