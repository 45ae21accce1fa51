package service

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// BuildService 生产订单核心服务
// 所有变更操作都在单个事务内完成，校验失败整体回滚
type BuildService struct {
	db       *gorm.DB
	repos    *repository.Repositories
	policy   PolicyProvider
	engine   *StatusEngine
	events   EventBus
	notifier Notifier
	tasks    *TaskRunner
	logger   *zap.Logger
}

func NewBuildService(
	db *gorm.DB,
	repos *repository.Repositories,
	policy PolicyProvider,
	events EventBus,
	notifier Notifier,
	tasks *TaskRunner,
	logger *zap.Logger,
) *BuildService {
	return &BuildService{
		db:       db,
		repos:    repos,
		policy:   policy,
		engine:   NewStatusEngine(db, BuildWorkflow(), events),
		events:   events,
		notifier: notifier,
		tasks:    tasks,
		logger:   logger,
	}
}

type CreateBuildRequest struct {
	PartID            string  `json:"part_id" binding:"required"`
	Reference         string  `json:"reference"` // 空则自动取号
	Title             string  `json:"title"`
	Quantity          float64 `json:"quantity" binding:"required,gt=0"`
	ParentID          string  `json:"parent_id"`
	SalesOrderID      string  `json:"sales_order_id"`
	ProjectCode       string  `json:"project_code"`
	Batch             string  `json:"batch"`
	External          bool    `json:"external"`
	TakeFromID        string  `json:"take_from_id"`
	DestinationID     string  `json:"destination_id"`
	StartDate         string  `json:"start_date"`  // YYYY-MM-DD
	TargetDate        string  `json:"target_date"` // YYYY-MM-DD
	Priority          int     `json:"priority"`
	ResponsibleID     string  `json:"responsible_id"`
	Notes             string  `json:"notes"`
	CreateChildBuilds bool    `json:"create_child_builds"` // 为子装配件自动创建子订单
}

// Create 创建生产订单并按BOM生成用料行
func (s *BuildService) Create(req CreateBuildRequest, userID string) (*entity.BuildOrder, error) {
	part, err := s.repos.Part.GetByID(req.PartID)
	if err != nil {
		return nil, fmt.Errorf("物料不存在: %w", err)
	}
	if !part.Assembly {
		return nil, fmt.Errorf("物料 %s 不是装配件，不能创建生产订单", part.Code)
	}
	if s.policy.RequireActivePart() && !part.Active {
		return nil, fmt.Errorf("物料 %s 未启用，不能创建生产订单", part.Code)
	}
	if s.policy.RequireLockedPart() && !part.Locked {
		return nil, fmt.Errorf("物料 %s 的BOM未锁定，不能创建生产订单", part.Code)
	}
	if s.policy.RequireValidBOM() && !part.BOMValidated {
		return nil, fmt.Errorf("物料 %s 的BOM未校验通过，不能创建生产订单", part.Code)
	}
	if req.External && !part.Purchaseable {
		return nil, fmt.Errorf("委外生产要求物料可采购")
	}
	if s.policy.RequireResponsible() && req.ResponsibleID == "" {
		return nil, fmt.Errorf("必须指定负责人")
	}
	if part.Trackable && req.Quantity != math.Trunc(req.Quantity) {
		return nil, fmt.Errorf("序列号管理的物料数量必须为整数")
	}

	bomItems, err := s.repos.Part.GetBOMItems(part.ID)
	if err != nil {
		return nil, fmt.Errorf("读取BOM失败: %w", err)
	}

	order := &entity.BuildOrder{
		ID:            uuid.New().String(),
		Title:         req.Title,
		PartID:        part.ID,
		PartCode:      part.Code,
		PartName:      part.Name,
		ProjectCode:   req.ProjectCode,
		Quantity:      req.Quantity,
		Status:        entity.BuildStatusPending,
		Batch:         req.Batch,
		External:      req.External,
		Priority:      req.Priority,
		ResponsibleID: req.ResponsibleID,
		Notes:         req.Notes,
		CreatedBy:     userID,
	}
	if req.SalesOrderID != "" {
		order.SalesOrderID = &req.SalesOrderID
	}
	if req.TakeFromID != "" {
		order.TakeFromID = &req.TakeFromID
	}
	if req.DestinationID != "" {
		order.DestinationID = &req.DestinationID
	}

	if req.StartDate != "" {
		t, err := time.Parse("2006-01-02", req.StartDate)
		if err != nil {
			return nil, fmt.Errorf("开工日期格式无效: %s", req.StartDate)
		}
		order.StartDate = &t
	}
	if req.TargetDate != "" {
		t, err := time.Parse("2006-01-02", req.TargetDate)
		if err != nil {
			return nil, fmt.Errorf("交期格式无效: %s", req.TargetDate)
		}
		order.TargetDate = &t
	}
	if order.StartDate != nil && order.TargetDate != nil && order.TargetDate.Before(*order.StartDate) {
		return nil, fmt.Errorf("交期不能早于开工日期")
	}

	if req.ParentID != "" {
		parent, err := s.repos.Build.GetByID(req.ParentID)
		if err != nil {
			return nil, fmt.Errorf("父订单不存在: %w", err)
		}
		order.ParentID = &parent.ID
		order.Path = parent.Path + "/" + order.ID
	} else {
		order.Path = order.ID
	}

	pattern, err := ParseReferencePattern(s.policy.ReferencePattern())
	if err != nil {
		return nil, err
	}
	if req.Reference != "" {
		seq, ok := pattern.Parse(req.Reference)
		if !ok {
			return nil, fmt.Errorf("单号不符合模板: %s", req.Reference)
		}
		if _, err := s.repos.Build.GetByReference(req.Reference); err == nil {
			return nil, fmt.Errorf("单号已存在: %s", req.Reference)
		}
		order.Reference = req.Reference
		order.ReferenceInt = seq
	} else {
		maxSeq, err := s.repos.Build.MaxReferenceInt()
		if err != nil {
			return nil, fmt.Errorf("取号失败: %w", err)
		}
		order.ReferenceInt = maxSeq + 1
		order.Reference = pattern.Format(order.ReferenceInt)
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return fmt.Errorf("创建订单失败: %w", err)
		}
		return createBuildLines(tx, order, bomItems, true)
	})
	if err != nil {
		return nil, err
	}

	if req.CreateChildBuilds {
		s.tasks.Offload(TaskCreateChildBuilds, func() error {
			return s.CreateChildBuilds(order.ID, userID)
		})
	}

	return s.repos.Build.GetByID(order.ID)
}

// createBuildLines BOM → 用料行，需求数量 = BOM单台用量 × 订单数量
func createBuildLines(tx *gorm.DB, order *entity.BuildOrder, bomItems []entity.BOMItem, preventDuplicates bool) error {
	if len(bomItems) == 0 {
		return nil
	}
	var lines []entity.BuildLine
	for _, item := range bomItems {
		if preventDuplicates {
			var count int64
			if err := tx.Model(&entity.BuildLine{}).
				Where("build_id = ? AND bom_item_id = ?", order.ID, item.ID).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}
		}
		lines = append(lines, entity.BuildLine{
			ID:        uuid.New().String(),
			BuildID:   order.ID,
			BomItemID: item.ID,
			Quantity:  item.Quantity * order.Quantity,
		})
	}
	if len(lines) == 0 {
		return nil
	}
	if err := tx.Create(&lines).Error; err != nil {
		return fmt.Errorf("生成用料行失败: %w", err)
	}
	return nil
}

// CreateBuildLineItems 按BOM补建缺失的用料行
func (s *BuildService) CreateBuildLineItems(buildID string, preventDuplicates bool) error {
	order, err := s.repos.Build.GetByID(buildID)
	if err != nil {
		return fmt.Errorf("订单不存在: %w", err)
	}
	bomItems, err := s.repos.Part.GetBOMItems(order.PartID)
	if err != nil {
		return fmt.Errorf("读取BOM失败: %w", err)
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		return createBuildLines(tx, order, bomItems, preventDuplicates)
	})
}

// UpdateBuildLineItems 重算全部用料行需求数量（幂等）
// 订单数量或BOM用量变化后调用
func (s *BuildService) UpdateBuildLineItems(buildID string) error {
	order, err := s.repos.Build.GetByID(buildID)
	if err != nil {
		return fmt.Errorf("订单不存在: %w", err)
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		return recomputeBuildLines(tx, order)
	})
}

// recomputeBuildLines 按当前订单数量重算用料行需求
func recomputeBuildLines(tx *gorm.DB, order *entity.BuildOrder) error {
	var lines []entity.BuildLine
	if err := tx.Preload("BomItem").Where("build_id = ?", order.ID).Find(&lines).Error; err != nil {
		return fmt.Errorf("读取用料行失败: %w", err)
	}
	for i := range lines {
		line := &lines[i]
		if line.BomItem == nil {
			continue
		}
		required := line.BomItem.Quantity * order.Quantity
		if line.Quantity != required {
			line.Quantity = required
			if err := tx.Save(line).Error; err != nil {
				return fmt.Errorf("更新用料行失败: %w", err)
			}
		}
	}
	return nil
}

type UpdateBuildRequest struct {
	Title         *string  `json:"title"`
	Quantity      *float64 `json:"quantity"`
	Batch         *string  `json:"batch"`
	TargetDate    *string  `json:"target_date"`
	Priority      *int     `json:"priority"`
	ResponsibleID *string  `json:"responsible_id"`
	Notes         *string  `json:"notes"`
	PartID        *string  `json:"part_id"` // 不允许修改，仅用于拒绝
}

// Update 修改订单；目标物料创建后不可变更
func (s *BuildService) Update(buildID string, req UpdateBuildRequest, userID string) (*entity.BuildOrder, error) {
	order, err := s.repos.Build.GetByID(buildID)
	if err != nil {
		return nil, fmt.Errorf("订单不存在: %w", err)
	}
	if req.PartID != nil && *req.PartID != order.PartID {
		return nil, fmt.Errorf("订单创建后不能更换物料")
	}
	if !order.IsActive() {
		return nil, fmt.Errorf("订单状态不允许修改: %s", order.Status)
	}

	quantityChanged := false
	if req.Quantity != nil && *req.Quantity != order.Quantity {
		if *req.Quantity <= 0 {
			return nil, fmt.Errorf("数量必须大于0")
		}
		if *req.Quantity < order.Completed {
			return nil, fmt.Errorf("数量不能小于已完工数量 %.4f", order.Completed)
		}
		order.Quantity = *req.Quantity
		quantityChanged = true
	}
	if req.Title != nil {
		order.Title = *req.Title
	}
	if req.Batch != nil {
		order.Batch = *req.Batch
	}
	if req.TargetDate != nil {
		if *req.TargetDate == "" {
			order.TargetDate = nil
		} else {
			t, err := time.Parse("2006-01-02", *req.TargetDate)
			if err != nil {
				return nil, fmt.Errorf("交期格式无效: %s", *req.TargetDate)
			}
			if order.StartDate != nil && t.Before(*order.StartDate) {
				return nil, fmt.Errorf("交期不能早于开工日期")
			}
			order.TargetDate = &t
		}
	}
	if req.Priority != nil {
		order.Priority = *req.Priority
	}
	if req.ResponsibleID != nil {
		order.ResponsibleID = *req.ResponsibleID
	}
	if req.Notes != nil {
		order.Notes = *req.Notes
	}

	// 订单修改与用料行重算同一事务，重算失败整体回滚
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(order).Error; err != nil {
			return fmt.Errorf("更新订单失败: %w", err)
		}
		if quantityChanged {
			return recomputeBuildLines(tx, order)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.repos.Build.GetByID(order.ID)
}

func (s *BuildService) GetByID(id string) (*entity.BuildOrder, error) {
	return s.repos.Build.GetByID(id)
}

func (s *BuildService) List(params repository.BuildListParams) ([]entity.BuildOrder, int64, error) {
	return s.repos.Build.List(params)
}

func (s *BuildService) Lines(buildID string) ([]repository.AnnotatedLine, error) {
	return s.repos.Build.AnnotatedLines(buildID)
}

// ==================== 状态转移 ====================

// CanIssue 是否可以下达
func (s *BuildService) CanIssue(order *entity.BuildOrder) bool {
	return order.Status == entity.BuildStatusPending || order.Status == entity.BuildStatusOnHold
}

// CanHold 是否可以挂起
func (s *BuildService) CanHold(order *entity.BuildOrder) bool {
	return order.Status == entity.BuildStatusPending || order.Status == entity.BuildStatusProduction
}

// CanCancel 是否可以取消
func (s *BuildService) CanCancel(order *entity.BuildOrder) bool {
	return order.IsActive()
}

// CanComplete 是否满足完工条件，不满足时返回原因列表
func (s *BuildService) CanComplete(order *entity.BuildOrder) (bool, []string, error) {
	var reasons []string

	if order.Status != entity.BuildStatusProduction {
		reasons = append(reasons, fmt.Sprintf("订单状态必须为 %s", entity.BuildStatusProduction))
	}
	if order.Remaining() > 0 {
		reasons = append(reasons, fmt.Sprintf("还有 %.4f 未完工", order.Remaining()))
	}

	incomplete, err := s.repos.Build.IncompleteOutputs(order.ID)
	if err != nil {
		return false, nil, err
	}
	if len(incomplete) > 0 {
		reasons = append(reasons, fmt.Sprintf("存在 %d 个未完工产出", len(incomplete)))
	}

	lines, err := s.repos.Build.GetLines(order.ID)
	if err != nil {
		return false, nil, err
	}
	for i := range lines {
		line := &lines[i]
		if line.IsTracked() {
			continue
		}
		if !line.IsFullyAllocated() {
			code := ""
			if line.BomItem != nil && line.BomItem.SubPart != nil {
				code = line.BomItem.SubPart.Code
			}
			reasons = append(reasons, fmt.Sprintf("用料行 %s 未完成分配", code))
		}
	}

	if s.policy.RequireClosedChilds() {
		open, err := s.repos.Build.HasOpenChildren(order.ID)
		if err != nil {
			return false, nil, err
		}
		if open {
			reasons = append(reasons, "存在未关闭的子订单")
		}
	}
	if s.policy.RequireResponsible() && order.ResponsibleID == "" {
		reasons = append(reasons, "未指定负责人")
	}

	return len(reasons) == 0, reasons, nil
}

// Issue 下达订单 PENDING/ON_HOLD → PRODUCTION
func (s *BuildService) Issue(buildID, userID string) error {
	order, err := s.repos.Build.GetByID(buildID)
	if err != nil {
		return fmt.Errorf("订单不存在: %w", err)
	}
	if !s.CanIssue(order) {
		return fmt.Errorf("订单状态不允许下达: %s", order.Status)
	}
	if s.policy.RequireResponsible() && order.ResponsibleID == "" {
		return fmt.Errorf("必须指定负责人后才能下达")
	}

	err = s.engine.Transition(order, entity.BuildStatusProduction, EventBuildIssued,
		map[string]interface{}{"build": order.ID, "reference": order.Reference},
		func(tx *gorm.DB) error {
			order.IssuedByID = userID
			return nil
		})
	if err != nil {
		return err
	}
	s.notifyStakeholders(order, EventBuildIssued, userID)
	return nil
}

// Revert 挂起的订单退回待下达 ON_HOLD → PENDING
func (s *BuildService) Revert(buildID, userID string) error {
	order, err := s.repos.Build.GetByID(buildID)
	if err != nil {
		return fmt.Errorf("订单不存在: %w", err)
	}
	if order.Status != entity.BuildStatusOnHold {
		return fmt.Errorf("只有挂起的订单可以退回待下达: %s", order.Status)
	}
	return s.engine.Transition(order, entity.BuildStatusPending, EventBuildReverted,
		map[string]interface{}{"build": order.ID, "reference": order.Reference}, nil)
}

// Hold 挂起订单
func (s *BuildService) Hold(buildID, userID string) error {
	order, err := s.repos.Build.GetByID(buildID)
	if err != nil {
		return fmt.Errorf("订单不存在: %w", err)
	}
	if !s.CanHold(order) {
		return fmt.Errorf("订单状态不允许挂起: %s", order.Status)
	}
	return s.engine.Transition(order, entity.BuildStatusOnHold, EventBuildHold,
		map[string]interface{}{"build": order.ID, "reference": order.Reference}, nil)
}

type CancelBuildRequest struct {
	RemoveAllocatedStock    bool `json:"remove_allocated_stock"`    // true=消耗已分配库存，false=直接释放
	RemoveIncompleteOutputs bool `json:"remove_incomplete_outputs"` // 删除在制产出
}

// Cancel 取消订单；取消后不留任何分配记录
func (s *BuildService) Cancel(buildID string, req CancelBuildRequest, userID string) error {
	order, err := s.repos.Build.GetByID(buildID)
	if err != nil {
		return fmt.Errorf("订单不存在: %w", err)
	}
	if !s.CanCancel(order) {
		return fmt.Errorf("订单状态不允许取消: %s", order.Status)
	}

	err = s.engine.Transition(order, entity.BuildStatusCancelled, EventBuildCancelled,
		map[string]interface{}{"build": order.ID, "reference": order.Reference},
		func(tx *gorm.DB) error {
			if !req.RemoveAllocatedStock {
				// 直接释放全部分配
				if err := tx.Where("build_line_id IN (?)",
					tx.Model(&entity.BuildLine{}).Select("id").Where("build_id = ?", order.ID)).
					Delete(&entity.BuildItem{}).Error; err != nil {
					return fmt.Errorf("释放分配失败: %w", err)
				}
			}
			if req.RemoveIncompleteOutputs {
				outputs, err := s.repos.Build.IncompleteOutputs(order.ID)
				if err != nil {
					return err
				}
				for i := range outputs {
					if err := tx.Where("install_into_id = ?", outputs[i].ID).Delete(&entity.BuildItem{}).Error; err != nil {
						return fmt.Errorf("释放产出分配失败: %w", err)
					}
					if err := tx.Delete(&outputs[i]).Error; err != nil {
						return fmt.Errorf("删除在制产出失败: %w", err)
					}
				}
			}
			now := time.Now()
			order.CompletionDate = &now
			order.CompletedByID = userID
			return nil
		})
	if err != nil {
		return err
	}

	if req.RemoveAllocatedStock {
		if err := s.consumeRemainingAllocations(order.ID, userID); err != nil {
			return err
		}
	}

	s.notifyStakeholders(order, EventBuildCancelled, userID)
	return nil
}

type CompleteBuildRequest struct {
	TrimAllocatedStock  bool `json:"trim_allocated_stock"`  // 完工前裁剪超量分配
	AcceptOverallocated bool `json:"accept_overallocated"`  // 接受超量分配，按原样消耗
}

// Complete 完工订单 PRODUCTION → COMPLETE
// 剩余的散件分配在状态提交后统一消耗；消耗任务投递失败则报错
func (s *BuildService) Complete(buildID string, req CompleteBuildRequest, userID string) error {
	order, err := s.repos.Build.GetByID(buildID)
	if err != nil {
		return fmt.Errorf("订单不存在: %w", err)
	}
	ok, reasons, err := s.CanComplete(order)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("订单不满足完工条件: %s", strings.Join(reasons, "; "))
	}

	// 超量分配必须显式选择裁剪或接受
	lines, err := s.repos.Build.GetLines(order.ID)
	if err != nil {
		return err
	}
	overallocated := false
	for i := range lines {
		if !lines[i].IsTracked() && lines[i].IsOverAllocated() {
			overallocated = true
			break
		}
	}
	if overallocated && !req.TrimAllocatedStock && !req.AcceptOverallocated {
		return fmt.Errorf("存在超量分配，必须选择裁剪或接受")
	}

	err = s.engine.Transition(order, entity.BuildStatusComplete, EventBuildCompleted,
		map[string]interface{}{"build": order.ID, "reference": order.Reference},
		func(tx *gorm.DB) error {
			if req.TrimAllocatedStock {
				if err := trimAllocatedStock(tx, order.ID); err != nil {
					return err
				}
			}
			now := time.Now()
			order.CompletionDate = &now
			order.CompletedByID = userID
			return nil
		})
	if err != nil {
		return err
	}

	if err := s.consumeRemainingAllocations(order.ID, userID); err != nil {
		return err
	}

	s.notifyStakeholders(order, EventBuildCompleted, userID)
	return nil
}

// consumeRemainingAllocations 消耗剩余的散件分配，任务幂等：无剩余分配时为空操作
// 优先投递后台任务；投递失败时就地执行，订单已是终态，不能留下未消耗的分配
func (s *BuildService) consumeRemainingAllocations(buildID, userID string) error {
	if err := s.tasks.RunOrFail(TaskCompleteAllocations, func() error {
		return s.CompleteAllocations(buildID, userID)
	}); err != nil {
		s.logger.Warn("消耗任务投递失败，改为同步执行",
			zap.String("build", buildID), zap.Error(err))
		return s.CompleteAllocations(buildID, userID)
	}
	return nil
}

// ==================== 子订单 / 巡检 ====================

// CreateChildBuilds 为BOM中的子装配件创建子生产订单（递归）
func (s *BuildService) CreateChildBuilds(buildID, userID string) error {
	order, err := s.repos.Build.GetByID(buildID)
	if err != nil {
		return fmt.Errorf("订单不存在: %w", err)
	}
	lines, err := s.repos.Build.GetLines(buildID)
	if err != nil {
		return err
	}
	for i := range lines {
		line := &lines[i]
		if line.BomItem == nil || line.BomItem.SubPart == nil {
			continue
		}
		sub := line.BomItem.SubPart
		if !sub.Assembly || line.BomItem.Consumable {
			continue
		}
		child, err := s.Create(CreateBuildRequest{
			PartID:            sub.ID,
			Quantity:          line.Quantity,
			ParentID:          order.ID,
			Title:             fmt.Sprintf("%s 子装配", order.Reference),
			TakeFromID:        deref(order.TakeFromID),
			DestinationID:     deref(order.DestinationID),
			ResponsibleID:     order.ResponsibleID,
			CreateChildBuilds: true,
		}, userID)
		if err != nil {
			s.logger.Error("创建子订单失败",
				zap.String("build", order.ID),
				zap.String("sub_part", sub.Code),
				zap.Error(err))
			continue
		}
		s.logger.Info("已创建子订单",
			zap.String("parent", order.Reference),
			zap.String("child", child.Reference))
	}
	return nil
}

// CheckOverdueBuilds 检查逾期订单并发出事件与通知
func (s *BuildService) CheckOverdueBuilds() error {
	var overdue []entity.BuildOrder
	err := s.db.Where("deleted_at IS NULL AND target_date < ? AND status IN ?",
		time.Now(), []string{entity.BuildStatusPending, entity.BuildStatusProduction, entity.BuildStatusOnHold}).
		Find(&overdue).Error
	if err != nil {
		return fmt.Errorf("查询逾期订单失败: %w", err)
	}
	for i := range overdue {
		order := &overdue[i]
		s.events.Trigger(EventBuildOverdue, map[string]interface{}{
			"build":       order.ID,
			"reference":   order.Reference,
			"target_date": order.TargetDate,
		})
		s.notifyStakeholders(order, EventBuildOverdue, "system")
	}
	return nil
}

// notifyStakeholders 通知相关人：创建人、负责人、下达人、父订单负责人
func (s *BuildService) notifyStakeholders(order *entity.BuildOrder, event, excludeUserID string) {
	seen := map[string]bool{"": true, excludeUserID: true}
	var targets []string
	for _, id := range []string{order.CreatedBy, order.ResponsibleID, order.IssuedByID} {
		if !seen[id] {
			seen[id] = true
			targets = append(targets, id)
		}
	}
	if order.ParentID != nil {
		if parent, err := s.repos.Build.GetByID(*order.ParentID); err == nil {
			for _, id := range []string{parent.CreatedBy, parent.ResponsibleID} {
				if !seen[id] {
					seen[id] = true
					targets = append(targets, id)
				}
			}
		}
	}
	if len(targets) == 0 {
		return
	}
	s.tasks.Offload(TaskNotify, func() error {
		s.notifier.Notify(event, targets, map[string]interface{}{
			"build":     order.ID,
			"reference": order.Reference,
			"part_code": order.PartCode,
		})
		return nil
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
