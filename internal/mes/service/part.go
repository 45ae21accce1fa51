package service

import (
	"fmt"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/google/uuid"
)

type PartService struct {
	repo *repository.PartRepository
}

func NewPartService(repo *repository.PartRepository) *PartService {
	return &PartService{repo: repo}
}

type CreatePartRequest struct {
	Code         string `json:"code" binding:"required"`
	Name         string `json:"name" binding:"required"`
	Description  string `json:"description"`
	Unit         string `json:"unit"`
	Assembly     bool   `json:"assembly"`
	Component    bool   `json:"component"`
	Trackable    bool   `json:"trackable"`
	Purchaseable bool   `json:"purchaseable"`
	VariantOfID  string `json:"variant_of_id"`
}

func (s *PartService) Create(req CreatePartRequest) (*entity.Part, error) {
	part := &entity.Part{
		ID:           uuid.New().String(),
		Code:         req.Code,
		Name:         req.Name,
		Description:  req.Description,
		Unit:         req.Unit,
		Assembly:     req.Assembly,
		Component:    req.Component,
		Trackable:    req.Trackable,
		Purchaseable: req.Purchaseable,
		Active:       true,
	}
	if part.Unit == "" {
		part.Unit = "pcs"
	}
	if req.VariantOfID != "" {
		template, err := s.repo.GetByID(req.VariantOfID)
		if err != nil {
			return nil, fmt.Errorf("模板物料不存在: %w", err)
		}
		part.VariantOfID = &template.ID
		// 变体继承模板的序列号管理方式
		part.Trackable = template.Trackable
	}
	if err := s.repo.Create(part); err != nil {
		return nil, fmt.Errorf("创建物料失败: %w", err)
	}
	return part, nil
}

func (s *PartService) GetByID(id string) (*entity.Part, error) {
	return s.repo.GetByID(id)
}

func (s *PartService) List(params repository.PartListParams) ([]entity.Part, int64, error) {
	return s.repo.List(params)
}

type CreateBOMItemRequest struct {
	PartID        string  `json:"part_id" binding:"required"`
	SubPartID     string  `json:"sub_part_id" binding:"required"`
	Quantity      float64 `json:"quantity" binding:"required,gt=0"`
	Consumable    bool    `json:"consumable"`
	Optional      bool    `json:"optional"`
	Inherited     bool    `json:"inherited"`
	AllowVariants bool    `json:"allow_variants"`
	Reference     string  `json:"reference"`
}

// CreateBOMItem 给装配件添加BOM行
// 装配件BOM锁定后不能再修改
func (s *PartService) CreateBOMItem(req CreateBOMItemRequest) (*entity.BOMItem, error) {
	part, err := s.repo.GetByID(req.PartID)
	if err != nil {
		return nil, fmt.Errorf("装配件不存在: %w", err)
	}
	if !part.Assembly {
		return nil, fmt.Errorf("物料 %s 不是装配件", part.Code)
	}
	if part.Locked {
		return nil, fmt.Errorf("物料 %s 的BOM已锁定", part.Code)
	}
	sub, err := s.repo.GetByID(req.SubPartID)
	if err != nil {
		return nil, fmt.Errorf("子件不存在: %w", err)
	}
	if !sub.Component {
		return nil, fmt.Errorf("物料 %s 不能作为BOM子件", sub.Code)
	}
	if sub.ID == part.ID {
		return nil, fmt.Errorf("BOM不能引用装配件自身")
	}
	item := &entity.BOMItem{
		ID:            uuid.New().String(),
		PartID:        part.ID,
		SubPartID:     sub.ID,
		Quantity:      req.Quantity,
		Consumable:    req.Consumable,
		Optional:      req.Optional,
		Inherited:     req.Inherited,
		AllowVariants: req.AllowVariants,
		Reference:     req.Reference,
	}
	if err := s.repo.CreateBOMItem(item); err != nil {
		return nil, fmt.Errorf("创建BOM行失败: %w", err)
	}
	return item, nil
}

// AddSubstitute 给BOM行添加替代料
func (s *PartService) AddSubstitute(bomItemID, partID string) (*entity.BOMSubstitute, error) {
	item, err := s.repo.GetBOMItem(bomItemID)
	if err != nil {
		return nil, fmt.Errorf("BOM行不存在: %w", err)
	}
	if partID == item.SubPartID {
		return nil, fmt.Errorf("替代料不能与子件相同")
	}
	part, err := s.repo.GetByID(partID)
	if err != nil {
		return nil, fmt.Errorf("物料不存在: %w", err)
	}
	if !part.Component {
		return nil, fmt.Errorf("物料 %s 不能作为替代料", part.Code)
	}
	sub := &entity.BOMSubstitute{
		ID:        uuid.New().String(),
		BomItemID: item.ID,
		PartID:    part.ID,
	}
	if err := s.repo.CreateSubstitute(sub); err != nil {
		return nil, fmt.Errorf("添加替代料失败: %w", err)
	}
	return sub, nil
}

// GetBOMItems 展开装配件BOM（含模板继承行）
func (s *PartService) GetBOMItems(partID string) ([]entity.BOMItem, error) {
	return s.repo.GetBOMItems(partID)
}

// ValidateBOM 标记BOM校验通过
func (s *PartService) ValidateBOM(partID string) error {
	part, err := s.repo.GetByID(partID)
	if err != nil {
		return fmt.Errorf("物料不存在: %w", err)
	}
	if !part.Assembly {
		return fmt.Errorf("物料 %s 不是装配件", part.Code)
	}
	part.BOMValidated = true
	return s.repo.Update(part)
}

// LockBOM 锁定BOM，锁定后不可再改
func (s *PartService) LockBOM(partID string) error {
	part, err := s.repo.GetByID(partID)
	if err != nil {
		return fmt.Errorf("物料不存在: %w", err)
	}
	part.Locked = true
	return s.repo.Update(part)
}
