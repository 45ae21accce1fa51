package service

import (
	"strconv"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
)

// PolicyProvider 生产订单策略开关
// 校验逻辑通过它读取策略，而不是直接查全局设置表
type PolicyProvider interface {
	RequireValidBOM() bool
	RequireActivePart() bool
	RequireLockedPart() bool
	RequireResponsible() bool
	RequireClosedChilds() bool
	PreventOutputCompleteOnIncompleteTests() bool
	ReferencePattern() string
}

// 策略默认值
var policyDefaults = map[string]string{
	entity.SettingRequireValidBOM:         "false",
	entity.SettingRequireActivePart:       "true",
	entity.SettingRequireLockedPart:       "false",
	entity.SettingRequireResponsible:      "false",
	entity.SettingRequireClosedChilds:     "false",
	entity.SettingPreventOutputIncomplete: "false",
	entity.SettingBuildReferencePattern:   "BO-{ref:04d}",
}

// SettingPolicyProvider 基于全局设置表的策略实现
type SettingPolicyProvider struct {
	repo *repository.SettingRepository
}

func NewSettingPolicyProvider(repo *repository.SettingRepository) *SettingPolicyProvider {
	return &SettingPolicyProvider{repo: repo}
}

func (p *SettingPolicyProvider) get(key string) string {
	if value, ok, err := p.repo.Get(key); err == nil && ok {
		return value
	}
	return policyDefaults[key]
}

func (p *SettingPolicyProvider) getBool(key string) bool {
	v, err := strconv.ParseBool(p.get(key))
	if err != nil {
		return false
	}
	return v
}

func (p *SettingPolicyProvider) RequireValidBOM() bool {
	return p.getBool(entity.SettingRequireValidBOM)
}

func (p *SettingPolicyProvider) RequireActivePart() bool {
	return p.getBool(entity.SettingRequireActivePart)
}

func (p *SettingPolicyProvider) RequireLockedPart() bool {
	return p.getBool(entity.SettingRequireLockedPart)
}

func (p *SettingPolicyProvider) RequireResponsible() bool {
	return p.getBool(entity.SettingRequireResponsible)
}

func (p *SettingPolicyProvider) RequireClosedChilds() bool {
	return p.getBool(entity.SettingRequireClosedChilds)
}
func (p *SettingPolicyProvider) PreventOutputCompleteOnIncompleteTests() bool {
	return p.getBool(entity.SettingPreventOutputIncomplete)
}
func (p *SettingPolicyProvider) ReferencePattern() string {
	return p.get(entity.SettingBuildReferencePattern)
}

// StaticPolicy 测试用的固定策略
type StaticPolicy struct {
	ValidBOM        bool
	ActivePart      bool
	LockedPart      bool
	Responsible     bool
	ClosedChilds    bool
	IncompleteTests bool
	Pattern         string
}

func DefaultStaticPolicy() *StaticPolicy {
	return &StaticPolicy{ActivePart: true, Pattern: "BO-{ref:04d}"}
}

func (p *StaticPolicy) RequireValidBOM() bool                        { return p.ValidBOM }
func (p *StaticPolicy) RequireActivePart() bool                      { return p.ActivePart }
func (p *StaticPolicy) RequireLockedPart() bool                      { return p.LockedPart }
func (p *StaticPolicy) RequireResponsible() bool                     { return p.Responsible }
func (p *StaticPolicy) RequireClosedChilds() bool                    { return p.ClosedChilds }
func (p *StaticPolicy) PreventOutputCompleteOnIncompleteTests() bool { return p.IncompleteTests }
func (p *StaticPolicy) ReferencePattern() string {
	if p.Pattern == "" {
		return "BO-{ref:04d}"
	}
	return p.Pattern
}
