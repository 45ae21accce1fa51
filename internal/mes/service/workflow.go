package service

import (
	"fmt"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"gorm.io/gorm"
)

// Workflow 通用状态机转移表
// 按聚合各自实例化一份，替代每个订单类型散落的状态判断
type Workflow struct {
	transitions map[string]map[string]bool
}

func NewWorkflow(table map[string][]string) *Workflow {
	w := &Workflow{transitions: make(map[string]map[string]bool, len(table))}
	for from, targets := range table {
		w.transitions[from] = make(map[string]bool, len(targets))
		for _, to := range targets {
			w.transitions[from][to] = true
		}
	}
	return w
}

// CanTransition 判断转移是否合法
func (w *Workflow) CanTransition(from, to string) bool {
	return w.transitions[from][to]
}

// Assert 非法转移时返回错误
func (w *Workflow) Assert(from, to string) error {
	if !w.CanTransition(from, to) {
		return fmt.Errorf("状态不允许从 %s 变更为 %s", from, to)
	}
	return nil
}

// Terminal 是否终态（无出边）
func (w *Workflow) Terminal(status string) bool {
	return len(w.transitions[status]) == 0
}

// BuildWorkflow 生产订单状态机
func BuildWorkflow() *Workflow {
	return NewWorkflow(map[string][]string{
		entity.BuildStatusPending:    {entity.BuildStatusProduction, entity.BuildStatusOnHold, entity.BuildStatusCancelled},
		entity.BuildStatusProduction: {entity.BuildStatusOnHold, entity.BuildStatusCancelled, entity.BuildStatusComplete},
		entity.BuildStatusOnHold:     {entity.BuildStatusPending, entity.BuildStatusProduction, entity.BuildStatusCancelled},
	})
}

// Stateful 可做状态转移的聚合
type Stateful interface {
	CurrentStatus() string
	SetStatus(status string)
}

// StatusEngine 状态转移引擎
// 副作用动作与状态写入在同一事务中执行，动作失败则整体回滚，状态不变；
// 提交成功后再发领域事件
type StatusEngine struct {
	db     *gorm.DB
	flow   *Workflow
	events EventBus
}

func NewStatusEngine(db *gorm.DB, flow *Workflow, events EventBus) *StatusEngine {
	return &StatusEngine{db: db, flow: flow, events: events}
}

// Transition 执行一次状态转移
// action 在事务内运行，可为 nil；event 非空时在提交后触发
func (e *StatusEngine) Transition(subject Stateful, target, event string, attrs map[string]interface{}, action func(tx *gorm.DB) error) error {
	from := subject.CurrentStatus()
	err := e.db.Transaction(func(tx *gorm.DB) error {
		return e.TransitionTx(tx, subject, target, action)
	})
	if err != nil {
		subject.SetStatus(from)
		return err
	}

	if event != "" && e.events != nil {
		if attrs == nil {
			attrs = map[string]interface{}{}
		}
		attrs["from_status"] = from
		attrs["to_status"] = target
		e.events.Trigger(event, attrs)
	}
	return nil
}

// TransitionTx 在既有事务内执行状态转移，不发事件
// 回滚时 subject 的内存状态由调用方丢弃或恢复
func (e *StatusEngine) TransitionTx(tx *gorm.DB, subject Stateful, target string, action func(tx *gorm.DB) error) error {
	if err := e.flow.Assert(subject.CurrentStatus(), target); err != nil {
		return err
	}
	if action != nil {
		if err := action(tx); err != nil {
			return err
		}
	}
	subject.SetStatus(target)
	return tx.Save(subject).Error
}
