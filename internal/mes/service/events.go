package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// BuildEvents 生产订单领域事件
const (
	EventBuildIssued          = "build.issued"
	EventBuildHold            = "build.hold"
	EventBuildReverted        = "build.reverted"
	EventBuildCancelled       = "build.cancelled"
	EventBuildCompleted       = "build.completed"
	EventBuildOverdue         = "build.overdue"
	EventBuildOutputCreated   = "build.output.created"
	EventBuildOutputCompleted = "build.output.completed"
	EventBuildOutputScrapped  = "build.output.scrapped"
)

// EventBus 领域事件总线，供插件/自动化钩子消费
type EventBus interface {
	Trigger(event string, attrs map[string]interface{})
}

// RedisEventBus 通过 Redis 发布事件
type RedisEventBus struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

func NewRedisEventBus(client *redis.Client, channel string, logger *zap.Logger) *RedisEventBus {
	if channel == "" {
		channel = "mes:events"
	}
	return &RedisEventBus{client: client, channel: channel, logger: logger}
}

func (b *RedisEventBus) Trigger(event string, attrs map[string]interface{}) {
	payload := map[string]interface{}{
		"event":     event,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"attrs":     attrs,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("事件序列化失败", zap.String("event", event), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		b.logger.Warn("事件发布失败", zap.String("event", event), zap.Error(err))
	}
}

// NoopEventBus 空实现，未配置 Redis 或测试时使用
type NoopEventBus struct{}

func (NoopEventBus) Trigger(string, map[string]interface{}) {}

// RecordingEventBus 测试用，记录触发过的事件
type RecordingEventBus struct {
	Events []RecordedEvent
}

type RecordedEvent struct {
	Name  string
	Attrs map[string]interface{}
}

func (b *RecordingEventBus) Trigger(event string, attrs map[string]interface{}) {
	b.Events = append(b.Events, RecordedEvent{Name: event, Attrs: attrs})
}

// Notifier 通知接口 —— 发送后不等待投递结果
type Notifier interface {
	Notify(event string, targets []string, context map[string]interface{})
}

// LogNotifier 默认实现：仅记录日志，真实投递由外部系统订阅事件完成
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(event string, targets []string, context map[string]interface{}) {
	n.logger.Info("通知",
		zap.String("event", event),
		zap.Strings("targets", targets),
		zap.Any("context", context),
	)
}
