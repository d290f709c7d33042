// Package events 把结账与结算结果投递到外部消息队列，供对账或通知服务订阅。
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Type 是事件类型。
type Type string

const (
	TypeCheckoutCreated   Type = "checkout.created"
	TypeSettlementSettled Type = "settlement.settled"
	TypeSettlementFailed  Type = "settlement.failed"
	TypeSettlementExpired Type = "settlement.expired"
)

// Event 是投递到队列中的消息体。
type Event struct {
	Type           Type   `json:"type"`
	OrderID        string `json:"order_id"`
	Asset          string `json:"asset,omitempty"`
	Destination    string `json:"destination,omitempty"`
	AmountMinor    int64  `json:"amount_minor,omitempty"`
	AmountSmallest string `json:"amount_smallest,omitempty"`
	TxReference    string `json:"tx_reference,omitempty"`
	Error          string `json:"error,omitempty"`
	OccurredAt     int64  `json:"occurred_at"`
}

// Handler 处理来自队列的事件。
type Handler func(ctx context.Context, ev Event) error

// Publisher 负责投递事件。
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Consumer 负责消费事件。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Publisher
	Consumer
}

// 驱动名称。
const (
	DriverNone     = "none"
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverRabbitMQ = "rabbitmq"
)

// Config 描述事件队列配置。
type Config struct {
	Driver   string
	Redis    RedisQueueConfig
	RabbitMQ RabbitMQConfig
}

// Open 按驱动创建事件队列；none 返回丢弃所有事件的实现。
func Open(cfg Config) (Queue, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverNone:
		return Discard{}, nil
	case DriverMemory:
		return NewMemoryQueue(0), nil
	case DriverRedis:
		return NewRedisQueue(cfg.Redis)
	case DriverRabbitMQ:
		return NewRabbitMQQueue(cfg.RabbitMQ)
	default:
		return nil, fmt.Errorf("不支持的事件队列驱动: %s", cfg.Driver)
	}
}

// Stamp 在事件未设置时间时补上当前时间。
func Stamp(ev Event, now time.Time) Event {
	if ev.OccurredAt == 0 {
		ev.OccurredAt = now.Unix()
	}
	return ev
}

func encode(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("序列化事件失败: %w", err)
	}
	return payload, nil
}

func decode(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("解析事件失败: %w", err)
	}
	return ev, nil
}

// Discard 丢弃所有事件。
type Discard struct{}

// Publish 实现 Publisher 接口。
func (Discard) Publish(context.Context, Event) error { return nil }

// Consume 阻塞直到 ctx 结束。
func (Discard) Consume(ctx context.Context, _ int, _ Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

// Close 实现 Publisher 接口。
func (Discard) Close() error { return nil }
