// Package queue 在 webhook 接收与会话处理之间提供缓冲，
// 让入口可以立刻应答 Telegram 而把真正的处理交给工作协程。
package queue

import (
	"context"
)

// Handler 处理一条原始更新负载。处理失败由 Handler 自行
// 向用户反馈，队列不做重投。
type Handler func(ctx context.Context, payload []byte) error

// Producer 负责向队列投递更新。
type Producer interface {
	Publish(ctx context.Context, payload []byte) error
	Close() error
}

// Consumer 负责从队列中消费更新。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
