package mdsource

import "context"

// Publisher receives serialized canonical events. *hub.Hub satisfies it.
type Publisher interface {
	Publish(payload []byte)
}

// Source：一个"可插拔"的市场数据生产者（模拟生成器 / 交易所适配器 / 消息总线）。
// Run 必须阻塞运行，持续 Publish，直到 ctx.Done() 或连接失败。
// 返回非 ctx 错误时由 Runner 负责重连。
type Source interface {
	Name() string
	Run(ctx context.Context, pub Publisher) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(payload []byte)

func (f PublisherFunc) Publish(payload []byte) { f(payload) }
