package bus

import "context"

type Message struct {
	Topic   string
	Payload []byte
}

// Broker carries already-serialized canonical events between processes.
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe 返回的 channel 在 ctx 结束后关闭
	Subscribe(ctx context.Context, topics []string) (<-chan Message, error)
	Close() error
}
