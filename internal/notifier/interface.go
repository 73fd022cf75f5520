package notifier

import "context"

// TextNotifier 是最小的文本推送接口，cycle 与风控只依赖它。
type TextNotifier interface {
	SendText(ctx context.Context, text string) error
}

// Noop 丢弃所有消息，用于未配置推送渠道时。
type Noop struct{}

func (Noop) SendText(context.Context, string) error { return nil }
