package events

import "context"

// Publisher delivers a payload to a registered publisher topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// PublisherFunc adapts a function, typically one closing over frame.Service.Publish.
type PublisherFunc func(ctx context.Context, topic string, payload any) error

func (f PublisherFunc) Publish(ctx context.Context, topic string, payload any) error {
	return f(ctx, topic, payload)
}
