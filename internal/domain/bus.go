package domain

// MessageBus routes messages between the webhook channel and the engine.
type MessageBus interface {
	Publish(msg InboundMessage)
	Subscribe() <-chan InboundMessage
	SendOutbound(msg OutboundMessage)
	OnOutbound(handler func(OutboundMessage))
	Close()
}
