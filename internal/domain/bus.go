package domain

// MessageBus routes gateway events to the reply pipeline.
type MessageBus interface {
	Publish(ev Event)
	Subscribe() <-chan Event
	Close()
}
