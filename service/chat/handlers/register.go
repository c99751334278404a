package handlers

import (
	"famly/service/chat"
)

// Register binds every hub operation to its wire event.
func Register(hub *chat.Hub) {
	d := hub.Dispatcher()
	d.Register(NewJoinHandler(hub))
	d.Register(NewLeaveHandler(hub))
	d.Register(NewSendHandler(hub))
	d.Register(NewReadHandler(hub))
	d.Register(NewPingHandler(hub))
	d.RegisterSignal(NewTypingSignal(hub, chat.EventTypingStart))
	d.RegisterSignal(NewTypingSignal(hub, chat.EventTypingStop))
}
