package controller

import "edulend/core/types"

type controllerEvent struct {
	evt *types.Event
}

func (e controllerEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e controllerEvent) Event() *types.Event { return e.evt }
