package vimgrid

import (
	"pkt.systems/pslog"
	"pkt.systems/vimgrid/internal/eventbus"
	"pkt.systems/vimgrid/internal/logx"
)

// EventSink receives session events from the frontend.
type EventSink interface {
	OnEvent(event eventbus.Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(event eventbus.Event)

func (f EventSinkFunc) OnEvent(event eventbus.Event) { f(event) }

type eventFanout struct {
	sinks []EventSink
}

func (f eventFanout) OnEvent(event eventbus.Event) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnEvent(event)
	}
}

// logSink writes one lifecycle line per event.
type logSink struct {
	log pslog.Logger
}

func (s logSink) OnEvent(event eventbus.Event) {
	log := logx.WithSession(s.log, event.Session)
	if event.ServerName != "" {
		log = logx.WithServer(log, event.ServerName)
	}
	switch event.Type {
	case eventbus.EventOpen:
		log.Info("window opened", "rows", event.Rows, "cols", event.Cols)
	case eventbus.EventRegister:
		log.Info("server registered")
	case eventbus.EventResize:
		log.Debug("window resized", "rows", event.Rows, "cols", event.Cols)
	case eventbus.EventTitle:
		log.Debug("window title", "title", event.Title)
	case eventbus.EventClosed:
		log.Debug("session event", "event", string(event.Type), "err", event.Err)
	default:
		log.Debug("session event", "event", string(event.Type), "pid", event.PID)
	}
}
