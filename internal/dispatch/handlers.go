package dispatch

import (
	"context"
	"fmt"
	"strings"

	"pkt.systems/vimgrid/internal/screen"
	"pkt.systems/vimgrid/internal/wire"
	"pkt.systems/vimgrid/schema"
)

type handler func(ctx context.Context, sess *session, payload []byte) error

func (r *Router) handlerTable() map[wire.MessageID]handler {
	return map[wire.MessageID]handler{
		wire.MsgCheckin:              r.handleLateCheckin,
		wire.MsgBatch:                r.handleBatch,
		wire.MsgBatchDraw:            r.handleDraw,
		wire.MsgOpenWindow:           r.handleOpenWindow,
		wire.MsgSetTextDimensions:    r.handleSetTextDimensions,
		wire.MsgUpdateTabs:           r.handleUpdateTabs,
		wire.MsgSelectTab:            r.handleSelectTab,
		wire.MsgShowTabBar:           r.handleShowTabBar,
		wire.MsgCreateScrollbar:      r.handleCreateScrollbar,
		wire.MsgDestroyScrollbar:     r.handleDestroyScrollbar,
		wire.MsgShowScrollbar:        r.handleShowScrollbar,
		wire.MsgSetScrollbarPosition: r.handleScrollbarPosition,
		wire.MsgSetScrollbarThumb:    r.handleScrollbarThumb,
		wire.MsgSetFont:              r.handleSetFont,
		wire.MsgEnterFullScreen:      r.handleEnterFullScreen,
		wire.MsgLeaveFullScreen:      r.handleLeaveFullScreen,
		wire.MsgSetWindowTitle:       r.handleSetTitle,
		wire.MsgSetDefaultColors:     r.handleSetDefaultColors,
		wire.MsgCloseWindow:          r.handleCloseWindow,
		wire.MsgEvaluate:             r.handleEvaluate,
		wire.MsgRegisterServer:       r.handleRegisterServer,
		wire.MsgServerSend:           r.handleServerSend,
		wire.MsgServerList:           r.handleServerList,
	}
}

func (r *Router) handleLateCheckin(_ context.Context, sess *session, _ []byte) error {
	sess.log.Warn("checkin on a bound connection dropped")
	return nil
}

// handleBatch dispatches the sub-messages of one flush in order and then
// acknowledges the flush. The ack is sent even when the batch is rejected so
// the backend's in-flight window always reopens.
func (r *Router) handleBatch(ctx context.Context, sess *session, payload []byte) error {
	defer func() {
		if err := sess.ep.Send(wire.MsgBatchAck, nil); err != nil {
			sess.log.Debug("batch ack not sent", "err", err)
		}
	}()
	msgs, err := wire.DecodeBatch(payload)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		if msg.ID == wire.MsgBatch {
			sess.log.Warn("nested batch dropped")
			continue
		}
		msg.Session = sess.id
		// A sub-message may close the window; later ones go through the
		// registry and are dropped.
		r.Dispatch(ctx, msg)
	}
	return nil
}

func (r *Router) handleDraw(_ context.Context, sess *session, payload []byte) error {
	return sess.ctrl.ApplyDrawBuffer(payload)
}

func (r *Router) handleOpenWindow(_ context.Context, sess *session, _ []byte) error {
	return sess.ctrl.OpenWindow()
}

func (r *Router) handleSetTextDimensions(_ context.Context, sess *session, payload []byte) error {
	var dims wire.Dimensions
	if err := wire.Unmarshal(payload, &dims); err != nil {
		return err
	}
	return sess.ctrl.SetTextDimensions(int(dims.Rows), int(dims.Cols))
}

func (r *Router) handleUpdateTabs(_ context.Context, sess *session, payload []byte) error {
	var rec wire.Tabs
	if err := wire.Unmarshal(payload, &rec); err != nil {
		return err
	}
	tabs := make([]screen.Tab, 0, len(rec.Tabs))
	for _, tab := range rec.Tabs {
		tabs = append(tabs, screen.Tab{Label: tab.Label, Modified: tab.Modified})
	}
	return sess.ctrl.UpdateTabs(tabs, int(rec.Selected))
}

func (r *Router) handleSelectTab(_ context.Context, sess *session, payload []byte) error {
	var idx wire.Index
	if err := wire.Unmarshal(payload, &idx); err != nil {
		return err
	}
	return sess.ctrl.SelectTab(int(idx.Value))
}

func (r *Router) handleShowTabBar(_ context.Context, sess *session, payload []byte) error {
	var t wire.Toggle
	if err := wire.Unmarshal(payload, &t); err != nil {
		return err
	}
	return sess.ctrl.ShowTabBar(t.On)
}

func (r *Router) handleCreateScrollbar(_ context.Context, sess *session, payload []byte) error {
	var rec wire.ScrollbarCreate
	if err := wire.Unmarshal(payload, &rec); err != nil {
		return err
	}
	return sess.ctrl.CreateScrollbar(rec.ID, rec.Type)
}

func (r *Router) handleDestroyScrollbar(_ context.Context, sess *session, payload []byte) error {
	var rec wire.ScrollbarRef
	if err := wire.Unmarshal(payload, &rec); err != nil {
		return err
	}
	return sess.ctrl.DestroyScrollbar(rec.ID)
}

func (r *Router) handleShowScrollbar(_ context.Context, sess *session, payload []byte) error {
	var rec wire.ScrollbarShow
	if err := wire.Unmarshal(payload, &rec); err != nil {
		return err
	}
	return sess.ctrl.ShowScrollbar(rec.ID, rec.Visible)
}

func (r *Router) handleScrollbarPosition(_ context.Context, sess *session, payload []byte) error {
	var rec wire.ScrollbarPosition
	if err := wire.Unmarshal(payload, &rec); err != nil {
		return err
	}
	return sess.ctrl.SetScrollbarPosition(rec.ID, int(rec.Position), int(rec.Length))
}

func (r *Router) handleScrollbarThumb(_ context.Context, sess *session, payload []byte) error {
	var rec wire.ScrollbarThumb
	if err := wire.Unmarshal(payload, &rec); err != nil {
		return err
	}
	return sess.ctrl.SetScrollbarThumb(rec.ID, rec.Value, rec.Proportion)
}

func (r *Router) handleSetFont(_ context.Context, sess *session, payload []byte) error {
	var rec wire.Font
	if err := wire.Unmarshal(payload, &rec); err != nil {
		return err
	}
	return sess.ctrl.SetFont(rec.Name, rec.Size, rec.Wide)
}

func (r *Router) handleEnterFullScreen(_ context.Context, sess *session, payload []byte) error {
	var rec wire.FullScreen
	if err := wire.Unmarshal(payload, &rec); err != nil {
		return err
	}
	return sess.ctrl.EnterFullScreen(rec.Options, rec.Background)
}

func (r *Router) handleLeaveFullScreen(_ context.Context, sess *session, _ []byte) error {
	return sess.ctrl.LeaveFullScreen()
}

func (r *Router) handleSetTitle(_ context.Context, sess *session, payload []byte) error {
	var rec wire.Text
	if err := wire.Unmarshal(payload, &rec); err != nil {
		return err
	}
	return sess.ctrl.SetTitle(rec.Value)
}

func (r *Router) handleSetDefaultColors(_ context.Context, sess *session, payload []byte) error {
	var rec wire.Colors
	if err := wire.Unmarshal(payload, &rec); err != nil {
		return err
	}
	return sess.ctrl.SetDefaultColors(rec.Background, rec.Foreground)
}

func (r *Router) handleCloseWindow(_ context.Context, sess *session, _ []byte) error {
	sess.log.Info("backend closed window")
	r.retire(sess, nil)
	return nil
}

// handleEvaluate answers a backend's evaluate request. The frontend has no
// expression evaluator, so the reply is always the failure marker.
func (r *Router) handleEvaluate(_ context.Context, sess *session, payload []byte) error {
	var rec wire.Evaluate
	if err := wire.Unmarshal(payload, &rec); err != nil {
		return err
	}
	return sess.ep.SendRecord(wire.MsgReply, &wire.Reply{Port: rec.Port, Value: "frontend cannot evaluate expressions"})
}

func (r *Router) handleRegisterServer(_ context.Context, sess *session, payload []byte) error {
	var rec wire.Text
	if err := wire.Unmarshal(payload, &rec); err != nil {
		return err
	}
	if rec.Value == "" {
		return schema.Errorf(schema.ProtocolErrorMalformed, "register server", -1, "empty name")
	}
	name := r.register(sess, rec.Value)
	if name != rec.Value {
		sess.log.Info("server name taken, registered with suffix", "requested", rec.Value, "server", name)
	} else {
		sess.log.Debug("server registered", "server", name)
	}
	sess.ctrl.SetServerName(name)
	return nil
}

// handleServerSend forwards input or an expression to another server. The
// target is evaluated off the dispatch loop so the sender's session keeps
// draining while the target answers.
func (r *Router) handleServerSend(ctx context.Context, sess *session, payload []byte) error {
	var rec wire.ServerSend
	if err := wire.Unmarshal(payload, &rec); err != nil {
		return err
	}
	target, err := r.Lookup(rec.Target)
	if err != nil {
		return r.reply(sess, rec.Port, false, err.Error())
	}
	if !rec.Expression {
		if err := target.AddInput(rec.Input); err != nil {
			return r.reply(sess, rec.Port, false, err.Error())
		}
		return r.reply(sess, rec.Port, true, "")
	}
	go func() {
		value, err := target.EvaluateExpression(ctx, rec.Input, r.opts.ReplyTimeout)
		if err != nil {
			sess.log.Debug("server expression failed", "target", rec.Target, "err", err)
			_ = r.reply(sess, rec.Port, false, err.Error())
			return
		}
		_ = r.reply(sess, rec.Port, true, value)
	}()
	return nil
}

func (r *Router) handleServerList(_ context.Context, sess *session, payload []byte) error {
	var rec wire.PortRequest
	if err := wire.Unmarshal(payload, &rec); err != nil {
		return err
	}
	return r.reply(sess, rec.Port, true, strings.Join(r.ServerNames(), "\n"))
}

// reply answers on port. Port zero means the sender does not want an answer.
func (r *Router) reply(sess *session, port schema.Port, ok bool, value string) error {
	if port == 0 {
		return nil
	}
	if err := sess.ep.SendRecord(wire.MsgReply, &wire.Reply{Port: port, OK: ok, Value: value}); err != nil {
		return fmt.Errorf("reply on port %d: %w", port, err)
	}
	return nil
}
