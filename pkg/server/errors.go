package server

import (
	"context"
	"errors"

	"github.com/live-view/liveview-backend/pkg/dispatch"
	"github.com/live-view/liveview-backend/pkg/live"
	"github.com/live-view/liveview-backend/pkg/protocol"
	"github.com/live-view/liveview-backend/pkg/render"
	"github.com/live-view/liveview-backend/pkg/session"
)

// ErrServerClosed is returned by Run after Shutdown.
var ErrServerClosed = errors.New("server: closed")

// handshakeStatus maps a mount or resume failure onto the handshake status
// sent to the client.
func handshakeStatus(err error) protocol.HandshakeStatus {
	var he *dispatch.HandlerError
	var re *render.RenderError
	switch {
	case errors.Is(err, live.ErrUnknownView):
		return protocol.HandshakeUnknownView
	case errors.Is(err, session.ErrMaxSessionsReached), errors.Is(err, session.ErrStoreStopped):
		return protocol.HandshakeServerBusy
	case errors.As(err, &he), errors.As(err, &re):
		return protocol.HandshakeMountFailed
	default:
		return protocol.HandshakeInternalError
	}
}

// errorMessage maps a dispatch failure onto the error frame sent to the
// client. Handler and render failures leave the session intact and are not
// fatal. It returns nil for errors the client should not see.
func errorMessage(err error) *protocol.ErrorMessage {
	var ue *dispatch.UnhandledEventError
	var he *dispatch.HandlerError
	var re *render.RenderError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil
	case errors.As(err, &ue):
		return protocol.NewError(protocol.ErrHandlerNotFound, ue.Event)
	case errors.As(err, &he):
		if he.Panic {
			return protocol.NewError(protocol.ErrHandlerPanic, he.Event)
		}
		return protocol.NewError(protocol.ErrHandlerFailed, he.Err.Error())
	case errors.As(err, &re):
		return protocol.NewError(protocol.ErrRenderFailed, re.Error())
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrStoreStopped):
		return protocol.NewFatalError(protocol.ErrSessionExpired, "session expired")
	default:
		return protocol.NewError(protocol.ErrServerError, "internal error")
	}
}
