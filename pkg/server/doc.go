// Package server exposes live views over HTTP.
//
// The push channel lives at GET /live. A client opens a WebSocket, sends a
// ClientHello and receives a ServerHello carrying its session id, a resume
// token and the full snapshot. After that every Event it sends is run
// through the dispatcher and answered with a Patches frame (or an Error
// frame), strictly in order.
//
// Each connection runs three goroutines:
//
//   - the read loop decodes frames and refreshes the heartbeat deadline
//   - the event loop runs events, view subscription pushes and resyncs
//   - the write loop pings the client every HeartbeatInterval
//
// A connection that drops or stays silent past HeartbeatTimeout detaches its
// session, which can be resumed with the last token until the store's grace
// period ends. A ControlClose from the client destroys the session.
//
// The same router serves GET / ("Hello, world!"), /healthz, /metrics and
// /render/{view}, a server-side render of a view's mount state.
package server
