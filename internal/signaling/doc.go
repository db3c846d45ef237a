// Package signaling implements the WebSocket endpoint peers connect to for
// room membership and WebRTC signaling exchange.
//
// Each connection gets a read pump and a write pump. The read pump parses
// client frames and drives the room registry; the write pump drains the
// peer's bounded send queue and keeps the connection alive with pings. All
// outbound traffic goes through the queue, so a slow reader never blocks a
// broadcast: the hub evicts it instead.
package signaling
