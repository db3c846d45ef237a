// Package protocol models the JSON wire envelope exchanged between peers and
// the signaling relay.
//
// The envelope is intentionally lenient: unknown fields are ignored so older
// servers interoperate with newer clients, and relay payloads (offers,
// answers, ICE candidates) are carried opaquely and never inspected.
package protocol
