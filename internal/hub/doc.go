// Package hub holds the in-memory signaling state: peers, rooms, and the
// registry that maps room codes to rooms.
//
// All state is process-local and lost on restart. The registry is an
// injectable service object so tests can construct isolated instances; there
// is no package-level singleton.
package hub
