// Package server implements the relay chat server.
//
// A Server accepts TLS connections (and, optionally, WebSocket connections
// through the gateway), asks each peer for a username with the %IDENTIFY
// handshake, registers it as a Session, and runs one relay goroutine per
// session. Messages a session sends are delivered by the Broadcaster to every
// other registered session as "<username>> <text>". The Registry is the only
// shared mutable state and is guarded by a single mutex; sessions serialize
// their own writes so any goroutine may send to them.
package server
