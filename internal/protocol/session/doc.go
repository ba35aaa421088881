// Package session holds the transport settings shared by the relay endpoint
// and its client: deadlines, heartbeat cadence, delivery timeout, reconnect
// backoff and TLS material.
package session
