// Package server implements the pairchat connection hub and its HTTP surface.
//
// A Hub admits authenticated WebSocket connections into a Registry, watches
// each one with a liveness monitor, pushes the online set to everyone when
// membership changes and routes one-to-one messages through the message
// store to every connection of the recipient. The remaining files hold the
// configuration, origin policy, REST handlers and gin routing around it.
//
// User ids are strings on the wire. An inbound frame may name its recipient
// as a JSON number, so {"recipient":2,"text":"hi"} is accepted, but every
// outbound message frame carries ids as strings:
//
//	{"_id":"…","text":"hi","recipient":"2","sender":"1"}
//
// Clients comparing ids should compare them as strings.
package server
