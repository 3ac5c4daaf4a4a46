// Package protocol owns the trace wire contract shared by the target engine
// and host tooling.
//
// Ownership boundary:
// - reserved wire bytes, record kinds, command ids and status codes
// - field format bytes and typed field values
// - record decoding and payload readers for host-side tooling
//
// Byte stuffing and frame splitting live in protocol/frame. Command payload
// layout checks live in protocol/schema.
package protocol
