// Package contracts defines the wire message exchanged by msgbridge peers and
// the error values a caller can observe.
//
// A Message is either a request or a response. The role is decided only by
// ResponseID: a message carrying one answers the call with that id, any other
// message carrying an ID is a request. Field names on the wire match the
// browser implementation of the protocol (name, payload, _msgId,
// _responseMsgId, _error) so both can share a channel.
package contracts
