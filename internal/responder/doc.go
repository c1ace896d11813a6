// Package responder defines the automated assistant consulted after each
// visitor message.
//
// The Responder interface has two halves: ShouldRespond, the escalation
// predicate evaluated on every visitor message, and GenerateReply, which
// produces the reply text. The relay in internal/relay orchestrates the
// typing illusion and delivery around these calls; this package owns the
// decision inputs and the transport to the reply service.
//
// HTTPResponder is the shipped implementation. It evaluates the predicate
// locally (Policy) and POSTs conversation context to an external service
// for reply generation. Tests use in-package fakes instead.
package responder
