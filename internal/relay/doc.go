// Package relay implements the real-time conversation relay: it tracks
// live connections, resolves who can see which conversation, runs the
// typing-indicator state machine, fans persisted messages out to their
// recipients, and escalates unanswered visitor messages to the automated
// responder.
//
// # Connections and Identity
//
// Every WebSocket session is a Conn registered with the Registry. A Conn
// starts unbound; the first successful auth frame binds it to an agent and
// the first successful customer_init frame binds it to a customer. A bound
// connection never rebinds. Identity is resolved from the binding, never
// from frame payloads, so a client cannot speak as anyone but itself.
//
// # Membership and Fan-Out
//
// Agent-bound connections receive events for every conversation. A
// customer-bound connection is a member only of conversations its customer
// owns, and membership is evaluated at delivery time against the stored
// conversation. When the store cannot confirm membership the answer is no.
// For each message the full recipient set is resolved before delivery
// starts, and a failed delivery to one recipient is logged and skipped
// without affecting the rest.
//
// # Ordering
//
// A per-conversation lock serializes persist-then-broadcast, so two
// recipients of the same conversation always observe messages in the same
// relative order, and a message that failed to persist is never broadcast.
//
// # Typing
//
// Typing state is keyed by (conversation, sender). A typing=true frame
// starts or renews a single expiry timer for its key; renewal replaces the
// timer rather than stacking a second one. On expiry or an explicit
// typing=false the state clears and the stop indicator is broadcast to the
// other members. The automated responder's typing indicator bypasses the
// table entirely; its lifetime is the reply generation itself.
//
// # Escalation
//
// After each visitor message the relay consults the responder off the
// frame-handling path: should-respond decision, typing illusion, a
// randomized human-feeling delay, reply generation, then the reply relayed
// under the automated sender identity. Automated replies are agent-typed
// messages and never trigger further escalation.
package relay
