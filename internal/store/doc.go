// Package store provides persistence for switchboard.
//
// # Overview
//
// The store package owns the durable records that the relay and the CLI
// operate on: agents, customers, widget sessions, conversations, and
// messages. The relay treats the store as an external collaborator: it
// only issues read/write calls and never caches durable state.
//
// # Store Interface
//
// The Store interface covers the operations the rest of the system consumes:
//
//   - CreateAgent / GetAgent / GetAgentByEmail / UpdateAgentAvailability
//   - CreateCustomer / GetCustomer
//   - CreateSession / GetSession
//   - CreateConversation / GetConversation / TouchConversation /
//     AssignConversation / CloseConversation
//   - AppendMessage / ListMessages
//   - UnreadCount (stubbed at 0 until a read-marker policy exists)
//
// # Ordering
//
// Messages are append-only. AppendMessage assigns an AUTOINCREMENT id, and
// that id is the canonical ordering key within a conversation: the relay
// fans messages out in store order and never reorders them.
//
// # Sentinel Sender
//
// Messages written by the automated responder carry AutomatedSenderID (-1)
// as their sender_id. The messages table deliberately has no foreign key on
// sender_id so these rows are representable.
//
// # SQLite
//
// SQLiteStore is the only implementation, built on modernc.org/sqlite with
// WAL mode and foreign keys enabled. The schema is created on open; tests
// point it at t.TempDir() or ":memory:".
package store
