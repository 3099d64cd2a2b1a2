// Package store provides the optional audit ledger for the bot.
//
// # Overview
//
// Every routed message, every reply and every alert lifecycle change can be
// recorded as a LedgerEvent. The ledger is write-mostly: nothing in the bot
// reads it back to rebuild conversations or alert watchers, so a restart
// still starts from an empty in-memory state.
//
// # Implementations
//
//   - SQLiteStore: modernc.org/sqlite backed, WAL mode, schema created on open
//   - MockStore: in-memory, used by tests across packages
//
// # Conversation keys
//
// Events are grouped by the chat key built by the transports:
//
//   - "telegram:<chat id>"
//   - "matrix:<room id>"
package store
