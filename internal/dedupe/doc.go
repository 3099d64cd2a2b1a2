// Package dedupe drops inbound transport events that were already handled.
//
// Telegram long polling and Matrix sync can both redeliver an event after a
// reconnect. Routing the same message twice would advance a conversation
// twice, so each transport asks Cache.Seen before handing an event to the
// dispatcher.
package dedupe
