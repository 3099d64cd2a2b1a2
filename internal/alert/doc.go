// Package alert runs the price watchers armed by the setalert flow.
//
// A watcher is owned by the Supervisor, not by the conversation that created
// it: the conversation ends as soon as the watcher is armed. Each watcher
// checks the price immediately and then once per interval, and sends a single
// notification the first time the price reaches the target. Notification
// failures are retried on the next tick; the watcher only counts as fired once
// a notification was delivered.
//
// Watchers end in one of two terminal states, fired or stopped, and never
// leave them. Shutdown stops every running watcher and waits for their
// goroutines.
package alert
