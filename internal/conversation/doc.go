// Package conversation is the state machine at the center of errand-bot.
//
// # Overview
//
// Every chat has at most one active Conversation: an instance of a Flow
// sitting in one of the flow's states. The Dispatcher receives each inbound
// message, finds the chat's conversation, checks the current state's
// acceptance predicate and runs its Step. The step's Transition decides
// whether the conversation stays, moves to another state or ends.
//
// # Global commands
//
//   - /help lists /start, /help, every flow trigger and /cancel
//   - /start sends the welcome text
//   - /cancel destroys the active conversation, if any, and always replies
//     "❌ Canceled."
//
// Commands never satisfy a state's predicate, so an unknown /command inside
// a flow is answered by the flow's fallback.
//
// # Reentry
//
// An entry trigger sent while another conversation is active follows the
// configured Reentry policy: ReentryReject (default) keeps the active
// conversation and asks the user to finish or cancel it; ReentryRestart
// tears it down and starts the new flow.
//
// # Failures
//
// A step that returns an error ends its conversation. The flow's Failure hook
// turns the error (usually a *fault.Error) into the reply; panics are
// recovered and answered with ApologyText. Flow Cleanup hooks run whenever a
// conversation is destroyed, including at shutdown via Dispatcher.Close.
//
// # Ordering
//
// Route serializes messages per chat key. Inbox additionally keeps per-chat
// arrival order by draining a FIFO queue per chat on its own goroutine, so a
// slow step in one chat never delays another chat.
package conversation
