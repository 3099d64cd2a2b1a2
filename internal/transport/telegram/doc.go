// Package telegram binds the bot to the Telegram Bot API.
//
// Updates are fetched by long polling getUpdates; the offset is advanced past
// every update received so nothing is fetched twice, and message ids are still
// checked against a dedupe cache in case Telegram redelivers after a restart
// of the poll. Only "message" updates are requested.
//
// Replies map onto the Bot API as follows:
//
//   - text: sendMessage, split at 4096 characters
//   - keyboard: a one-time, resized ReplyKeyboardMarkup on the last text chunk
//   - document attachment: multipart sendDocument
//   - audio attachment: multipart sendAudio
//
// Downloads resolve the file with getFile and stream it from the file endpoint,
// refusing anything larger than the configured cap.
package telegram
