// Package matrix binds the bot to a Matrix account through mautrix.
//
// Each room is one chat; the chat id is the room id. Text and notice
// messages become text input, m.file and m.audio messages become documents
// (the caption, when present, becomes the text). Old events from the first
// sync are skipped, redelivered event ids are dropped and invites to allowed
// rooms are accepted.
//
// Matrix has no reply keyboards, so keyboard rows are rendered as a numbered
// list and a typed number is mapped back to its label on the next message in
// that room. Replies are sent with an HTML body rendered by goldmark when the
// markdown produces any formatting.
//
// With encryption enabled a cryptohelper backed by a SQLite store under the
// data dir handles room events, and media in encrypted rooms is encrypted on
// upload and decrypted on download.
package matrix
