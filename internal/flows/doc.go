// Package flows defines the bot's five conversations.
//
//	/setalert       symbol -> target price -> watcher armed
//	/summary        url -> prompt -> model reply
//	/summarizepdf   pdf upload -> summary | full text | audio
//	/pdftovoice     text or pdf -> audio
//	/extractemails  url -> plain text | csv file
//
// Flows only talk to their collaborators through the small interfaces in
// flows.go, so tests drive them with fakes through a real dispatcher.
//
// Temporary files (downloaded PDFs, CSVs, audio) live in Deps.WorkDir under
// random names and are removed on every path once the step that created them
// is done. A PDF kept between the two steps of /summarizepdf is also removed
// by the flow's Cleanup hook when the conversation is cancelled or replaced.
package flows
