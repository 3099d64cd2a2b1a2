// ABOUTME: Text limits, emphasis stripping and keyboard choice parsing shared by the flows
// ABOUTME: Choices are matched exactly after normalization, never by substring

package flows

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	// MaxSourceChars caps page or PDF text handed to the model.
	MaxSourceChars = 5000
	// MaxReplyChars caps summary and full-text replies.
	MaxReplyChars = 4000
	// MaxSpeechChars caps text handed to the synthesizer.
	MaxSpeechChars = 1000
)

// Truncate returns at most n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

var (
	boldRe       = regexp.MustCompile(`\*\*(.*?)\*\*`)
	italicStarRe = regexp.MustCompile(`\*(.*?)\*`)
	italicUndRe  = regexp.MustCompile(`_(.*?)_`)
)

// StripEmphasis removes **bold**, *italic* and _italic_ markers, keeping the text.
func StripEmphasis(s string) string {
	s = boldRe.ReplaceAllString(s, "$1")
	s = italicStarRe.ReplaceAllString(s, "$1")
	return italicUndRe.ReplaceAllString(s, "$1")
}

// normalizeChoice drops leading emoji and punctuation, lower-cases and collapses spaces,
// so "📃 Plain Text" becomes "plain text".
func normalizeChoice(s string) string {
	s = strings.TrimLeftFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// EmailFormat is how extracted addresses are delivered.
type EmailFormat string

const (
	EmailPlain EmailFormat = "plain"
	EmailCSV   EmailFormat = "csv"
)

// Keyboard labels for the email format choice.
const (
	LabelPlainText = "📃 Plain Text"
	LabelCSVFile   = "📊 CSV File"
)

// ParseEmailFormat maps a button label or short alias to a format.
func ParseEmailFormat(s string) (EmailFormat, bool) {
	switch normalizeChoice(s) {
	case "plain text", "plain", "text":
		return EmailPlain, true
	case "csv file", "csv":
		return EmailCSV, true
	}
	return "", false
}

// PDFOption is what the PDF summary flow does with the extracted text.
type PDFOption string

const (
	PDFSummaryOption  PDFOption = "summary"
	PDFFullTextOption PDFOption = "fulltext"
	PDFAudioOption    PDFOption = "audio"
)

// Keyboard labels for the PDF option choice.
const (
	LabelSummary  = "🧠 Summary"
	LabelFullText = "📜 Full Text"
	LabelAudio    = "🔊 Audio"
)

// ParsePDFOption maps a button label or short alias to an option.
func ParsePDFOption(s string) (PDFOption, bool) {
	switch normalizeChoice(s) {
	case "summary":
		return PDFSummaryOption, true
	case "full text", "fulltext", "full":
		return PDFFullTextOption, true
	case "audio", "voice":
		return PDFAudioOption, true
	}
	return "", false
}
