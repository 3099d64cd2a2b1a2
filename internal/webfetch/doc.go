// Package webfetch downloads web pages and reduces them to visible text.
//
// Only basic, server-rendered pages are supported: there is no JavaScript
// execution, and the text of script, style, noscript and template elements
// is discarded.
package webfetch
