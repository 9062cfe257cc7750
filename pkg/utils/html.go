// Package utils holds small formatting helpers for Telegram HTML messages.
package utils

import (
	"fmt"
	"html"
)

// Escape makes s safe for inclusion in a ParseMode=HTML message.
func Escape(s string) string {
	return html.EscapeString(s)
}

// Bold wraps already-escaped text in bold tags.
func Bold(s string) string {
	return "<b>" + s + "</b>"
}

// Italic wraps already-escaped text in italic tags.
func Italic(s string) string {
	return "<i>" + s + "</i>"
}

// Link renders an HTML anchor. The text is escaped, the URL is not.
func Link(text, url string) string {
	return fmt.Sprintf(`<a href="%s">%s</a>`, url, Escape(text))
}

// Truncate shortens s to at most max runes, appending an ellipsis when
// something was cut. Telegram captions cap at 1024 characters and
// messages at 4096, counted in runes.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 1 {
		return "…"
	}
	return string(runes[:max-1]) + "…"
}
