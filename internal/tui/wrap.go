package tui

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// wrapText wraps a string to fit within maxWidth display columns,
// correctly handling emoji and CJK characters.
func wrapText(text string, maxWidth int) []string {
	if maxWidth <= 0 {
		maxWidth = 80
	}
	if len(text) == 0 {
		return []string{""}
	}
	if runewidth.StringWidth(text) <= maxWidth {
		return []string{text}
	}

	var lines []string
	for runewidth.StringWidth(text) > maxWidth {
		// byte offset of the widest prefix that fits
		colW := 0
		byteOff := 0
		for i, r := range text {
			rw := runewidth.RuneWidth(r)
			if colW+rw > maxWidth {
				break
			}
			colW += rw
			byteOff = i + len(string(r))
		}
		if byteOff == 0 {
			// single rune wider than maxWidth
			byteOff = len(string([]rune(text)[0]))
		}
		// prefer a space in the last two thirds
		cut := byteOff
		if idx := strings.LastIndex(text[:byteOff], " "); idx > byteOff/3 {
			cut = idx
		}
		lines = append(lines, text[:cut])
		text = strings.TrimLeft(text[cut:], " ")
	}
	if text != "" {
		lines = append(lines, text)
	}
	return lines
}

// wrapLines wraps every line of a multi-line string.
func wrapLines(text string, maxWidth int) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		out = append(out, wrapText(strings.TrimRight(line, " \t\r"), maxWidth)...)
	}
	return out
}

// truncate cuts s to maxWidth columns, adding an ellipsis.
func truncate(s string, maxWidth int) string {
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	return runewidth.Truncate(s, maxWidth, "…")
}
