package errors

import (
	"strings"
)

// Colors toggles ANSI styling in Format. The CLI turns it off when
// NO_COLOR is set.
var Colors = true

type style string

const (
	styleError style = "\033[1;31m"
	styleLabel style = "\033[90m"
	styleValue style = "\033[36m"
	styleHint  style = "\033[33m"
)

func (s style) apply(text string) string {
	if !Colors || s == "" {
		return text
	}
	return string(s) + text + "\033[0m"
}

// Format renders the error as an indented block for terminal output:
//
//	error[EB003]: Platform view creation timeout
//	  engine  unreal
//	  detail  gave up after 10 attempts
//	  hint    The native handler for this view never registered. ...
func (e *Error) Format() string {
	var b strings.Builder

	head := "error"
	if e.Code != "" {
		head += "[" + e.Code + "]"
	}
	b.WriteString(styleError.apply(head + ":"))
	b.WriteByte(' ')
	b.WriteString(e.Message)
	b.WriteByte('\n')

	field := func(label, value string, s style) {
		if value == "" {
			return
		}
		for i, line := range wrapWords(value, 68) {
			if i == 0 {
				b.WriteString("  " + styleLabel.apply(padRight(label, 7)) + " ")
			} else {
				b.WriteString(strings.Repeat(" ", 10))
			}
			b.WriteString(s.apply(line))
			b.WriteByte('\n')
		}
	}
	field("engine", e.EngineType, styleValue)
	field("target", e.Target, styleValue)
	field("method", e.Method, styleValue)
	field("detail", e.Detail, "")
	if e.Wrapped != nil {
		field("cause", e.Wrapped.Error(), "")
	}
	field("hint", e.Suggestion, styleHint)
	return b.String()
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat(" ", n-len(s))
}

// wrapWords splits text into lines no wider than width, breaking on
// whitespace. A single word longer than width gets its own line.
func wrapWords(text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	lines := []string{words[0]}
	for _, w := range words[1:] {
		last := &lines[len(lines)-1]
		if len(*last)+1+len(w) > width {
			lines = append(lines, w)
			continue
		}
		*last += " " + w
	}
	return lines
}
