package trace

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Format is the encoding of a trace output.
type Format uint8

const (
	FormatAuto   Format = iota // pick from the output path
	FormatText                 // one human-readable line per event
	FormatNDJSON               // newline-delimited JSON
	FormatChrome               // chrome://tracing and Perfetto trace events
)

var formatNames = map[string]Format{
	"":       FormatAuto,
	"auto":   FormatAuto,
	"text":   FormatText,
	"ndjson": FormatNDJSON,
	"json":   FormatNDJSON,
	"chrome": FormatChrome,
}

func ParseFormat(s string) (Format, error) {
	if f, ok := formatNames[strings.ToLower(s)]; ok {
		return f, nil
	}
	return FormatAuto, fmt.Errorf("invalid trace format: %q (expected: auto|text|ndjson|chrome)", s)
}

// FormatEvent encodes ev. Text and NDJSON records end with a newline; a
// Chrome record is one array element and the caller separates them.
func FormatEvent(ev *Event, format Format) []byte {
	switch format {
	case FormatNDJSON:
		return append(marshal(ndjsonRecord(ev)), '\n')
	case FormatChrome:
		return marshal(chromeRecord(ev))
	default:
		return appendText(nil, ev)
	}
}

// marshal cannot fail on the record types below.
func marshal(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}

type ndjsonEvent struct {
	Time     string            `json:"time"`
	Seq      uint64            `json:"seq"`
	Kind     string            `json:"kind"`
	Scope    string            `json:"scope"`
	SpanID   uint64            `json:"span_id"`
	ParentID uint64            `json:"parent_id,omitempty"`
	GID      uint64            `json:"gid,omitempty"`
	Name     string            `json:"name"`
	Detail   string            `json:"detail,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

func ndjsonRecord(ev *Event) ndjsonEvent {
	return ndjsonEvent{
		Time:     ev.Time.Format("2006-01-02T15:04:05.000000Z07:00"),
		Seq:      ev.Seq,
		Kind:     ev.Kind.String(),
		Scope:    ev.Scope.String(),
		SpanID:   ev.SpanID,
		ParentID: ev.ParentID,
		GID:      ev.GID,
		Name:     ev.Name,
		Detail:   ev.Detail,
		Extra:    ev.Extra,
	}
}

// chromeEvent is a trace event of the Trace Event Format. Spans become B/E
// pairs on the track of the goroutine that ran them, everything else a
// global instant.
type chromeEvent struct {
	Name  string            `json:"name"`
	Cat   string            `json:"cat"`
	Phase string            `json:"ph"`
	TS    int64             `json:"ts"`
	PID   int               `json:"pid"`
	TID   uint64            `json:"tid"`
	S     string            `json:"s,omitempty"`
	Args  map[string]string `json:"args,omitempty"`
}

func chromeRecord(ev *Event) chromeEvent {
	c := chromeEvent{Name: ev.Name, Cat: ev.Scope.String(), TS: ev.Time.UnixMicro(), PID: 1, TID: ev.GID}
	switch ev.Kind {
	case KindSpanBegin:
		c.Phase = "B"
	case KindSpanEnd:
		c.Phase = "E"
	default:
		c.Phase, c.S = "i", "g"
	}
	if len(ev.Extra) > 0 {
		c.Args = maps.Clone(ev.Extra)
	}
	if ev.Detail != "" {
		if c.Args == nil {
			c.Args = make(map[string]string, 1)
		}
		c.Args["detail"] = ev.Detail
	}
	return c
}

// appendText renders "15:04:05.000000 <indent><mark> name (detail) {k=v, ...}".
func appendText(b []byte, ev *Event) []byte {
	b = ev.Time.AppendFormat(b, "15:04:05.000000")
	b = append(b, ' ')
	for range ev.Scope.depth() {
		b = append(b, "  "...)
	}
	if int(ev.Kind) < len(kindMarks) && kindMarks[ev.Kind] != "" {
		b = append(b, kindMarks[ev.Kind]...)
		b = append(b, ' ')
	}
	b = append(b, ev.Name...)
	if ev.Detail != "" {
		b = append(b, " ("...)
		b = append(b, ev.Detail...)
		b = append(b, ')')
	}
	if len(ev.Extra) > 0 {
		b = append(b, " {"...)
		for i, k := range slices.Sorted(maps.Keys(ev.Extra)) {
			if i > 0 {
				b = append(b, ", "...)
			}
			b = append(b, k...)
			b = append(b, '=')
			b = append(b, ev.Extra[k]...)
		}
		b = append(b, '}')
	}
	return append(b, '\n')
}
