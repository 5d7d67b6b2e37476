package hooks

import (
	"context"
	"strings"
)

// Banner prepends a comment to every chunk artifact.
type Banner struct {
	Text string
}

func (b Banner) PreEmit(_ context.Context, art *Artifact) error {
	text := strings.TrimSpace(b.Text)
	if text == "" {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("/*! ")
	// a "*/" inside the banner would end the comment early
	sb.WriteString(strings.ReplaceAll(text, "*/", "* /"))
	sb.WriteString(" */\n")
	sb.Write(art.Code)
	art.Code = []byte(sb.String())
	return nil
}
