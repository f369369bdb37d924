package rag

import (
	"strconv"
	"strings"
)

const (
	unknownSource  = "Unknown Source"
	blockSeparator = "\n\n---\n\n"
)

// Assemble renders passages, in order, as source-tagged blocks:
//
//	<Source: `name.pdf`, Page: 3>
//	content
//	</Source: `name.pdf`, Page: 3>
//
// Pages are shown 1-indexed. The output depends only on the input, and an
// empty input yields "".
func Assemble(passages []ScoredPassage) string {
	if len(passages) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, p := range passages {
		if i > 0 {
			sb.WriteString(blockSeparator)
		}
		label := sourceLabel(p.Passage)
		sb.WriteString("<")
		sb.WriteString(label)
		sb.WriteString(">\n")
		sb.WriteString(p.Content)
		sb.WriteString("\n</")
		sb.WriteString(label)
		sb.WriteString(">")
	}
	return sb.String()
}

func sourceLabel(p Passage) string {
	label := "Source: `" + sourceName(p.SourceID) + "`"
	if p.PageIndex != nil {
		label += ", Page: " + strconv.Itoa(*p.PageIndex+1)
	}
	return label
}

// sourceName is the part of a source identifier after the last slash.
func sourceName(sourceID string) string {
	if sourceID == "" {
		return unknownSource
	}
	if i := strings.LastIndex(sourceID, "/"); i >= 0 {
		return sourceID[i+1:]
	}
	return sourceID
}
