package channels

import (
	"fmt"
	"strings"
)

// markerReserve is the chunk-budget headroom for the "(i/N) " prefix.
// Ten bytes covers up to 999 chunks, far beyond anything a report produces.
const markerReserve = 10

// Split breaks body into ordered chunks that each fit within max bytes,
// splitting only at line boundaries and prefixing every chunk with a
// "(i/N) " marker. A body within the limit is returned unchanged as a
// single unmarked chunk.
//
// The split is lossless: stripping the markers and joining the chunk
// bodies with newlines reproduces body exactly.
//
// A single line longer than the limit becomes its own oversized chunk —
// mid-line splits would corrupt the report, so the channel gets to decide
// whether to truncate.
func Split(body string, max int) []string {
	if max <= 0 || len(body) <= max {
		return []string{body}
	}

	budget := max - markerReserve
	if budget < 1 {
		budget = 1
	}

	// started distinguishes a fresh chunk from one holding a single empty
	// line; testing builder length would drop empty lines at chunk starts.
	var groups []string
	var cur strings.Builder
	started := false
	for _, line := range strings.Split(body, "\n") {
		switch {
		case !started:
			cur.WriteString(line)
			started = true
		case cur.Len()+1+len(line) <= budget:
			cur.WriteByte('\n')
			cur.WriteString(line)
		default:
			groups = append(groups, cur.String())
			cur.Reset()
			cur.WriteString(line)
		}
	}
	groups = append(groups, cur.String())

	n := len(groups)
	chunks := make([]string, n)
	for i, g := range groups {
		chunks[i] = fmt.Sprintf("(%d/%d) %s", i+1, n, g)
	}
	return chunks
}
