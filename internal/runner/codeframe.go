package runner

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/pagegraph/internal/ir"
)

// codeframeContext is how many lines are shown around the error line.
const codeframeContext = 2

// Codeframe renders the lines around loc with a marker on the error line
// and a caret under the error column.
//
//	  1 | query {
//	> 2 |   post(id: 1) { nope }
//	    |                 ^
//	  3 | }
func Codeframe(text string, loc ir.Location) string {
	lines := strings.Split(text, "\n")
	if loc.Line < 1 || loc.Line > len(lines) {
		return ""
	}

	start := max(1, loc.Line-codeframeContext)
	end := min(len(lines), loc.Line+codeframeContext)
	width := len(strconv.Itoa(end))

	var b strings.Builder
	for n := start; n <= end; n++ {
		marker := "  "
		if n == loc.Line {
			marker = "> "
		}
		fmt.Fprintf(&b, "%s%*d | %s\n", marker, width, n, lines[n-1])
		if n == loc.Line && loc.Column > 0 {
			fmt.Fprintf(&b, "  %s | %s^\n", strings.Repeat(" ", width), strings.Repeat(" ", loc.Column-1))
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// annotate attaches the source file and a codeframe to errors that carry a location.
func annotate(errs []ir.QueryError, file, text string) []ir.QueryError {
	if len(errs) == 0 {
		return nil
	}
	out := make([]ir.QueryError, len(errs))
	for i, e := range errs {
		if e.File == "" {
			e.File = file
		}
		if e.Codeframe == "" && len(e.Locations) > 0 {
			e.Codeframe = Codeframe(text, e.Locations[0])
		}
		out[i] = e
	}
	return out
}
