// Package cite merges search-grounding metadata into generated text.
//
// Given an answer produced by a grounded search provider, [Apply] inserts
// numbered inline citation markers ("[1]", "[2,3]") at the text positions the
// provider reported, appends a numbered source list, and optionally lists the
// web queries the provider ran. The markers are 1-based so they line up with
// the source list a human reads below the answer.
//
// All functions are pure: no I/O, no shared state.
package cite

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Source is one web source backing a grounded answer.
type Source struct {
	// Title is the page title as reported by the provider.
	Title string

	// URL is the page address.
	URL string
}

// Support links a span of generated text to the sources that back it.
//
// Both fields are optional on the wire. A Support missing either field
// carries no actionable position or no actionable reference and is dropped
// by [Apply] rather than defaulted.
type Support struct {
	// SegmentEndIndex is the byte offset into the answer text (UTF-8) at
	// which the supported span ends and the marker is inserted. Nil when the
	// provider omitted the segment.
	SegmentEndIndex *int

	// ChunkIndices are 0-based indices into the source list, in provider
	// order. Nil or empty when the provider omitted them.
	ChunkIndices []int
}

// Metadata is the grounding metadata attached to one answer.
type Metadata struct {
	// Supports maps text spans to source indices.
	Supports []Support

	// WebSearchQueries lists the queries the provider ran to ground the
	// answer, in execution order.
	WebSearchQueries []string
}

// insertion is a computed marker placement, discarded after assembly.
type insertion struct {
	at     int
	marker string
}

// Apply annotates text with inline citation markers and a trailing source
// list built from meta. It returns text unchanged when sources is empty or
// meta is nil — the common case for ungrounded answers.
//
// Marker positions are byte offsets into the UTF-8 text, matching the offset
// convention of the Gemini grounding API that produces them. Insertions are
// applied in descending offset order so that splicing a marker never shifts
// the offsets of markers still to be inserted earlier in the text. An offset
// beyond len(text) contributes no marker; the source list is still appended.
func Apply(text string, sources []Source, meta *Metadata) string {
	if len(sources) == 0 || meta == nil {
		return text
	}

	insertions := make([]insertion, 0, len(meta.Supports))
	for _, s := range meta.Supports {
		if s.SegmentEndIndex == nil || len(s.ChunkIndices) == 0 {
			continue
		}
		at := *s.SegmentEndIndex
		if at < 0 || at > len(text) {
			continue
		}
		insertions = append(insertions, insertion{at: at, marker: marker(s.ChunkIndices)})
	}

	// Descending offset order keeps earlier offsets valid while splicing.
	sort.SliceStable(insertions, func(i, j int) bool {
		return insertions[i].at > insertions[j].at
	})
	for _, ins := range insertions {
		text = text[:ins.at] + ins.marker + text[ins.at:]
	}

	var sb strings.Builder
	sb.WriteString(text)
	sb.WriteString("\n\nSources:\n")
	for i, src := range sources {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "[%d] %s (%s)", i+1, src.Title, src.URL)
	}

	if len(meta.WebSearchQueries) > 0 {
		sb.WriteString("\n\nSearched for: ")
		sb.WriteString(strings.Join(meta.WebSearchQueries, ", "))
	}

	return sb.String()
}

// marker renders chunk indices as an inline citation marker such as "[1,3]".
// Indices are converted to 1-based and sorted ascending within the marker.
func marker(chunkIndices []int) string {
	nums := make([]int, len(chunkIndices))
	for i, ci := range chunkIndices {
		nums[i] = ci + 1
	}
	sort.Ints(nums)

	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = strconv.Itoa(n)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
