// Package segmenter splits extracted document text into overlapping segments
// for embedding and retrieval.
//
// Segments are measured in runes, never bytes, so multi-byte text is never
// cut inside a character.
//
// # Basic Usage
//
//	s, err := segmenter.New(segmenter.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for _, seg := range s.Segment(text) {
//	    fmt.Printf("segment %d [%d:%d] %q\n", seg.Index, seg.Start, seg.End, seg.Section)
//	}
//
// # Break Points
//
// Each segment targets ChunkSize runes. Within the Tolerance window that ends
// at the target, the segmenter prefers, in order:
//   - a paragraph break ("\n\n")
//   - a line break
//   - a sentence end (". ", "? ", "! ", "; ")
//   - any whitespace
//
// If none fall in the window the text is hard split at the target.
//
// # Overlap
//
// Every segment after the first starts exactly Overlap runes before the end
// of the previous one. Dropping each segment's leading Overlap runes and
// concatenating yields the input unchanged:
//
//	text == segmenter.Reconstruct(s.Segment(text))
//
// # Sections
//
// Markdown ATX headings (#, ##, ###) are tracked while segmenting. Each
// segment carries the heading path in effect at its start, for example
// "Handbook > Leave > Parental".
package segmenter
