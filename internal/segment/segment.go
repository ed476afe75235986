// Package segment defines data structures for HLS media segments.
package segment

// Segment represents a single media segment referenced by a playlist.
type Segment struct {
	// Index is the 1-based position of the segment in the catalog
	Index int

	// URI is the address clients use to fetch the segment
	URI string

	// Duration is the segment duration in seconds
	Duration float64
}
