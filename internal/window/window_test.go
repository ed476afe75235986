package window

import (
	"errors"
	"slices"
	"testing"
)

func TestCompute(t *testing.T) {
	tests := []struct {
		name          string
		currentSeq    int
		totalSegments int
		windowSize    int
		wantIndices   []int
		wantNext      int
	}{
		{
			name:          "first window",
			currentSeq:    0,
			totalSegments: 59,
			windowSize:    10,
			wantIndices:   []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
			wantNext:      1,
		},
		{
			name:          "last window before reset",
			currentSeq:    47,
			totalSegments: 59,
			windowSize:    10,
			wantIndices:   []int{48, 49, 50, 51, 52, 53, 54, 55, 56, 57},
			wantNext:      48,
		},
		{
			name:          "window end touches total resets",
			currentSeq:    48,
			totalSegments: 59,
			windowSize:    10,
			wantIndices:   []int{49, 50, 51, 52, 53, 54, 55, 56, 57, 58},
			wantNext:      0,
		},
		{
			name:          "window truncated at catalog end",
			currentSeq:    55,
			totalSegments: 59,
			windowSize:    10,
			wantIndices:   []int{56, 57, 58, 59},
			wantNext:      0,
		},
		{
			name:          "window equals catalog",
			currentSeq:    0,
			totalSegments: 5,
			windowSize:    5,
			wantIndices:   []int{1, 2, 3, 4, 5},
			wantNext:      0,
		},
		{
			name:          "single segment",
			currentSeq:    0,
			totalSegments: 1,
			windowSize:    1,
			wantIndices:   []int{1},
			wantNext:      0,
		},
		{
			name:          "window of one",
			currentSeq:    2,
			totalSegments: 5,
			windowSize:    1,
			wantIndices:   []int{3},
			wantNext:      3,
		},
		{
			name:          "window of one resets one short of the end",
			currentSeq:    3,
			totalSegments: 5,
			windowSize:    1,
			wantIndices:   []int{4},
			wantNext:      0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			indices, next, err := Compute(tt.currentSeq, tt.totalSegments, tt.windowSize)
			if err != nil {
				t.Fatalf("Compute() error = %v", err)
			}
			if !slices.Equal(indices, tt.wantIndices) {
				t.Errorf("indices = %v, want %v", indices, tt.wantIndices)
			}
			if next != tt.wantNext {
				t.Errorf("next = %d, want %d", next, tt.wantNext)
			}
		})
	}
}

func TestCompute_InvalidInput(t *testing.T) {
	tests := []struct {
		name          string
		currentSeq    int
		totalSegments int
		windowSize    int
		wantErr       error
	}{
		{"zero window", 0, 10, 0, ErrInvalidConfig},
		{"negative window", 0, 10, -3, ErrInvalidConfig},
		{"zero segments", 0, 0, 1, ErrInvalidConfig},
		{"negative sequence", -1, 10, 3, ErrSequenceOutOfRange},
		{"sequence past catalog", 10, 10, 3, ErrSequenceOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Compute(tt.currentSeq, tt.totalSegments, tt.windowSize)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Compute() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestCompute_Properties walks every valid input for small catalogs and checks
// the window shape.
func TestCompute_Properties(t *testing.T) {
	for total := 1; total <= 20; total++ {
		for size := 1; size <= total; size++ {
			for seq := 0; seq < total; seq++ {
				indices, next, err := Compute(seq, total, size)
				if err != nil {
					t.Fatalf("Compute(%d, %d, %d) error = %v", seq, total, size, err)
				}

				if len(indices) == 0 {
					t.Fatalf("Compute(%d, %d, %d) returned empty window", seq, total, size)
				}
				if len(indices) > size {
					t.Errorf("Compute(%d, %d, %d) window length %d exceeds %d", seq, total, size, len(indices), size)
				}
				if seq+size <= total && len(indices) != size {
					t.Errorf("Compute(%d, %d, %d) window length %d, want %d", seq, total, size, len(indices), size)
				}
				if indices[0] != seq+1 {
					t.Errorf("Compute(%d, %d, %d) starts at %d, want %d", seq, total, size, indices[0], seq+1)
				}
				for i, idx := range indices {
					if idx < 1 || idx > total {
						t.Errorf("Compute(%d, %d, %d) index %d out of [1, %d]", seq, total, size, idx, total)
					}
					if i > 0 && idx != indices[i-1]+1 {
						t.Errorf("Compute(%d, %d, %d) indices not contiguous: %v", seq, total, size, indices)
					}
				}
				if next != 0 && next != seq+1 {
					t.Errorf("Compute(%d, %d, %d) next = %d", seq, total, size, next)
				}
				if next >= total {
					t.Errorf("Compute(%d, %d, %d) next = %d escapes catalog", seq, total, size, next)
				}
			}
		}
	}
}

func TestCompute_Wraparound(t *testing.T) {
	const (
		totalSegments = 59
		windowSize    = 10
	)

	seq := 0
	resetTick := 0
	for tick := 1; tick <= totalSegments; tick++ {
		indices, next, err := Compute(seq, totalSegments, windowSize)
		if err != nil {
			t.Fatalf("tick %d: Compute() error = %v", tick, err)
		}

		end := indices[len(indices)-1] + 1
		if next == 0 {
			if end < totalSegments {
				t.Fatalf("tick %d: reset with window end %d < %d", tick, end, totalSegments)
			}
			resetTick = tick
			break
		}
		if next != seq+1 {
			t.Fatalf("tick %d: next = %d, want %d", tick, next, seq+1)
		}
		seq = next
	}

	// seq 48 is the first where 48+1+10 >= 59.
	if resetTick != 49 {
		t.Errorf("reset on tick %d, want 49", resetTick)
	}
	if seq != 48 {
		t.Errorf("reset from sequence %d, want 48", seq)
	}

	cycle, err := CycleLength(totalSegments, windowSize)
	if err != nil {
		t.Fatalf("CycleLength() error = %v", err)
	}
	if cycle != resetTick {
		t.Errorf("CycleLength() = %d, want %d", cycle, resetTick)
	}
}

func TestCycleLength(t *testing.T) {
	tests := []struct {
		totalSegments int
		windowSize    int
		want          int
	}{
		{59, 10, 49},
		{5, 5, 1},
		{1, 1, 1},
		{5, 1, 4},
		{10, 9, 1},
		{10, 8, 2},
	}

	for _, tt := range tests {
		got, err := CycleLength(tt.totalSegments, tt.windowSize)
		if err != nil {
			t.Fatalf("CycleLength(%d, %d) error = %v", tt.totalSegments, tt.windowSize, err)
		}
		if got != tt.want {
			t.Errorf("CycleLength(%d, %d) = %d, want %d", tt.totalSegments, tt.windowSize, got, tt.want)
		}

		// Cross-check against Compute.
		seq, ticks := 0, 0
		for {
			ticks++
			_, next, err := Compute(seq, tt.totalSegments, tt.windowSize)
			if err != nil {
				t.Fatalf("Compute() error = %v", err)
			}
			if next == 0 {
				break
			}
			seq = next
		}
		if ticks != got {
			t.Errorf("CycleLength(%d, %d) = %d, Compute resets after %d ticks", tt.totalSegments, tt.windowSize, got, ticks)
		}
	}

	if _, err := CycleLength(0, 1); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("CycleLength(0, 1) error = %v, want ErrInvalidConfig", err)
	}
}
