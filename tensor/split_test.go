package tensor

import (
	"reflect"
	"testing"

	"github.com/pkg/errors"
)

func TestSplitBySize(t *testing.T) {
	tests := []struct {
		name     string
		input    []int
		sizes    []int
		expected [][]int
	}{
		{"three groups", []int{0, 1, 2, 3, 4, 5}, []int{1, 2, 3}, [][]int{{0}, {1, 2}, {3, 4, 5}}},
		{"leading empty group", []int{0, 1, 2, 3, 4, 5}, []int{0, 6}, [][]int{{}, {0, 1, 2, 3, 4, 5}}},
		{"single group", []int{7, 8, 9}, []int{3}, [][]int{{7, 8, 9}}},
		{"empty input", []int{}, []int{}, [][]int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups, err := SplitBySize(tt.input, tt.sizes)
			if err != nil {
				t.Fatalf("SplitBySize failed: %v", err)
			}
			if len(groups) != len(tt.expected) {
				t.Fatalf("Expected %d groups, got %d", len(tt.expected), len(groups))
			}
			for i := range groups {
				if len(groups[i]) != len(tt.expected[i]) {
					t.Errorf("Group %d: expected %v, got %v", i, tt.expected[i], groups[i])
					continue
				}
				for j := range groups[i] {
					if groups[i][j] != tt.expected[i][j] {
						t.Errorf("Group %d: expected %v, got %v", i, tt.expected[i], groups[i])
						break
					}
				}
			}
		})
	}
}

func TestSplitBySizeRoundTrip(t *testing.T) {
	input := []float64{0.5, 1.5, 2.5, 3.5, 4.5, 5.5, 6.5}
	for _, sizes := range [][]int{{7}, {1, 1, 5}, {0, 3, 0, 4}, {2, 2, 2, 1}} {
		groups, err := SplitBySize(input, sizes)
		if err != nil {
			t.Fatalf("SplitBySize(%v) failed: %v", sizes, err)
		}
		var joined []float64
		for _, g := range groups {
			joined = append(joined, g...)
		}
		if !reflect.DeepEqual(joined, input) {
			t.Errorf("Sizes %v: concatenation %v does not reproduce %v", sizes, joined, input)
		}
	}
}

func TestSplitBySizeMismatch(t *testing.T) {
	input := []int{0, 1, 2, 3, 4, 5}

	for _, sizes := range [][]int{{1, 2}, {4, 4}, {-1, 7}} {
		_, err := SplitBySize(input, sizes)
		if err == nil {
			t.Errorf("Sizes %v: expected error", sizes)
			continue
		}
		if !errors.Is(err, ErrShapeMismatch) {
			t.Errorf("Sizes %v: expected ErrShapeMismatch, got %v", sizes, err)
		}
	}
}

func TestSplitBySizeGroupsDoNotOverlap(t *testing.T) {
	input := []int{1, 2, 3, 4}
	groups, err := SplitBySize(input, []int{2, 2})
	if err != nil {
		t.Fatalf("SplitBySize failed: %v", err)
	}
	groups[0] = append(groups[0], 99)
	if input[2] != 3 {
		t.Errorf("Appending to a group overwrote the next group: %v", input)
	}
}

func TestSplitRows(t *testing.T) {
	m, _ := New(4, 2, []float64{1, 2, 3, 4, 5, 6, 7, 8})

	blocks, err := SplitRows(m, []int{1, 3})
	if err != nil {
		t.Fatalf("SplitRows failed: %v", err)
	}
	expected := [][]float64{{1, 2}, {3, 4, 5, 6, 7, 8}}
	if !reflect.DeepEqual(blocks, expected) {
		t.Errorf("Expected %v, got %v", expected, blocks)
	}

	if _, err := SplitRows(m, []int{1, 1}); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
}
