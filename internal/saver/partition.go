package saver

import "fmt"

// SplitEvenly cuts items into n contiguous partitions of len(items)/n
// elements each. The first partition also takes the remainder. n is clamped
// to len(items) so no partition is empty.
func SplitEvenly[T any](items []T, n int) ([][]T, error) {
	if len(items) == 0 {
		return nil, ErrNoFrames
	}
	if n < 1 {
		return nil, fmt.Errorf("partition count must be positive, got %d", n)
	}
	if n > len(items) {
		n = len(items)
	}

	size := len(items) / n
	first := size + len(items)%n

	parts := make([][]T, 0, n)
	parts = append(parts, items[:first])
	for start := first; start < len(items); start += size {
		parts = append(parts, items[start:start+size])
	}
	return parts, nil
}
