package batch

import "fmt"

// DefaultChunkSize is the number of indices requested per query call.
const DefaultChunkSize = 200

// IndexRange is an inclusive, descending index range: Start >= End.
type IndexRange struct {
	Start uint64
	End   uint64
}

// Len returns the number of indices covered by the range.
func (r IndexRange) Len() uint64 {
	return r.Start - r.End + 1
}

// Chunks splits [total-1, 0] into descending ranges of at most size indices,
// newest first. The final range may be shorter. A zero total yields no ranges.
func Chunks(total, size uint64) ([]IndexRange, error) {
	if size == 0 {
		return nil, fmt.Errorf("chunk size must be greater than zero")
	}
	if total == 0 {
		return nil, nil
	}

	ranges := make([]IndexRange, 0, (total+size-1)/size)
	start := total - 1
	for {
		var end uint64
		if start+1 <= size {
			end = 0
		} else {
			end = start - size + 1
		}
		ranges = append(ranges, IndexRange{Start: start, End: end})
		if end == 0 {
			break
		}
		start = end - 1
	}
	return ranges, nil
}
