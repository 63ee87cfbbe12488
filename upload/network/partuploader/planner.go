package partuploader

import "fmt"

// PlanParts computes the ordered byte ranges covering [0, size) for a part size
// dictated by the backend at session creation. Every part except possibly the
// last is exactly partSize bytes. A zero-byte file still yields a single empty
// part so the session can be finalized; whether the backend accepts it is its
// call to make.
func PlanParts(size, partSize int64) ([]Part, error) {
	if size < 0 {
		return nil, fmt.Errorf("negative file size: %d", size)
	}
	if partSize <= 0 {
		return nil, fmt.Errorf("invalid part size: %d", partSize)
	}

	if size == 0 {
		return []Part{{Number: 1, Offset: 0, Size: 0}}, nil
	}

	count := int((size + partSize - 1) / partSize)
	parts := make([]Part, 0, count)
	for i := 0; i < count; i++ {
		offset := int64(i) * partSize
		length := partSize
		if offset+length > size {
			length = size - offset
		}
		parts = append(parts, Part{
			Number: i + 1,
			Offset: offset,
			Size:   length,
		})
	}

	return parts, nil
}
