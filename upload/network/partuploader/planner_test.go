package partuploader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanParts(t *testing.T) {
	tests := []struct {
		name     string
		size     int64
		partSize int64
		want     []Part
		wantErr  bool
	}{
		{
			name:     "zero-byte file yields one empty part",
			size:     0,
			partSize: 5 * 1024 * 1024,
			want:     []Part{{Number: 1, Offset: 0, Size: 0}},
		},
		{
			name:     "exact multiple",
			size:     10 * 1024 * 1024,
			partSize: 5 * 1024 * 1024,
			want: []Part{
				{Number: 1, Offset: 0, Size: 5 * 1024 * 1024},
				{Number: 2, Offset: 5 * 1024 * 1024, Size: 5 * 1024 * 1024},
			},
		},
		{
			name:     "remainder goes into a short last part",
			size:     10*1024*1024 + 1,
			partSize: 5 * 1024 * 1024,
			want: []Part{
				{Number: 1, Offset: 0, Size: 5 * 1024 * 1024},
				{Number: 2, Offset: 5 * 1024 * 1024, Size: 5 * 1024 * 1024},
				{Number: 3, Offset: 10 * 1024 * 1024, Size: 1},
			},
		},
		{
			name:     "file smaller than part size",
			size:     100,
			partSize: 5 * 1024 * 1024,
			want:     []Part{{Number: 1, Offset: 0, Size: 100}},
		},
		{
			name:     "negative size",
			size:     -1,
			partSize: 5,
			wantErr:  true,
		},
		{
			name:     "zero part size",
			size:     100,
			partSize: 0,
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PlanParts(tt.size, tt.partSize)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPlanParts_RangesCoverFileExactly(t *testing.T) {
	sizes := []int64{1, 99, 1024, 4*1024*1024 - 1, 4 * 1024 * 1024, 4*1024*1024 + 1, 37 * 1024 * 1024}
	partSizes := []int64{1, 1000, 4 * 1024 * 1024, 8 * 1024 * 1024}

	for _, size := range sizes {
		for _, partSize := range partSizes {
			parts, err := PlanParts(size, partSize)
			require.NoError(t, err)

			wantCount := int((size + partSize - 1) / partSize)
			require.Len(t, parts, wantCount, "size=%d partSize=%d", size, partSize)

			var offset int64
			var total int64
			for i, part := range parts {
				assert.Equal(t, i+1, part.Number)
				assert.Equal(t, offset, part.Offset, "parts must be contiguous")
				if i < len(parts)-1 {
					assert.Equal(t, partSize, part.Size, "only the last part may be short")
				}
				offset += part.Size
				total += part.Size
			}
			assert.Equal(t, size, total, "parts must cover the whole file")
		}
	}
}
