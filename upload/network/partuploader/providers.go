package partuploader

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// FileProvider reads part ranges from a file on disk.
// Safe for parallel part reads: every part gets its own section reader.
type FileProvider struct {
	file *os.File
}

// NewFileProvider creates a Provider that reads from the file at path.
func NewFileProvider(path string) (*FileProvider, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	return &FileProvider{file: file}, nil
}

// ReadPart returns a reader over the part's byte range.
func (p *FileProvider) ReadPart(part Part) (io.Reader, error) {
	return io.NewSectionReader(p.file, part.Offset, part.Size), nil
}

// Close closes the underlying file.
func (p *FileProvider) Close() error {
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}

// BytesProvider serves parts from an in-memory buffer.
type BytesProvider struct {
	data []byte
}

// NewBytesProvider creates a Provider over data.
func NewBytesProvider(data []byte) *BytesProvider {
	return &BytesProvider{data: data}
}

// ReadPart returns a reader over the part's byte range.
func (p *BytesProvider) ReadPart(part Part) (io.Reader, error) {
	if part.Offset < 0 || part.Offset+part.Size > int64(len(p.data)) {
		return nil, fmt.Errorf("part %d range [%d, %d) out of bounds", part.Number, part.Offset, part.Offset+part.Size)
	}
	return bytes.NewReader(p.data[part.Offset : part.Offset+part.Size]), nil
}
