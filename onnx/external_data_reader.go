package onnx

import (
	"io"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/exp/mmap"
)

// externalDataReader serves the contents of tensors stored outside the model file. Files
// are memory-mapped once and shared by all tensors pointing to them.
type externalDataReader struct {
	baseDir string

	mu       sync.Mutex
	mappings map[string]*mmap.ReaderAt
}

func newExternalDataReader(baseDir string) *externalDataReader {
	return &externalDataReader{baseDir: baseDir, mappings: make(map[string]*mmap.ReaderAt)}
}

func (r *externalDataReader) mapping(location string) (*mmap.ReaderAt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reader, found := r.mappings[location]; found {
		return reader, nil
	}
	if filepath.IsAbs(location) || !filepath.IsLocal(location) {
		return nil, errors.Errorf("external data location %q must be relative to the model directory", location)
	}
	path := filepath.Join(r.baseDir, location)
	reader, err := mmap.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to mmap external data file %q", path)
	}
	r.mappings[location] = reader
	return reader, nil
}

// read returns numBytes bytes of the tensor described by info.
func (r *externalDataReader) read(info *externalDataInfo, numBytes int) ([]byte, error) {
	if r.baseDir == "" {
		return nil, errors.New("base directory is required for reading external data")
	}
	if info.length > 0 && info.length != int64(numBytes) {
		return nil, errors.Errorf("external data length %d doesn't match tensor size of %d bytes", info.length, numBytes)
	}
	reader, err := r.mapping(info.location)
	if err != nil {
		return nil, err
	}
	dst := make([]byte, numBytes)
	n, err := reader.ReadAt(dst, info.offset)
	if err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "failed to read %d bytes at offset %d from external data file %q",
			numBytes, info.offset, info.location)
	}
	if n != numBytes {
		return nil, errors.Errorf("read %d bytes but expected %d from external data file %q", n, numBytes, info.location)
	}
	return dst, nil
}

// Close unmaps all files.
func (r *externalDataReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for location, reader := range r.mappings {
		if err := reader.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "failed to close mmap for %q", location)
		}
	}
	r.mappings = make(map[string]*mmap.ReaderAt)
	return firstErr
}
