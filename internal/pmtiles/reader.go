package pmtiles

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// maxLeafDepth bounds directory recursion in corrupt archives.
const maxLeafDepth = 4

// Reader serves tiles from an archive. It is safe for concurrent use.
type Reader struct {
	ra     io.ReaderAt
	closer io.Closer
	header HeaderV3
	root   []EntryV3

	mu     sync.Mutex
	leaves map[uint64][]EntryV3
}

// Open opens an archive file.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pmtiles: %w", err)
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewReader reads the header and root directory from ra.
func NewReader(ra io.ReaderAt) (*Reader, error) {
	buf := make([]byte, HeaderV3LenBytes)
	if _, err := ra.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("pmtiles: reading header: %w", err)
	}
	h, err := DeserializeHeader(buf)
	if err != nil {
		return nil, err
	}
	r := &Reader{ra: ra, header: h, leaves: make(map[uint64][]EntryV3)}
	if r.root, err = r.directory(h.RootOffset, h.RootLength); err != nil {
		return nil, fmt.Errorf("pmtiles: root directory: %w", err)
	}
	return r, nil
}

// Header returns the archive header.
func (r *Reader) Header() HeaderV3 { return r.header }

// Metadata decodes the JSON metadata.
func (r *Reader) Metadata() (map[string]any, error) {
	raw, err := r.read(r.header.MetadataOffset, r.header.MetadataLength)
	if err != nil {
		return nil, err
	}
	data, err := decompress(raw, r.header.InternalCompression)
	if err != nil {
		return nil, fmt.Errorf("pmtiles: metadata: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("pmtiles: metadata: %w", err)
	}
	return m, nil
}

// Tile returns the decompressed tile at z/x/y. ok is false when the archive
// has no such tile.
func (r *Reader) Tile(z uint8, x, y uint32) (data []byte, ok bool, err error) {
	if z < r.header.MinZoom || z > r.header.MaxZoom {
		return nil, false, nil
	}
	id := ZxyToID(z, x, y)
	dir := r.root
	for depth := 0; depth <= maxLeafDepth; depth++ {
		e, found := FindTile(dir, id)
		if !found {
			return nil, false, nil
		}
		if e.RunLength > 0 {
			raw, err := r.read(r.header.TileDataOffset+e.Offset, uint64(e.Length))
			if err != nil {
				return nil, false, err
			}
			data, err := decompress(raw, r.header.TileCompression)
			if err != nil {
				return nil, false, fmt.Errorf("pmtiles: tile %d/%d/%d: %w", z, x, y, err)
			}
			return data, true, nil
		}
		if dir, err = r.leaf(e); err != nil {
			return nil, false, err
		}
	}
	return nil, false, errors.New("pmtiles: leaf directories nested too deep")
}

// Close releases the file opened by Open.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

func (r *Reader) leaf(e EntryV3) ([]EntryV3, error) {
	off := r.header.LeafDirectoryOffset + e.Offset
	r.mu.Lock()
	dir, ok := r.leaves[off]
	r.mu.Unlock()
	if ok {
		return dir, nil
	}
	dir, err := r.directory(off, uint64(e.Length))
	if err != nil {
		return nil, fmt.Errorf("pmtiles: leaf directory: %w", err)
	}
	r.mu.Lock()
	r.leaves[off] = dir
	r.mu.Unlock()
	return dir, nil
}

func (r *Reader) directory(off, n uint64) ([]EntryV3, error) {
	raw, err := r.read(off, n)
	if err != nil {
		return nil, err
	}
	return DeserializeEntries(raw, r.header.InternalCompression)
}

func (r *Reader) read(off, n uint64) ([]byte, error) {
	buf := make([]byte, n)
	got, err := r.ra.ReadAt(buf, int64(off))
	if err != nil && !(errors.Is(err, io.EOF) && uint64(got) == n) {
		return nil, fmt.Errorf("pmtiles: reading %d bytes at %d: %w", n, off, err)
	}
	return buf, nil
}
