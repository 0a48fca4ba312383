package pmtiles

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/paulmach/orb"
)

// Archive is the content of an archive to write. Tiles are keyed by tile id
// and already compressed with TileCompression.
type Archive struct {
	Tiles           map[uint64][]byte
	Metadata        map[string]any
	TileType        TileType
	TileCompression Compression
	MinZoom         uint8
	MaxZoom         uint8
	Bounds          orb.Bound
}

// Write encodes a clustered archive with a single gzip root directory.
// Identical tile blobs are stored once.
func Write(w io.Writer, a Archive) error {
	if len(a.Tiles) == 0 {
		return fmt.Errorf("pmtiles: no tiles to write")
	}
	ids := make([]uint64, 0, len(a.Tiles))
	for id := range a.Tiles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var (
		entries []EntryV3
		blobs   [][]byte
		offset  uint64
		seen    = make(map[string]uint64)
	)
	for _, id := range ids {
		data := a.Tiles[id]
		off, dup := seen[string(data)]
		if !dup {
			off = offset
			seen[string(data)] = off
			blobs = append(blobs, data)
			offset += uint64(len(data))
		}
		// Extend the previous run when this id repeats its blob.
		if n := len(entries); n > 0 {
			prev := &entries[n-1]
			if prev.Offset == off && prev.TileID+uint64(prev.RunLength) == id {
				prev.RunLength++
				continue
			}
		}
		entries = append(entries, EntryV3{TileID: id, Offset: off, Length: uint32(len(data)), RunLength: 1})
	}

	root, err := SerializeEntries(entries, Gzip)
	if err != nil {
		return fmt.Errorf("pmtiles: root directory: %w", err)
	}
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("pmtiles: metadata: %w", err)
	}
	if meta, err = compress(meta, Gzip); err != nil {
		return fmt.Errorf("pmtiles: metadata: %w", err)
	}

	tc := a.TileCompression
	if tc == UnknownCompression {
		tc = NoCompression
	}
	h := HeaderV3{
		SpecVersion:         3,
		RootOffset:          HeaderV3LenBytes,
		RootLength:          uint64(len(root)),
		AddressedTilesCount: uint64(len(ids)),
		TileEntriesCount:    uint64(len(entries)),
		TileContentsCount:   uint64(len(blobs)),
		Clustered:           true,
		InternalCompression: Gzip,
		TileCompression:     tc,
		TileType:            a.TileType,
		MinZoom:             a.MinZoom,
		MaxZoom:             a.MaxZoom,
		MinLonE7:            e7(a.Bounds.Min.Lon()),
		MinLatE7:            e7(a.Bounds.Min.Lat()),
		MaxLonE7:            e7(a.Bounds.Max.Lon()),
		MaxLatE7:            e7(a.Bounds.Max.Lat()),
		CenterZoom:          a.MinZoom,
		CenterLonE7:         e7(a.Bounds.Center().Lon()),
		CenterLatE7:         e7(a.Bounds.Center().Lat()),
	}
	h.MetadataOffset = h.RootOffset + h.RootLength
	h.MetadataLength = uint64(len(meta))
	h.LeafDirectoryOffset = h.MetadataOffset + h.MetadataLength
	h.TileDataOffset = h.LeafDirectoryOffset
	h.TileDataLength = offset

	for _, part := range append([][]byte{SerializeHeader(h), root, meta}, blobs...) {
		if _, err := w.Write(part); err != nil {
			return fmt.Errorf("pmtiles: write: %w", err)
		}
	}
	return nil
}

func e7(deg float64) int32 {
	return int32(math.Round(deg * 1e7))
}
