// Package pmtiles reads and writes PMTiles v3 archives: a fixed header, a
// root directory of Hilbert-ordered tile entries, JSON metadata and the tile
// data. Basemaps built by the gotiler package are read back through Reader
// when a detached surface draws its base image.
//
// Only gzip and uncompressed archives are supported.
//
// Format: https://github.com/protomaps/PMTiles/blob/main/spec/v3/spec.md
package pmtiles

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Compression is the compression applied to directories, metadata or tiles.
type Compression uint8

const (
	UnknownCompression Compression = 0
	NoCompression      Compression = 1
	Gzip               Compression = 2
	Brotli             Compression = 3
	Zstd               Compression = 4
)

// TileType is the format of tile contents.
type TileType uint8

const (
	UnknownTileType TileType = 0
	Mvt             TileType = 1
	Png             TileType = 2
	Jpeg            TileType = 3
	Webp            TileType = 4
	Avif            TileType = 5
)

// HeaderV3LenBytes is the size of the binary header.
const HeaderV3LenBytes = 127

var magic = []byte("PMTiles")

// ErrUnsupportedCompression is returned for brotli and zstd archives.
var ErrUnsupportedCompression = errors.New("pmtiles: unsupported compression")

// HeaderV3 is the archive header.
type HeaderV3 struct {
	SpecVersion         uint8
	RootOffset          uint64
	RootLength          uint64
	MetadataOffset      uint64
	MetadataLength      uint64
	LeafDirectoryOffset uint64
	LeafDirectoryLength uint64
	TileDataOffset      uint64
	TileDataLength      uint64
	AddressedTilesCount uint64
	TileEntriesCount    uint64
	TileContentsCount   uint64
	Clustered           bool
	InternalCompression Compression
	TileCompression     Compression
	TileType            TileType
	MinZoom             uint8
	MaxZoom             uint8
	MinLonE7            int32
	MinLatE7            int32
	MaxLonE7            int32
	MaxLatE7            int32
	CenterZoom          uint8
	CenterLonE7         int32
	CenterLatE7         int32
}

// u64 lists the eleven consecutive 64-bit header fields starting at byte 8.
func (h *HeaderV3) u64() []*uint64 {
	return []*uint64{
		&h.RootOffset, &h.RootLength,
		&h.MetadataOffset, &h.MetadataLength,
		&h.LeafDirectoryOffset, &h.LeafDirectoryLength,
		&h.TileDataOffset, &h.TileDataLength,
		&h.AddressedTilesCount, &h.TileEntriesCount, &h.TileContentsCount,
	}
}

// SerializeHeader encodes a header.
func SerializeHeader(h HeaderV3) []byte {
	b := make([]byte, HeaderV3LenBytes)
	copy(b, magic)
	b[7] = 3
	for i, p := range h.u64() {
		binary.LittleEndian.PutUint64(b[8+8*i:], *p)
	}
	if h.Clustered {
		b[96] = 1
	}
	b[97] = byte(h.InternalCompression)
	b[98] = byte(h.TileCompression)
	b[99] = byte(h.TileType)
	b[100] = h.MinZoom
	b[101] = h.MaxZoom
	le := binary.LittleEndian
	le.PutUint32(b[102:], uint32(h.MinLonE7))
	le.PutUint32(b[106:], uint32(h.MinLatE7))
	le.PutUint32(b[110:], uint32(h.MaxLonE7))
	le.PutUint32(b[114:], uint32(h.MaxLatE7))
	b[118] = h.CenterZoom
	le.PutUint32(b[119:], uint32(h.CenterLonE7))
	le.PutUint32(b[123:], uint32(h.CenterLatE7))
	return b
}

// DeserializeHeader decodes a header.
func DeserializeHeader(d []byte) (HeaderV3, error) {
	var h HeaderV3
	if len(d) < HeaderV3LenBytes {
		return h, fmt.Errorf("pmtiles: header is %d bytes, want %d", len(d), HeaderV3LenBytes)
	}
	if !bytes.Equal(d[:7], magic) {
		return h, errors.New("pmtiles: magic number not detected")
	}
	h.SpecVersion = d[7]
	if h.SpecVersion != 3 {
		return h, fmt.Errorf("pmtiles: spec version %d not supported", h.SpecVersion)
	}
	for i, p := range h.u64() {
		*p = binary.LittleEndian.Uint64(d[8+8*i:])
	}
	h.Clustered = d[96] == 1
	h.InternalCompression = Compression(d[97])
	h.TileCompression = Compression(d[98])
	h.TileType = TileType(d[99])
	h.MinZoom = d[100]
	h.MaxZoom = d[101]
	i32 := func(off int) int32 { return int32(binary.LittleEndian.Uint32(d[off:])) }
	h.MinLonE7 = i32(102)
	h.MinLatE7 = i32(106)
	h.MaxLonE7 = i32(110)
	h.MaxLatE7 = i32(114)
	h.CenterZoom = d[118]
	h.CenterLonE7 = i32(119)
	h.CenterLatE7 = i32(123)
	return h, nil
}

// compress encodes data with c.
func compress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case NoCompression:
		return data, nil
	case Gzip:
		var b bytes.Buffer
		w, err := gzip.NewWriterLevel(&b, gzip.BestCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return b.Bytes(), nil
	default:
		return nil, ErrUnsupportedCompression
	}
}

// decompress decodes data compressed with c.
func decompress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case NoCompression, UnknownCompression:
		return data, nil
	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, ErrUnsupportedCompression
	}
}
