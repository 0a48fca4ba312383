package pmtiles

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// EntryV3 is a directory entry. RunLength 0 marks a leaf directory pointer;
// otherwise the entry covers RunLength consecutive tile ids sharing one blob.
type EntryV3 struct {
	TileID    uint64
	Offset    uint64
	Length    uint32
	RunLength uint32
}

// ZxyToID converts tile coordinates to a Hilbert tile id.
func ZxyToID(z uint8, x, y uint32) uint64 {
	acc := (uint64(1)<<(2*uint64(z)) - 1) / 3
	for s := uint32(1) << z >> 1; s > 0; s >>= 1 {
		rx := uint32(0)
		if x&s != 0 {
			rx = 1
		}
		ry := uint32(0)
		if y&s != 0 {
			ry = 1
		}
		acc += uint64(s) * uint64(s) * uint64((3*rx)^ry)
		x, y = hilbertRotate(s, x, y, rx, ry)
	}
	return acc
}

func hilbertRotate(n, x, y, rx, ry uint32) (uint32, uint32) {
	if ry == 0 {
		if rx == 1 {
			x = n - 1 - x
			y = n - 1 - y
		}
		return y, x
	}
	return x, y
}

// SerializeEntries encodes a directory: count, delta-coded ids, run
// lengths, lengths, then offsets (0 meaning "directly after the previous").
func SerializeEntries(entries []EntryV3, c Compression) ([]byte, error) {
	var raw bytes.Buffer
	tmp := make([]byte, binary.MaxVarintLen64)
	put := func(v uint64) {
		n := binary.PutUvarint(tmp, v)
		raw.Write(tmp[:n])
	}

	put(uint64(len(entries)))
	last := uint64(0)
	for _, e := range entries {
		put(e.TileID - last)
		last = e.TileID
	}
	for _, e := range entries {
		put(uint64(e.RunLength))
	}
	for _, e := range entries {
		put(uint64(e.Length))
	}
	for i, e := range entries {
		if i > 0 && e.Offset == entries[i-1].Offset+uint64(entries[i-1].Length) {
			put(0)
		} else {
			put(e.Offset + 1)
		}
	}
	return compress(raw.Bytes(), c)
}

// DeserializeEntries decodes a directory written by SerializeEntries.
func DeserializeEntries(data []byte, c Compression) ([]EntryV3, error) {
	raw, err := decompress(data, c)
	if err != nil {
		return nil, fmt.Errorf("pmtiles: directory: %w", err)
	}
	r := bufio.NewReader(bytes.NewReader(raw))
	get := func() (uint64, error) { return binary.ReadUvarint(r) }

	n, err := get()
	if err != nil {
		return nil, fmt.Errorf("pmtiles: directory count: %w", err)
	}
	if n > uint64(len(raw)) {
		return nil, fmt.Errorf("pmtiles: directory claims %d entries in %d bytes", n, len(raw))
	}
	entries := make([]EntryV3, n)

	last := uint64(0)
	for i := range entries {
		d, err := get()
		if err != nil {
			return nil, fmt.Errorf("pmtiles: directory ids: %w", err)
		}
		last += d
		entries[i].TileID = last
	}
	for i := range entries {
		v, err := get()
		if err != nil {
			return nil, fmt.Errorf("pmtiles: directory run lengths: %w", err)
		}
		entries[i].RunLength = uint32(v)
	}
	for i := range entries {
		v, err := get()
		if err != nil {
			return nil, fmt.Errorf("pmtiles: directory lengths: %w", err)
		}
		entries[i].Length = uint32(v)
	}
	for i := range entries {
		v, err := get()
		if err != nil {
			return nil, fmt.Errorf("pmtiles: directory offsets: %w", err)
		}
		if v == 0 && i > 0 {
			entries[i].Offset = entries[i-1].Offset + uint64(entries[i-1].Length)
		} else {
			entries[i].Offset = v - 1
		}
	}
	return entries, nil
}

// FindTile returns the entry covering id: an exact tile run, or the leaf
// directory that may contain it.
func FindTile(entries []EntryV3, id uint64) (EntryV3, bool) {
	// First entry with TileID > id; the candidate is the one before it.
	i := sort.Search(len(entries), func(i int) bool { return entries[i].TileID > id })
	if i == 0 {
		return EntryV3{}, false
	}
	e := entries[i-1]
	if e.RunLength == 0 {
		return e, true
	}
	if id-e.TileID < uint64(e.RunLength) {
		return e, true
	}
	return EntryV3{}, false
}
