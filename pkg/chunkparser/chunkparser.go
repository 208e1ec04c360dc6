// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package chunkparser walks a CMAF byte stream box by box so a caller can
// hand bytes onward the moment a complete init segment or media fragment
// has arrived, instead of waiting for the whole segment body.
package chunkparser

import (
	"encoding/binary"
	"io"
)

// BoxBoundaryParser scans a reader for top-level ISOBMFF box boundaries and
// invokes a callback once per complete init segment (ends at the close of a
// moov box) or media fragment (ends at the close of an mdat box).
type BoxBoundaryParser struct {
	r       io.Reader
	onChunk func(cd ChunkData) error
	buf     []byte
	readEnd int
}

// NewBoxBoundaryParser creates a parser reading from r, using buf as its
// scratch buffer (grown as needed; reclaim it between segments via
// GetBuffer to avoid reallocating).
func NewBoxBoundaryParser(r io.Reader, buf []byte, onChunk func(cd ChunkData) error) *BoxBoundaryParser {
	return &BoxBoundaryParser{
		r:       r,
		onChunk: onChunk,
		buf:     buf,
	}
}

// Parse reads box headers until the stream is exhausted, invoking onChunk
// once per moov (init segment) and once per complete mdat (fragment). A
// clean io.EOF at a box boundary is not reported as an error.
func (p *BoxBoundaryParser) Parse() error {
	boxType := ""
	nextBoxStart := uint32(0)
	mdatEnd := uint32(0)
	cd := ChunkData{
		Start:         0,
		IsInitSegment: false,
		Data:          nil,
	}
	for {
		if err := p.readUntil(int(nextBoxStart) + 8); err != nil {
			if err != io.EOF {
				return err
			}
			if p.readEnd > 0 {
				cd.Data = p.buf[:p.readEnd]
				if err := p.onChunk(cd); err != nil {
					return err
				}
			}
			return nil
		}
		size := binary.BigEndian.Uint32(p.buf[nextBoxStart : nextBoxStart+4])
		boxType = string(p.buf[nextBoxStart+4 : nextBoxStart+8])
		nextBoxStart += size
		switch boxType {
		case "moov":
			// An init segment ends with its moov box.
			cd.IsInitSegment = true
			mdatEnd = nextBoxStart
		case "mdat":
			mdatEnd = nextBoxStart
		}
		err := p.readUntil(int(nextBoxStart))
		if err != nil && err != io.EOF {
			return err
		}
		if mdatEnd == uint32(p.readEnd) {
			cd.Data = p.buf[:mdatEnd]
			if cbErr := p.onChunk(cd); cbErr != nil {
				return cbErr
			}
			cd.Start += mdatEnd
			cd.Data = nil
			cd.IsInitSegment = false
			copy(p.buf, p.buf[mdatEnd:p.readEnd])
			p.readEnd -= int(mdatEnd)
			nextBoxStart -= mdatEnd
			mdatEnd = 0
		}
		if err == io.EOF {
			if p.readEnd > 0 {
				cd.Data = p.buf[:p.readEnd]
				if err := p.onChunk(cd); err != nil {
					return err
				}
			}
			return nil
		}
	}
}

// GetBuffer returns the scratch buffer backing the parser, resized as
// needed during Parse, so a caller can reuse it across segments.
func (p *BoxBoundaryParser) GetBuffer() []byte {
	return p.buf
}

// readUntil fills the buffer up to readEnd, growing it if necessary.
func (p *BoxBoundaryParser) readUntil(readEnd int) error {
	if p.readEnd >= readEnd {
		return nil
	}
	for {
		if readEnd > len(p.buf) {
			grown := make([]byte, readEnd-len(p.buf)+1024)
			p.buf = append(p.buf, grown...)
		}
		n, err := p.r.Read(p.buf[p.readEnd:readEnd])
		p.readEnd += n
		if err != nil {
			return err
		}
		if p.readEnd >= readEnd {
			return nil
		}
	}
}

// ChunkData carries one emitted fragment or init segment. Start is the
// byte offset of Data within the overall segment stream.
type ChunkData struct {
	Start         uint32
	IsInitSegment bool
	Data          []byte
}
