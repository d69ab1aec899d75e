package engine

import "encoding/binary"

// stdcopy frame layout: one byte stream type, three reserved bytes, then a
// big-endian uint32 payload length followed by that many payload bytes.
const frameHeaderLen = 8

// DemuxFrames flattens a multiplexed stdout/stderr stream into one buffer,
// concatenating payloads in wire order regardless of stream type. A header
// that declares more bytes than remain is treated as a clean truncation:
// the bytes that are present are kept and decoding stops.
func DemuxFrames(stream []byte) []byte {
	var out []byte
	for len(stream) >= frameHeaderLen {
		size := int(binary.BigEndian.Uint32(stream[4:frameHeaderLen]))
		stream = stream[frameHeaderLen:]
		if size > len(stream) {
			out = append(out, stream...)
			break
		}
		out = append(out, stream[:size]...)
		stream = stream[size:]
	}
	return out
}
