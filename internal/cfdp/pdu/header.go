// Package pdu implements the CCSDS 727.0-B-4 CFDP PDU wire encoding this
// engine consumes and produces: big-endian multi-byte integers, variable
// width (1-8 byte) entity IDs and sequence numbers, and a large-file header
// bit that selects 32- or 64-bit file offsets — the codec always picks the
// width from the header it is decoding, never from a compile-time default.
package pdu

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrUnderrun          = errors.New("pdu: buffer underrun")
	ErrBadType           = errors.New("pdu: unrecognized directive code")
	ErrLargeFileMismatch = errors.New("pdu: offset/size field width does not match large_file bit")
	ErrBadWidth          = errors.New("pdu: entity-id/sequence-number width out of range (1-8)")
)

// Direction is the CFDP header "direction" bit.
type Direction uint8

const (
	DirTowardReceiver Direction = 0
	DirTowardSender   Direction = 1
)

// Mode is the CFDP transmission mode bit.
type Mode uint8

const (
	ModeAcknowledged   Mode = 0 // Class 2
	ModeUnacknowledged Mode = 1 // Class 1
)

// Kind tags the decoded payload union.
type Kind uint8

const (
	KindFileData Kind = iota
	KindMD
	KindEOF
	KindFIN
	KindACK
	KindNAK
	KindKeepalive
	KindPrompt
)

func (k Kind) String() string {
	switch k {
	case KindFileData:
		return "FD"
	case KindMD:
		return "MD"
	case KindEOF:
		return "EOF"
	case KindFIN:
		return "FIN"
	case KindACK:
		return "ACK"
	case KindNAK:
		return "NAK"
	case KindKeepalive:
		return "Keepalive"
	case KindPrompt:
		return "Prompt"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// directiveCode is the CFDP file-directive codepoint occupying the first
// octet after the header for every non-file-data PDU.
type directiveCode uint8

const (
	dcEOF       directiveCode = 0x04
	dcFIN       directiveCode = 0x05
	dcACK       directiveCode = 0x06
	dcMD        directiveCode = 0x07
	dcNAK       directiveCode = 0x08
	dcPrompt    directiveCode = 0x09
	dcKeepalive directiveCode = 0x0C
)

const headerVersion = 0x1

// Header is the fixed CFDP PDU header, decoded faithfully per spec.md §4.3:
// entity-id and sequence-number widths travel on the wire (1-8 bytes each),
// and LargeFile selects whether offsets/file sizes in the payload are
// 32-bit or 64-bit.
type Header struct {
	Direction   Direction
	Mode        Mode
	CRCFlag     bool
	LargeFile   bool
	EIDWidth    uint8 // bytes, 1-8
	SeqWidth    uint8 // bytes, 1-8
	SourceEID   uint64
	DestEID     uint64
	Seq         uint64
}

func validWidth(w uint8) bool { return w >= 1 && w <= 8 }

func putVar(buf []byte, width uint8, v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	copy(buf, tmp[8-int(width):])
}

func getVar(buf []byte, width uint8) uint64 {
	var tmp [8]byte
	copy(tmp[8-int(width):], buf[:width])
	return binary.BigEndian.Uint64(tmp[:])
}

// encodedLen returns the fixed header size in bytes for this header's
// configured EID/seq widths.
func (h Header) encodedLen() int {
	return 4 + int(h.EIDWidth)*2 + int(h.SeqWidth)
}

func (h Header) encode(isFileData bool, dataLen int) ([]byte, error) {
	if !validWidth(h.EIDWidth) || !validWidth(h.SeqWidth) {
		return nil, ErrBadWidth
	}
	buf := make([]byte, h.encodedLen())

	b0 := byte(headerVersion<<5) | byte(boolBit(isFileData)<<4) | byte(boolBit(bool(h.Direction == DirTowardSender))<<3) |
		byte(boolBit(bool(h.Mode == ModeUnacknowledged))<<2) | byte(boolBit(h.CRCFlag)<<1) | boolBit(h.LargeFile)
	buf[0] = b0

	binary.BigEndian.PutUint16(buf[1:3], uint16(dataLen))

	buf[3] = byte((h.EIDWidth-1)<<4) | byte(h.SeqWidth-1)

	off := 4
	putVar(buf[off:off+int(h.EIDWidth)], h.EIDWidth, h.SourceEID)
	off += int(h.EIDWidth)
	putVar(buf[off:off+int(h.SeqWidth)], h.SeqWidth, h.Seq)
	off += int(h.SeqWidth)
	putVar(buf[off:off+int(h.EIDWidth)], h.EIDWidth, h.DestEID)

	return buf, nil
}

func boolBit(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// decodeHeader parses the fixed header and returns it plus whether the PDU
// type bit indicates file data, the declared payload length, and the number
// of bytes consumed.
func decodeHeader(buf []byte) (h Header, isFileData bool, dataLen int, consumed int, err error) {
	if len(buf) < 4 {
		return Header{}, false, 0, 0, ErrUnderrun
	}
	b0 := buf[0]
	version := b0 >> 5
	if version != headerVersion {
		return Header{}, false, 0, 0, fmt.Errorf("%w: version %d", ErrBadType, version)
	}
	isFileData = (b0>>4)&1 == 1
	dir := Direction((b0 >> 3) & 1)
	mode := Mode((b0 >> 2) & 1)
	crcFlag := (b0>>1)&1 == 1
	largeFile := b0&1 == 1

	dataLen = int(binary.BigEndian.Uint16(buf[1:3]))

	eidW := uint8((buf[3]>>4)&0x0F) + 1
	seqW := uint8(buf[3]&0x0F) + 1
	if !validWidth(eidW) || !validWidth(seqW) {
		return Header{}, false, 0, 0, ErrBadWidth
	}

	need := 4 + int(eidW)*2 + int(seqW)
	if len(buf) < need {
		return Header{}, false, 0, 0, ErrUnderrun
	}

	off := 4
	srcEID := getVar(buf[off:], eidW)
	off += int(eidW)
	seq := getVar(buf[off:], seqW)
	off += int(seqW)
	destEID := getVar(buf[off:], eidW)
	off += int(eidW)

	h = Header{
		Direction: dir,
		Mode:      mode,
		CRCFlag:   crcFlag,
		LargeFile: largeFile,
		EIDWidth:  eidW,
		SeqWidth:  seqW,
		SourceEID: srcEID,
		DestEID:   destEID,
		Seq:       seq,
	}
	return h, isFileData, dataLen, off, nil
}

func offsetWidth(largeFile bool) int {
	if largeFile {
		return 8
	}
	return 4
}

func putOffset(buf []byte, largeFile bool, v uint64) int {
	w := offsetWidth(largeFile)
	if largeFile {
		binary.BigEndian.PutUint64(buf, v)
	} else {
		binary.BigEndian.PutUint32(buf, uint32(v))
	}
	return w
}

func getOffset(buf []byte, largeFile bool) (uint64, int, error) {
	w := offsetWidth(largeFile)
	if len(buf) < w {
		return 0, 0, ErrUnderrun
	}
	if largeFile {
		return binary.BigEndian.Uint64(buf[:8]), 8, nil
	}
	return uint64(binary.BigEndian.Uint32(buf[:4])), 4, nil
}
