package pdu

import (
	"fmt"
)

// Encode serializes a Logical PDU into its wire form.
func Encode(p *PDU) ([]byte, error) {
	var body []byte
	var isFileData bool
	var dc directiveCode
	var err error

	switch p.Kind {
	case KindFileData:
		isFileData = true
		body, err = encodeFD(p.FD, p.Header.LargeFile)
	case KindMD:
		dc = dcMD
		body, err = encodeMD(p.MD, p.Header.LargeFile)
	case KindEOF:
		dc = dcEOF
		body, err = encodeEOF(p.EOF, p.Header.LargeFile)
	case KindFIN:
		dc = dcFIN
		body, err = encodeFIN(p.FIN)
	case KindACK:
		dc = dcACK
		body, err = encodeACK(p.ACK)
	case KindNAK:
		dc = dcNAK
		body, err = encodeNAK(p.NAK, p.Header.LargeFile)
	case KindKeepalive:
		dc = dcKeepalive
		body, err = encodeKeepalive(p.KeepAlive, p.Header.LargeFile)
	case KindPrompt:
		dc = dcPrompt
		body, err = encodePrompt(p.Prompt)
	default:
		return nil, fmt.Errorf("%w: kind %v", ErrBadType, p.Kind)
	}
	if err != nil {
		return nil, err
	}
	if !isFileData {
		body = append([]byte{byte(dc)}, body...)
	}

	hdr, err := p.Header.encode(isFileData, len(body))
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(hdr)+len(body))
	out = append(out, hdr...)
	out = append(out, body...)
	return out, nil
}

// Decode parses a wire buffer into a Logical PDU.
func Decode(buf []byte) (*PDU, error) {
	h, isFileData, dataLen, consumed, err := decodeHeader(buf)
	if err != nil {
		return nil, err
	}
	rest := buf[consumed:]
	if len(rest) < dataLen {
		return nil, ErrUnderrun
	}
	body := rest[:dataLen]

	p := &PDU{Header: h}

	if isFileData {
		fd, err := decodeFD(body, h.LargeFile)
		if err != nil {
			return nil, err
		}
		p.Kind = KindFileData
		p.FD = fd
		return p, nil
	}

	if len(body) < 1 {
		return nil, ErrUnderrun
	}
	dc := directiveCode(body[0])
	rest2 := body[1:]

	switch dc {
	case dcMD:
		md, err := decodeMD(rest2, h.LargeFile)
		if err != nil {
			return nil, err
		}
		p.Kind = KindMD
		p.MD = md
	case dcEOF:
		eof, err := decodeEOF(rest2, h.LargeFile)
		if err != nil {
			return nil, err
		}
		p.Kind = KindEOF
		p.EOF = eof
	case dcFIN:
		fin, err := decodeFIN(rest2)
		if err != nil {
			return nil, err
		}
		p.Kind = KindFIN
		p.FIN = fin
	case dcACK:
		ack, err := decodeACK(rest2)
		if err != nil {
			return nil, err
		}
		p.Kind = KindACK
		p.ACK = ack
	case dcNAK:
		nak, err := decodeNAK(rest2, h.LargeFile)
		if err != nil {
			return nil, err
		}
		p.Kind = KindNAK
		p.NAK = nak
	case dcKeepalive:
		ka, err := decodeKeepalive(rest2, h.LargeFile)
		if err != nil {
			return nil, err
		}
		p.Kind = KindKeepalive
		p.KeepAlive = ka
	case dcPrompt:
		pr, err := decodePrompt(rest2)
		if err != nil {
			return nil, err
		}
		p.Kind = KindPrompt
		p.Prompt = pr
	default:
		return nil, fmt.Errorf("%w: directive 0x%02x", ErrBadType, dc)
	}
	return p, nil
}

// --- FD ---

func encodeFD(fd *FileDataPDU, largeFile bool) ([]byte, error) {
	w := offsetWidth(largeFile)
	out := make([]byte, w+len(fd.Data))
	putOffset(out, largeFile, fd.Offset)
	copy(out[w:], fd.Data)
	return out, nil
}

func decodeFD(body []byte, largeFile bool) (*FileDataPDU, error) {
	off, n, err := getOffset(body, largeFile)
	if err != nil {
		return nil, err
	}
	data := make([]byte, len(body)-n)
	copy(data, body[n:])
	return &FileDataPDU{Offset: off, Data: data}, nil
}

// --- MD ---

func encodeMD(md *MetadataPDU, largeFile bool) ([]byte, error) {
	w := offsetWidth(largeFile)
	buf := make([]byte, 0, 2+w+1+len(md.SourceFileName)+1+len(md.DestFileName)+tlvLen(md.Options))

	b0 := byte(0)
	if md.ClosureRequested {
		b0 |= 0x80
	}
	buf = append(buf, b0, byte(md.ChecksumType))

	sizeBuf := make([]byte, w)
	putOffset(sizeBuf, largeFile, md.FileSize)
	buf = append(buf, sizeBuf...)

	buf = appendLVString(buf, md.SourceFileName)
	buf = appendLVString(buf, md.DestFileName)
	buf = appendTLVs(buf, md.Options)
	return buf, nil
}

func decodeMD(body []byte, largeFile bool) (*MetadataPDU, error) {
	if len(body) < 2 {
		return nil, ErrUnderrun
	}
	closure := body[0]&0x80 != 0
	checksumType := ChecksumType(body[1])
	rest := body[2:]

	size, n, err := getOffset(rest, largeFile)
	if err != nil {
		return nil, err
	}
	rest = rest[n:]

	src, rest, err := readLVString(rest)
	if err != nil {
		return nil, err
	}
	dst, rest, err := readLVString(rest)
	if err != nil {
		return nil, err
	}
	opts, err := readTLVs(rest)
	if err != nil {
		return nil, err
	}

	return &MetadataPDU{
		ClosureRequested: closure,
		ChecksumType:     checksumType,
		FileSize:         size,
		SourceFileName:   src,
		DestFileName:     dst,
		Options:          opts,
	}, nil
}

// --- EOF ---

func encodeEOF(e *EOFPDU, largeFile bool) ([]byte, error) {
	w := offsetWidth(largeFile)
	if len(e.Checksum) > 255 {
		return nil, fmt.Errorf("pdu: EOF checksum too long")
	}
	buf := make([]byte, 0, 2+len(e.Checksum)+w)
	buf = append(buf, e.ConditionCode, byte(len(e.Checksum)))
	buf = append(buf, e.Checksum...)
	sizeBuf := make([]byte, w)
	putOffset(sizeBuf, largeFile, e.FileSize)
	buf = append(buf, sizeBuf...)
	return buf, nil
}

func decodeEOF(body []byte, largeFile bool) (*EOFPDU, error) {
	if len(body) < 2 {
		return nil, ErrUnderrun
	}
	cc := body[0]
	clen := int(body[1])
	rest := body[2:]
	if len(rest) < clen {
		return nil, ErrUnderrun
	}
	checksum := make([]byte, clen)
	copy(checksum, rest[:clen])
	rest = rest[clen:]

	size, _, err := getOffset(rest, largeFile)
	if err != nil {
		return nil, err
	}
	return &EOFPDU{ConditionCode: cc, Checksum: checksum, FileSize: size}, nil
}

// --- FIN ---

func encodeFIN(f *FinishedPDU) ([]byte, error) {
	b0 := byte(0)
	if f.DeliveryComplete {
		b0 |= 0x80
	}
	b0 |= f.FileStatus & 0x03
	buf := make([]byte, 0, 2+tlvLen(f.Options))
	buf = append(buf, b0, f.ConditionCode)
	buf = appendTLVs(buf, f.Options)
	return buf, nil
}

func decodeFIN(body []byte) (*FinishedPDU, error) {
	if len(body) < 2 {
		return nil, ErrUnderrun
	}
	delivery := body[0]&0x80 != 0
	status := body[0] & 0x03
	cc := body[1]
	opts, err := readTLVs(body[2:])
	if err != nil {
		return nil, err
	}
	return &FinishedPDU{ConditionCode: cc, DeliveryComplete: delivery, FileStatus: status, Options: opts}, nil
}

// --- ACK ---

func encodeACK(a *AckPDU) ([]byte, error) {
	b0 := byte(0)
	if a.Directive == AckOfFIN {
		b0 |= 0x80
	}
	return []byte{b0, a.ConditionCode}, nil
}

func decodeACK(body []byte) (*AckPDU, error) {
	if len(body) < 2 {
		return nil, ErrUnderrun
	}
	dir := AckOfEOF
	if body[0]&0x80 != 0 {
		dir = AckOfFIN
	}
	return &AckPDU{Directive: dir, ConditionCode: body[1]}, nil
}

// --- NAK ---

func encodeNAK(n *NakPDU, largeFile bool) ([]byte, error) {
	w := offsetWidth(largeFile)
	buf := make([]byte, 0, 2*w+len(n.Segments)*2*w)
	scopeBuf := make([]byte, w)
	putOffset(scopeBuf, largeFile, n.ScopeStart)
	buf = append(buf, scopeBuf...)
	putOffset(scopeBuf, largeFile, n.ScopeEnd)
	buf = append(buf, scopeBuf...)
	for _, seg := range n.Segments {
		sb := make([]byte, w)
		putOffset(sb, largeFile, seg.Start)
		buf = append(buf, sb...)
		putOffset(sb, largeFile, seg.End)
		buf = append(buf, sb...)
	}
	return buf, nil
}

func decodeNAK(body []byte, largeFile bool) (*NakPDU, error) {
	w := offsetWidth(largeFile)
	if len(body) < 2*w {
		return nil, ErrUnderrun
	}
	start, _, err := getOffset(body, largeFile)
	if err != nil {
		return nil, err
	}
	end, _, err := getOffset(body[w:], largeFile)
	if err != nil {
		return nil, err
	}
	rest := body[2*w:]
	if len(rest)%(2*w) != 0 {
		return nil, ErrUnderrun
	}
	segs := make([]SegmentRequest, 0, len(rest)/(2*w))
	for off := 0; off < len(rest); off += 2 * w {
		s, _, err := getOffset(rest[off:], largeFile)
		if err != nil {
			return nil, err
		}
		e, _, err := getOffset(rest[off+w:], largeFile)
		if err != nil {
			return nil, err
		}
		segs = append(segs, SegmentRequest{Start: s, End: e})
	}
	return &NakPDU{ScopeStart: start, ScopeEnd: end, Segments: segs}, nil
}

// --- Keepalive ---

func encodeKeepalive(k *KeepAlivePDU, largeFile bool) ([]byte, error) {
	w := offsetWidth(largeFile)
	buf := make([]byte, w)
	putOffset(buf, largeFile, k.Progress)
	return buf, nil
}

func decodeKeepalive(body []byte, largeFile bool) (*KeepAlivePDU, error) {
	p, _, err := getOffset(body, largeFile)
	if err != nil {
		return nil, err
	}
	return &KeepAlivePDU{Progress: p}, nil
}

// --- Prompt ---

func encodePrompt(p *PromptPDU) ([]byte, error) {
	return []byte{byte(p.ResponseRequired)}, nil
}

func decodePrompt(body []byte) (*PromptPDU, error) {
	if len(body) < 1 {
		return nil, ErrUnderrun
	}
	return &PromptPDU{ResponseRequired: PromptResponse(body[0])}, nil
}

// --- shared LV-string / TLV helpers ---

func appendLVString(buf []byte, s string) []byte {
	buf = append(buf, byte(len(s)))
	return append(buf, s...)
}

func readLVString(buf []byte) (string, []byte, error) {
	if len(buf) < 1 {
		return "", nil, ErrUnderrun
	}
	n := int(buf[0])
	if len(buf) < 1+n {
		return "", nil, ErrUnderrun
	}
	return string(buf[1 : 1+n]), buf[1+n:], nil
}

func tlvLen(opts []TLV) int {
	n := 0
	for _, o := range opts {
		n += 2 + len(o.Value)
	}
	return n
}

func appendTLVs(buf []byte, opts []TLV) []byte {
	for _, o := range opts {
		buf = append(buf, o.Tag, byte(len(o.Value)))
		buf = append(buf, o.Value...)
	}
	return buf
}

func readTLVs(buf []byte) ([]TLV, error) {
	var out []TLV
	for len(buf) > 0 {
		if len(buf) < 2 {
			return nil, ErrUnderrun
		}
		tag := buf[0]
		n := int(buf[1])
		if len(buf) < 2+n {
			return nil, ErrUnderrun
		}
		val := make([]byte, n)
		copy(val, buf[2:2+n])
		out = append(out, TLV{Tag: tag, Value: val})
		buf = buf[2+n:]
	}
	return out, nil
}
