package pdu

import (
	"bytes"
	"reflect"
	"testing"
)

func baseHeader(eidW, seqW uint8, largeFile bool) Header {
	return Header{
		Direction: DirTowardReceiver,
		Mode:      ModeAcknowledged,
		CRCFlag:   true,
		LargeFile: largeFile,
		EIDWidth:  eidW,
		SeqWidth:  seqW,
		SourceEID: 0x11,
		DestEID:   0x22,
		Seq:       0x33,
	}
}

func roundTrip(t *testing.T, p *PDU) *PDU {
	t.Helper()
	enc, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	dec, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return dec
}

func TestCodec_RoundTrip_FD_SmallFile(t *testing.T) {
	p := &PDU{
		Header: baseHeader(1, 2, false),
		Kind:   KindFileData,
		FD:     &FileDataPDU{Offset: 4096, Data: []byte("hello world")},
	}
	dec := roundTrip(t, p)
	if !reflect.DeepEqual(p.FD, dec.FD) {
		t.Errorf("FD mismatch: got %+v want %+v", dec.FD, p.FD)
	}
	if dec.Header != p.Header {
		t.Errorf("header mismatch: got %+v want %+v", dec.Header, p.Header)
	}
}

func TestCodec_RoundTrip_FD_LargeFile(t *testing.T) {
	p := &PDU{
		Header: baseHeader(8, 8, true),
		Kind:   KindFileData,
		FD:     &FileDataPDU{Offset: 1 << 40, Data: []byte{1, 2, 3, 4, 5}},
	}
	dec := roundTrip(t, p)
	if !reflect.DeepEqual(p.FD, dec.FD) {
		t.Errorf("FD mismatch: got %+v want %+v", dec.FD, p.FD)
	}
}

func TestCodec_RoundTrip_FD_EmptyData(t *testing.T) {
	p := &PDU{
		Header: baseHeader(2, 2, false),
		Kind:   KindFileData,
		FD:     &FileDataPDU{Offset: 0, Data: []byte{}},
	}
	dec := roundTrip(t, p)
	if dec.FD.Offset != 0 || len(dec.FD.Data) != 0 {
		t.Errorf("expected empty FD, got %+v", dec.FD)
	}
}

func TestCodec_RoundTrip_MD(t *testing.T) {
	p := &PDU{
		Header: baseHeader(4, 2, true),
		Kind:   KindMD,
		MD: &MetadataPDU{
			ClosureRequested: true,
			ChecksumType:     ChecksumBLAKE3,
			FileSize:         123456789,
			SourceFileName:   "image.raw",
			DestFileName:     "/vol0/image.raw",
			Options: []TLV{
				{Tag: 0x01, Value: []byte("vendor-opt")},
				{Tag: 0x02, Value: []byte{}},
			},
		},
	}
	dec := roundTrip(t, p)
	if !reflect.DeepEqual(p.MD, dec.MD) {
		t.Errorf("MD mismatch:\n got  %+v\n want %+v", dec.MD, p.MD)
	}
}

func TestCodec_RoundTrip_MD_NoOptions(t *testing.T) {
	p := &PDU{
		Header: baseHeader(1, 1, false),
		Kind:   KindMD,
		MD: &MetadataPDU{
			ChecksumType:   ChecksumCRC32,
			FileSize:       0,
			SourceFileName: "",
			DestFileName:   "",
		},
	}
	dec := roundTrip(t, p)
	if dec.MD.FileSize != 0 || dec.MD.SourceFileName != "" || len(dec.MD.Options) != 0 {
		t.Errorf("unexpected MD: %+v", dec.MD)
	}
}

func TestCodec_RoundTrip_EOF(t *testing.T) {
	p := &PDU{
		Header: baseHeader(2, 4, false),
		Kind:   KindEOF,
		EOF: &EOFPDU{
			ConditionCode: 0,
			Checksum:      []byte{0xDE, 0xAD, 0xBE, 0xEF},
			FileSize:      987654,
		},
	}
	dec := roundTrip(t, p)
	if !reflect.DeepEqual(p.EOF, dec.EOF) {
		t.Errorf("EOF mismatch: got %+v want %+v", dec.EOF, p.EOF)
	}
}

func TestCodec_RoundTrip_EOF_LargeFileBLAKE3Checksum(t *testing.T) {
	checksum := bytes.Repeat([]byte{0xAB}, 32)
	p := &PDU{
		Header: baseHeader(8, 8, true),
		Kind:   KindEOF,
		EOF: &EOFPDU{
			ConditionCode: 1,
			Checksum:      checksum,
			FileSize:      1 << 41,
		},
	}
	dec := roundTrip(t, p)
	if !reflect.DeepEqual(p.EOF, dec.EOF) {
		t.Errorf("EOF mismatch: got %+v want %+v", dec.EOF, p.EOF)
	}
}

func TestCodec_RoundTrip_FIN(t *testing.T) {
	p := &PDU{
		Header: baseHeader(1, 1, false),
		Kind:   KindFIN,
		FIN: &FinishedPDU{
			ConditionCode:    0,
			DeliveryComplete: true,
			FileStatus:       2,
			Options: []TLV{
				{Tag: 0x10, Value: []byte("fault")},
			},
		},
	}
	dec := roundTrip(t, p)
	if !reflect.DeepEqual(p.FIN, dec.FIN) {
		t.Errorf("FIN mismatch: got %+v want %+v", dec.FIN, p.FIN)
	}
}

func TestCodec_RoundTrip_ACK(t *testing.T) {
	for _, dir := range []AckedDirective{AckOfEOF, AckOfFIN} {
		p := &PDU{
			Header: baseHeader(2, 2, false),
			Kind:   KindACK,
			ACK:    &AckPDU{Directive: dir, ConditionCode: 5},
		}
		dec := roundTrip(t, p)
		if !reflect.DeepEqual(p.ACK, dec.ACK) {
			t.Errorf("ACK mismatch for directive %v: got %+v want %+v", dir, dec.ACK, p.ACK)
		}
	}
}

func TestCodec_RoundTrip_NAK(t *testing.T) {
	p := &PDU{
		Header: baseHeader(1, 2, false),
		Kind:   KindNAK,
		NAK: &NakPDU{
			ScopeStart: 0,
			ScopeEnd:   100000,
			Segments: []SegmentRequest{
				{Start: 0, End: 4096},
				{Start: 8192, End: 12288},
			},
		},
	}
	dec := roundTrip(t, p)
	if !reflect.DeepEqual(p.NAK, dec.NAK) {
		t.Errorf("NAK mismatch: got %+v want %+v", dec.NAK, p.NAK)
	}
}

func TestCodec_RoundTrip_NAK_LargeFileNoSegments(t *testing.T) {
	p := &PDU{
		Header: baseHeader(8, 8, true),
		Kind:   KindNAK,
		NAK: &NakPDU{
			ScopeStart: 0,
			ScopeEnd:   1 << 40,
		},
	}
	dec := roundTrip(t, p)
	if dec.NAK.ScopeStart != 0 || dec.NAK.ScopeEnd != 1<<40 || len(dec.NAK.Segments) != 0 {
		t.Errorf("unexpected NAK: %+v", dec.NAK)
	}
}

func TestCodec_RoundTrip_Keepalive(t *testing.T) {
	p := &PDU{
		Header:    baseHeader(4, 4, true),
		Kind:      KindKeepalive,
		KeepAlive: &KeepAlivePDU{Progress: 1 << 33},
	}
	dec := roundTrip(t, p)
	if !reflect.DeepEqual(p.KeepAlive, dec.KeepAlive) {
		t.Errorf("Keepalive mismatch: got %+v want %+v", dec.KeepAlive, p.KeepAlive)
	}
}

func TestCodec_RoundTrip_Prompt(t *testing.T) {
	for _, rr := range []PromptResponse{PromptForNAK, PromptForKeepalive} {
		p := &PDU{
			Header: baseHeader(1, 1, false),
			Kind:   KindPrompt,
			Prompt: &PromptPDU{ResponseRequired: rr},
		}
		dec := roundTrip(t, p)
		if !reflect.DeepEqual(p.Prompt, dec.Prompt) {
			t.Errorf("Prompt mismatch for %v: got %+v want %+v", rr, dec.Prompt, p.Prompt)
		}
	}
}

func TestCodec_RoundTrip_AllEntityAndSeqWidths(t *testing.T) {
	for w := uint8(1); w <= 8; w++ {
		p := &PDU{
			Header: baseHeader(w, w, w >= 5),
			Kind:   KindFileData,
			FD:     &FileDataPDU{Offset: 42, Data: []byte("x")},
		}
		dec := roundTrip(t, p)
		if dec.Header.EIDWidth != w || dec.Header.SeqWidth != w {
			t.Errorf("width %d: got EIDWidth=%d SeqWidth=%d", w, dec.Header.EIDWidth, dec.Header.SeqWidth)
		}
		if dec.Header.SourceEID != p.Header.SourceEID || dec.Header.DestEID != p.Header.DestEID || dec.Header.Seq != p.Header.Seq {
			t.Errorf("width %d: header id/seq mismatch: got %+v want %+v", w, dec.Header, p.Header)
		}
	}
}

func TestCodec_Decode_ShortBufferIsUnderrun(t *testing.T) {
	_, err := Decode([]byte{0x20, 0x00})
	if err != ErrUnderrun {
		t.Fatalf("expected ErrUnderrun, got %v", err)
	}
}

func TestCodec_Decode_UnknownDirectiveCodeIsBadType(t *testing.T) {
	p := &PDU{
		Header: baseHeader(1, 1, false),
		Kind:   KindACK,
		ACK:    &AckPDU{Directive: AckOfEOF, ConditionCode: 0},
	}
	enc, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// Corrupt the directive-code byte (first byte of the body, right after
	// the fixed header) to an unassigned codepoint.
	bodyStart := len(enc) - 3
	enc[bodyStart] = 0x7F
	if _, err := Decode(enc); err == nil {
		t.Fatal("expected error decoding unrecognized directive code")
	}
}

func FuzzDecode(f *testing.F) {
	p := &PDU{
		Header: baseHeader(4, 4, true),
		Kind:   KindMD,
		MD: &MetadataPDU{
			ChecksumType:   ChecksumCRC32,
			FileSize:       100,
			SourceFileName: "a.bin",
			DestFileName:   "b.bin",
		},
	}
	if seed, err := Encode(p); err == nil {
		f.Add(seed)
	}
	f.Add([]byte{})
	f.Add([]byte{0x20, 0x00, 0x00, 0x00})

	f.Fuzz(func(t *testing.T, data []byte) {
		// Decode must never panic on arbitrary input, only return an error.
		_, _ = Decode(data)
	})
}
