package pdu

// ChecksumType identifies how EOF.Checksum should be interpreted. Type 1 is
// the CFDP-mandated CRC-32 (the well-known 0xEDB88320 polynomial, the same
// one hash/crc32.IEEE already implements). Types above 0x80 are vendor
// extensions; only ChecksumBLAKE3 is understood here (SPEC_FULL.md's
// supplemented checksum-type extension).
type ChecksumType uint8

const (
	ChecksumNone   ChecksumType = 0
	ChecksumCRC32  ChecksumType = 1
	ChecksumBLAKE3 ChecksumType = 0xF0
)

// TLV is an opaque, unparsed filestore/vendor option. Unknown tags are
// preserved but never interpreted by the codec — spec.md §4.3: "unknown
// TLVs in FIN/MD are ignored but logged" by the caller, not the codec.
type TLV struct {
	Tag   uint8
	Value []byte
}

// MetadataPDU is the decoded MD payload.
type MetadataPDU struct {
	ClosureRequested bool
	ChecksumType     ChecksumType
	FileSize         uint64
	SourceFileName   string
	DestFileName     string
	Options          []TLV
}

// FileDataPDU is the decoded FD payload.
type FileDataPDU struct {
	Offset uint64
	Data   []byte
}

// EOFPDU is the decoded EOF payload.
type EOFPDU struct {
	ConditionCode uint8
	Checksum      []byte // width depends on the transaction's checksum type
	FileSize      uint64
}

// FinishedPDU is the decoded FIN payload.
type FinishedPDU struct {
	ConditionCode uint8
	DeliveryComplete bool
	FileStatus    uint8
	Options       []TLV
}

// AckedDirective identifies which directive an ACK PDU acknowledges.
type AckedDirective uint8

const (
	AckOfEOF AckedDirective = 0
	AckOfFIN AckedDirective = 1
)

// AckPDU is the decoded ACK payload.
type AckPDU struct {
	Directive     AckedDirective
	ConditionCode uint8
}

// SegmentRequest is one (start,end) pair in a NAK's missing-segment list.
type SegmentRequest struct {
	Start uint64
	End   uint64
}

// NakPDU is the decoded NAK payload.
type NakPDU struct {
	ScopeStart uint64
	ScopeEnd   uint64
	Segments   []SegmentRequest
}

// KeepAlivePDU is the decoded Keepalive payload.
type KeepAlivePDU struct {
	Progress uint64
}

// PromptResponse selects what a Prompt PDU is asking for.
type PromptResponse uint8

const (
	PromptForNAK      PromptResponse = 0
	PromptForKeepalive PromptResponse = 1
)

// PromptPDU is the decoded Prompt payload.
type PromptPDU struct {
	ResponseRequired PromptResponse
}

// PDU is the decoded Logical PDU: a fixed Header plus exactly one non-nil
// payload selected by Kind.
type PDU struct {
	Header    Header
	Kind      Kind
	FD        *FileDataPDU
	MD        *MetadataPDU
	EOF       *EOFPDU
	FIN       *FinishedPDU
	ACK       *AckPDU
	NAK       *NakPDU
	KeepAlive *KeepAlivePDU
	Prompt    *PromptPDU
}
