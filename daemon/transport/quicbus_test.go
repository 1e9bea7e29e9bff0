package transport

import (
	"bytes"
	"io"
	"testing"
)

func TestWriteReadFrame_RoundTrips(t *testing.T) {
	var buf bytes.Buffer
	if err := writeFrame(&buf, []byte("hello pdu bytes")); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	if err := writeFrame(&buf, []byte("second frame")); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}

	got, err := readFrame(&buf)
	if err != nil || string(got) != "hello pdu bytes" {
		t.Fatalf("readFrame #1 = %q, %v", got, err)
	}
	got, err = readFrame(&buf)
	if err != nil || string(got) != "second frame" {
		t.Fatalf("readFrame #2 = %q, %v", got, err)
	}
}

func TestWriteReadFrame_EmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := writeFrame(&buf, nil); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	got, err := readFrame(&buf)
	if err != nil || len(got) != 0 {
		t.Fatalf("readFrame = %q, %v, want empty", got, err)
	}
}

func TestReadFrame_TruncatedHeaderFails(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0, 1})
	if _, err := readFrame(buf); err == nil {
		t.Fatalf("expected error on truncated length prefix")
	}
}

func TestReadFrame_TruncatedPayloadFails(t *testing.T) {
	var buf bytes.Buffer
	if err := writeFrame(&buf, []byte("abcdef")); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	truncated := bytes.NewReader(buf.Bytes()[:6]) // header + 2 of 6 payload bytes
	if _, err := readFrame(truncated); err != io.ErrUnexpectedEOF && err != io.EOF {
		t.Fatalf("expected EOF-family error, got %v", err)
	}
}
