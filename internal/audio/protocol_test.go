package audio

import "testing"

func TestEncodeNegotiateHeader(t *testing.T) {
	pkt := encodeNegotiate(7)
	if MessageType(pkt[0]) != MsgNegotiate {
		t.Fatalf("type = %#x, want NEGOTIATE", pkt[0])
	}
	length := int(pkt[1]) | int(pkt[2])<<8
	if length != len(pkt)-3 {
		t.Errorf("length field = %d, want %d (body length)", length, len(pkt)-3)
	}
	body := pkt[3:]
	if body[0] != ProtocolVersion {
		t.Errorf("version = %d, want %d", body[0], ProtocolVersion)
	}
	if body[1] != 1 {
		t.Errorf("num_formats = %d, want 1", body[1])
	}
	if body[len(body)-1] != 7 {
		t.Errorf("last_block_confirmed = %d, want 7", body[len(body)-1])
	}
}

func TestEncodeWriteHeaderLength(t *testing.T) {
	pkt := encodeWrite(42, 1000, [4]byte{1, 2, 3, 4})
	if MessageType(pkt[0]) != MsgWrite {
		t.Fatalf("type = %#x, want WRITE", pkt[0])
	}
	length := int(pkt[1]) | int(pkt[2])<<8
	if length != 1000+writeHeaderExtra {
		t.Errorf("length field = %d, want data size + 8 = %d", length, 1000+writeHeaderExtra)
	}
	if pkt[3] != 42 {
		t.Errorf("block id = %d, want 42", pkt[3])
	}
	if pkt[4] != 1 || pkt[5] != 2 || pkt[6] != 3 || pkt[7] != 4 {
		t.Error("first 4 data bytes not carried inline in the header")
	}
}

func TestEncodeCloseIsZeroLength(t *testing.T) {
	pkt := encodeClose()
	if MessageType(pkt[0]) != MsgClose {
		t.Fatalf("type = %#x, want CLOSE", pkt[0])
	}
	length := int(pkt[1]) | int(pkt[2])<<8
	if length != 0 {
		t.Errorf("length field = %d, want 0", length)
	}
}

func TestParseNegotiateReply(t *testing.T) {
	reply, err := parseNegotiateReply([]byte{1, 1})
	if err != nil {
		t.Fatalf("parseNegotiateReply: %v", err)
	}
	if reply.NumFormats != 1 || !reply.Accepted {
		t.Errorf("reply = %+v, want {1 true}", reply)
	}

	if _, err := parseNegotiateReply([]byte{1}); err == nil {
		t.Error("expected error for short negotiate reply body")
	}
}

func TestParseCompletion(t *testing.T) {
	c, err := parseCompletion([]byte{200})
	if err != nil {
		t.Fatalf("parseCompletion: %v", err)
	}
	if c.ConfirmedBlockID != 200 {
		t.Errorf("ConfirmedBlockID = %d, want 200", c.ConfirmedBlockID)
	}
	if _, err := parseCompletion(nil); err == nil {
		t.Error("expected error for empty completion body")
	}
}
