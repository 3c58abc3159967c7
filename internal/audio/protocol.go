package audio

import "encoding/binary"

// Wire message types (§4.4). Each message is a one-byte type plus a
// little-endian u16 length, all multi-byte integers little-endian (§6).
type MessageType byte

const (
	MsgClose      MessageType = 0x01 // S->C
	MsgWrite      MessageType = 0x02 // S->C, acknowledged
	MsgSetVolume  MessageType = 0x03 // S->C
	MsgSetPitch   MessageType = 0x04 // S->C, ignored
	MsgCompletion MessageType = 0x05 // C->S
	MsgTraining   MessageType = 0x06 // S<->C, out of scope
	MsgNegotiate  MessageType = 0x07 // S->C request, C->S reply
)

// ProtocolVersion is sent in the NEGOTIATE header (§4.5).
const ProtocolVersion = 5

// negotiatedFormat is the single format advertised in NEGOTIATE (§4.5):
// PCM, 2 channels, 22050 Hz, 16-bit, nBlockAlign=4, nAvgBytesPerSec=88200.
var negotiatedFormat = AudioFormat{
	SampleRateHz:  InternalFreqHz,
	Channels:      2,
	BitsPerSample: 16,
	Signed:        true,
}

const (
	wFormatTagPCM     = 1
	nBlockAlign       = 4
	nAvgBytesPerSec   = InternalFreqHz * nBlockAlign
	writeHeaderExtra  = 8 // WRITE length field is data size + 8 (§4.5)
)

func putHeader(buf []byte, msgType MessageType, length uint16) {
	buf[0] = byte(msgType)
	binary.LittleEndian.PutUint16(buf[1:3], length)
}

// encodeNegotiate builds the server->client NEGOTIATE request: header,
// version, one advertised format, and last_block_confirmed.
func encodeNegotiate(lastBlockConfirmed uint8) []byte {
	const bodyLen = 1 + 1 + 2 + 2 + 2 + 4 + 2 + 2 + 1 // version + numFormats + format fields + lastBlockConfirmed
	buf := make([]byte, 3+bodyLen)
	putHeader(buf, MsgNegotiate, uint16(bodyLen))
	p := buf[3:]
	p[0] = ProtocolVersion
	p[1] = 1 // num_formats advertised
	binary.LittleEndian.PutUint16(p[2:4], wFormatTagPCM)
	binary.LittleEndian.PutUint16(p[4:6], negotiatedFormat.Channels)
	binary.LittleEndian.PutUint16(p[6:8], uint16(negotiatedFormat.SampleRateHz))
	binary.LittleEndian.PutUint32(p[8:12], nAvgBytesPerSec)
	binary.LittleEndian.PutUint16(p[12:14], nBlockAlign)
	binary.LittleEndian.PutUint16(p[14:16], negotiatedFormat.BitsPerSample)
	p[16] = lastBlockConfirmed
	return buf
}

// negotiateReply is the client's answer to NEGOTIATE.
type negotiateReply struct {
	NumFormats int
	Accepted   bool
}

// parseNegotiateReply decodes a C->S NEGOTIATE reply body (format index
// count followed by accepted flag, in this implementation's wire shape).
func parseNegotiateReply(body []byte) (negotiateReply, error) {
	if len(body) < 2 {
		return negotiateReply{}, newError(ErrProtocolViolation, "negotiate reply too short: %d bytes", len(body))
	}
	return negotiateReply{
		NumFormats: int(body[0]),
		Accepted:   body[1] != 0,
	}, nil
}

// encodeWrite builds a WRITE packet header plus the first four inline data
// bytes (§4.4: "each WRITE packet carries in its header the first four data
// bytes inline"). The remaining payload bytes are written separately by the
// transport.
func encodeWrite(blockID uint8, dataLen int, first4 [4]byte) []byte {
	const headerBody = 1 // block id
	buf := make([]byte, 3+headerBody+4)
	putHeader(buf, MsgWrite, uint16(dataLen+writeHeaderExtra))
	buf[3] = blockID
	copy(buf[4:8], first4[:])
	return buf
}

// encodeClose builds a zero-length CLOSE message.
func encodeClose() []byte {
	buf := make([]byte, 3)
	putHeader(buf, MsgClose, 0)
	return buf
}

// encodeSetVolume builds a SET_VOLUME message carrying a u16 volume value
// (0..0xFFFF, full scale). See DESIGN.md for the Open Question decision on
// when this is sent.
func encodeSetVolume(volume uint16) []byte {
	buf := make([]byte, 5)
	putHeader(buf, MsgSetVolume, 2)
	binary.LittleEndian.PutUint16(buf[3:5], volume)
	return buf
}

// FullScaleVolume is the fixed volume value sent once at negotiation time.
const FullScaleVolume uint16 = 0xFFFF

// completionBody is the C->S COMPLETION payload: the confirmed block ID.
type completionBody struct {
	ConfirmedBlockID uint8
}

func parseCompletion(body []byte) (completionBody, error) {
	if len(body) < 1 {
		return completionBody{}, newError(ErrProtocolViolation, "completion body empty")
	}
	return completionBody{ConfirmedBlockID: body[0]}, nil
}
