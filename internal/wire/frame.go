// Package wire implements the compact length-prefixed binary encoding used
// for both the pre-upgrade handshake channel (HandshakeFrame) and the
// post-upgrade reliable stream (StreamFrame). Both frame families share the
// same tag convention: a little-endian uint32 variant tag followed by a
// variant-specific payload.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/ghostlink/ghostlink/internal/crypto"
)

// Handshake frame tags.
const (
	TagSyn    uint32 = 0
	TagSynAck uint32 = 1
	TagBye    uint32 = 2
)

// Stream frame tags.
const (
	TagText uint32 = 0
	TagStreamBye uint32 = 1
)

// HandshakeFrame is the tagged union exchanged on the raw UDP channel
// before the reliable-stream upgrade: Syn, SynAck, or Bye.
type HandshakeFrame struct {
	Tag        uint32
	PublicKey  [crypto.KeySize]byte // valid for Syn, SynAck
	CipherMode crypto.Mode          // valid for Syn
}

// Syn builds a Syn handshake frame.
func Syn(publicKey [crypto.KeySize]byte, mode crypto.Mode) HandshakeFrame {
	return HandshakeFrame{Tag: TagSyn, PublicKey: publicKey, CipherMode: mode}
}

// SynAck builds a SynAck handshake frame.
func SynAck(publicKey [crypto.KeySize]byte) HandshakeFrame {
	return HandshakeFrame{Tag: TagSynAck, PublicKey: publicKey}
}

// Bye builds a Bye handshake frame.
func Bye() HandshakeFrame {
	return HandshakeFrame{Tag: TagBye}
}

// Encode serializes a HandshakeFrame to its wire form: a little-endian
// uint32 tag, followed by 32 raw public-key bytes and a 1-byte cipher mode
// for Syn, 32 raw public-key bytes for SynAck, or nothing for Bye.
func (f HandshakeFrame) Encode() []byte {
	switch f.Tag {
	case TagSyn:
		buf := make([]byte, 4+crypto.KeySize+1)
		binary.LittleEndian.PutUint32(buf[0:4], f.Tag)
		copy(buf[4:4+crypto.KeySize], f.PublicKey[:])
		buf[4+crypto.KeySize] = byte(f.CipherMode)
		return buf
	case TagSynAck:
		buf := make([]byte, 4+crypto.KeySize)
		binary.LittleEndian.PutUint32(buf[0:4], f.Tag)
		copy(buf[4:], f.PublicKey[:])
		return buf
	default: // TagBye
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, TagBye)
		return buf
	}
}

// DecodeHandshakeFrame parses a HandshakeFrame from raw bytes. Any
// malformed or truncated input returns an error; the caller (the
// handshake engine) logs and discards such frames rather than treating
// them as fatal.
func DecodeHandshakeFrame(b []byte) (HandshakeFrame, error) {
	if len(b) < 4 {
		return HandshakeFrame{}, fmt.Errorf("handshake frame too short: %d bytes", len(b))
	}
	tag := binary.LittleEndian.Uint32(b[0:4])
	switch tag {
	case TagSyn:
		if len(b) != 4+crypto.KeySize+1 {
			return HandshakeFrame{}, fmt.Errorf("malformed Syn frame: %d bytes", len(b))
		}
		var pk [crypto.KeySize]byte
		copy(pk[:], b[4:4+crypto.KeySize])
		return HandshakeFrame{Tag: TagSyn, PublicKey: pk, CipherMode: crypto.Mode(b[4+crypto.KeySize])}, nil
	case TagSynAck:
		if len(b) != 4+crypto.KeySize {
			return HandshakeFrame{}, fmt.Errorf("malformed SynAck frame: %d bytes", len(b))
		}
		var pk [crypto.KeySize]byte
		copy(pk[:], b[4:])
		return HandshakeFrame{Tag: TagSynAck, PublicKey: pk}, nil
	case TagBye:
		return HandshakeFrame{Tag: TagBye}, nil
	default:
		return HandshakeFrame{}, fmt.Errorf("unknown handshake frame tag: %d", tag)
	}
}

// StreamFrame is the tagged union carried over the reliable stream, after
// AEAD decryption: Text or Bye.
type StreamFrame struct {
	Tag  uint32
	Text string // valid for Text
}

// TextFrame builds a Text stream frame.
func TextFrame(text string) StreamFrame {
	return StreamFrame{Tag: TagText, Text: text}
}

// StreamBye builds a Bye stream frame.
func StreamBye() StreamFrame {
	return StreamFrame{Tag: TagStreamBye}
}

// Encode serializes a StreamFrame: a little-endian uint32 tag, followed for
// Text by a little-endian uint32 length and the UTF-8 payload; Bye carries
// no payload.
func (f StreamFrame) Encode() []byte {
	switch f.Tag {
	case TagText:
		payload := []byte(f.Text)
		buf := make([]byte, 8+len(payload))
		binary.LittleEndian.PutUint32(buf[0:4], f.Tag)
		binary.LittleEndian.PutUint32(buf[4:8], uint32(len(payload)))
		copy(buf[8:], payload)
		return buf
	default: // TagStreamBye
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, TagStreamBye)
		return buf
	}
}

// DecodeStreamFrame parses a StreamFrame from decrypted plaintext bytes.
func DecodeStreamFrame(b []byte) (StreamFrame, error) {
	if len(b) < 4 {
		return StreamFrame{}, fmt.Errorf("stream frame too short: %d bytes", len(b))
	}
	tag := binary.LittleEndian.Uint32(b[0:4])
	switch tag {
	case TagText:
		if len(b) < 8 {
			return StreamFrame{}, fmt.Errorf("malformed Text frame: %d bytes", len(b))
		}
		n := binary.LittleEndian.Uint32(b[4:8])
		if uint32(len(b)-8) != n {
			return StreamFrame{}, fmt.Errorf("malformed Text frame: length mismatch")
		}
		return StreamFrame{Tag: TagText, Text: string(b[8:])}, nil
	case TagStreamBye:
		return StreamFrame{Tag: TagStreamBye}, nil
	default:
		return StreamFrame{}, fmt.Errorf("unknown stream frame tag: %d", tag)
	}
}
