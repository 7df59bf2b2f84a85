package oracle

import (
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
)

func buildChainlinkPayload(t *testing.T, decimals uint8, answer int64, timestamp int64) []byte {
	t.Helper()
	le32 := func(v uint32) []byte {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, v)
		return b
	}
	le64 := func(v uint64) []byte {
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, v)
		return b
	}
	le128 := func(v int64) []byte {
		b := make([]byte, 16)
		binary.LittleEndian.PutUint64(b[:8], uint64(v))
		if v < 0 {
			for i := 8; i < 16; i++ {
				b[i] = 0xff
			}
		}
		return b
	}

	buf := []byte{1, 1, decimals, 0}
	buf = append(buf, le32(1)...) // liveLength
	buf = append(buf, le32(0)...) // liveCursor
	buf = append(buf, le64(uint64(timestamp))...)
	buf = append(buf, le128(answer)...)
	return buf
}

func TestDecodeChainlinkTransmission(t *testing.T) {
	program := solana.MustPublicKeyFromBase58("cjg3oHmg9uuPsP8D6g29NWvhySJkdYdAo9D25PRbKXJ")
	data := buildChainlinkPayload(t, 8, 5_000_000_000_00, 100)

	got, err := DecodeChainlinkTransmission(program, program, data, 200)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Answer != 5_000_000_000 {
		t.Fatalf("answer = %d, want 5000000000", got.Answer)
	}
}

func TestDecodeChainlinkTransmissionRejectsOwnerMismatch(t *testing.T) {
	program := solana.MustPublicKeyFromBase58("cjg3oHmg9uuPsP8D6g29NWvhySJkdYdAo9D25PRbKXJ")
	data := buildChainlinkPayload(t, 8, 100, 1)
	if _, err := DecodeChainlinkTransmission(solana.SystemProgramID, program, data, 100); err == nil {
		t.Fatal("expected owner mismatch error")
	}
}

func TestDecodeChainlinkTransmissionRejectsNonPositiveAnswer(t *testing.T) {
	program := solana.MustPublicKeyFromBase58("cjg3oHmg9uuPsP8D6g29NWvhySJkdYdAo9D25PRbKXJ")
	data := buildChainlinkPayload(t, 8, 0, 1)
	if _, err := DecodeChainlinkTransmission(program, program, data, 100); err == nil {
		t.Fatal("expected non-positive answer to be rejected")
	}
}

func TestDecodeChainlinkTransmissionRejectsFutureTimestamp(t *testing.T) {
	program := solana.MustPublicKeyFromBase58("cjg3oHmg9uuPsP8D6g29NWvhySJkdYdAo9D25PRbKXJ")
	data := buildChainlinkPayload(t, 8, 100, 5000)
	if _, err := DecodeChainlinkTransmission(program, program, data, 100); err == nil {
		t.Fatal("expected future timestamp to be rejected")
	}
}
