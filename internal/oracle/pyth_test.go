package oracle

import (
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
)

func buildPythPayload(t *testing.T, feedID [32]byte, price int64, conf uint64, exponent int32, publishTime int64) []byte {
	t.Helper()
	buf := make([]byte, 0, 8+32+1+32+8+8+4+8+8+8+8+8)
	buf = append(buf, priceUpdateV2Discriminator[:]...)
	buf = append(buf, make([]byte, 32)...) // write_authority
	buf = append(buf, 1)                   // verification level: Full
	buf = append(buf, feedID[:]...)

	le64 := func(v uint64) []byte {
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, v)
		return b
	}
	le32 := func(v uint32) []byte {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, v)
		return b
	}

	buf = append(buf, le64(uint64(price))...)
	buf = append(buf, le64(conf)...)
	buf = append(buf, le32(uint32(exponent))...)
	buf = append(buf, le64(uint64(publishTime))...)
	buf = append(buf, le64(0)...) // prev_publish_time
	buf = append(buf, le64(0)...) // ema_price
	buf = append(buf, le64(0)...) // ema_conf
	buf = append(buf, le64(0)...) // posted_slot
	return buf
}

func TestDecodePythPriceUpdate(t *testing.T) {
	feedID := [32]byte{1, 2, 3}
	data := buildPythPayload(t, feedID, 50_000_00, 10_00, -2, 1000)

	got, err := DecodePythPriceUpdate(pythPushOracleProgramID, data, feedID, 2000)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Price != 50_000_000_000 {
		t.Fatalf("price = %d, want 50000000000", got.Price)
	}
	if got.PublishTime != 1000 {
		t.Fatalf("publish time = %d, want 1000", got.PublishTime)
	}
}

func TestDecodePythPriceUpdateRejectsWrongOwner(t *testing.T) {
	feedID := [32]byte{1}
	data := buildPythPayload(t, feedID, 100, 1, 0, 1)
	if _, err := DecodePythPriceUpdate(solana.SystemProgramID, data, feedID, 100); err == nil {
		t.Fatal("expected owner mismatch error")
	}
}

func TestDecodePythPriceUpdateRejectsFuturePublishTime(t *testing.T) {
	feedID := [32]byte{9}
	data := buildPythPayload(t, feedID, 100, 1, 0, 5000)
	if _, err := DecodePythPriceUpdate(pythPushOracleProgramID, data, feedID, 100); err == nil {
		t.Fatal("expected future publish time to be rejected")
	}
}

func TestDecodePythPriceUpdateRejectsNonPositivePrice(t *testing.T) {
	feedID := [32]byte{9}
	data := buildPythPayload(t, feedID, 0, 1, 0, 1)
	if _, err := DecodePythPriceUpdate(pythPushOracleProgramID, data, feedID, 100); err == nil {
		t.Fatal("expected non-positive price to be rejected")
	}
}

func TestDecodePythPriceUpdateRejectsFeedMismatch(t *testing.T) {
	feedID := [32]byte{1}
	other := [32]byte{2}
	data := buildPythPayload(t, feedID, 100, 1, 0, 1)
	if _, err := DecodePythPriceUpdate(pythPushOracleProgramID, data, other, 100); err == nil {
		t.Fatal("expected feed id mismatch to be rejected")
	}
}
