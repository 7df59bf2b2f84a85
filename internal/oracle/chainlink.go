package oracle

import (
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"

	"github.com/percolator-labs/percolator/internal/percerr"
)

// ChainlinkUpdate is the subset of a Chainlink OCR2 transmissions account
// the risk engine needs after normalization to e6 fixed point.
type ChainlinkUpdate struct {
	Answer      PriceE6
	Decimals    uint8
	PublishTime int64
}

// DecodeChainlinkTransmission parses a Chainlink OCR2 "Transmissions" account
// on Solana: an owner-checked header (version, granularity, decimals, a
// reserved byte, live length, live cursor) followed
// by a ring buffer of (timestamp int64, answer i128) rounds addressed by a
// live cursor. Only the most recent round is read.
func DecodeChainlinkTransmission(owner, expectedProgram solana.PublicKey, data []byte, now int64) (*ChainlinkUpdate, error) {
	if !owner.Equals(expectedProgram) {
		return nil, percerr.Wrap(percerr.ErrOracleFailure, fmt.Sprintf("chainlink owner mismatch (%s)", owner))
	}

	// header: version(u8) granularity(u8) decimals(u8) reserved(u8) liveLength(u32) liveCursor(u32)
	const headerLen = 1 + 1 + 1 + 1 + 4 + 4
	if len(data) < headerLen {
		return nil, percerr.Wrap(percerr.ErrOracleFailure, "chainlink header too short")
	}
	dec := newFieldReader(data, 0)
	if _, err := dec.readByte(); err != nil { // version
		return nil, err
	}
	if _, err := dec.readByte(); err != nil { // granularity
		return nil, err
	}
	decimals, err := dec.readByte()
	if err != nil {
		return nil, err
	}
	if _, err := dec.readByte(); err != nil { // reserved
		return nil, err
	}
	liveLength, err := dec.readU32()
	if err != nil {
		return nil, err
	}
	liveCursor, err := dec.readU32()
	if err != nil {
		return nil, err
	}
	if liveLength == 0 {
		return nil, percerr.Wrap(percerr.ErrOracleFailure, "chainlink feed has no rounds")
	}

	const roundLen = 8 + 16 // timestamp(i64) + answer(i128)
	roundIdx := (liveCursor + liveLength - 1) % liveLength
	roundOffset := headerLen + int(roundIdx)*roundLen
	if len(data) < roundOffset+roundLen {
		return nil, percerr.Wrap(percerr.ErrOracleFailure, "chainlink round out of bounds")
	}

	round := newFieldReader(data, roundOffset)
	timestamp, err := round.readI64()
	if err != nil {
		return nil, err
	}
	answer, err := round.readI128()
	if err != nil {
		return nil, err
	}
	if timestamp <= 0 || timestamp > now {
		return nil, percerr.Wrap(percerr.ErrOracleFailure, fmt.Sprintf("invalid chainlink round timestamp %d", timestamp))
	}
	if answer.Sign() <= 0 {
		return nil, percerr.Wrap(percerr.ErrOracleFailure, "non-positive chainlink answer")
	}

	enginePrice, err := scaleUnsignedToEngine(answer, -int32(decimals), false)
	if err != nil {
		return nil, err
	}
	if enginePrice.Sign() <= 0 || !enginePrice.IsUint64() {
		return nil, percerr.Wrap(percerr.ErrOverflow, "scaled chainlink answer overflow")
	}

	return &ChainlinkUpdate{Answer: enginePrice.Uint64(), Decimals: decimals, PublishTime: timestamp}, nil
}

func (r *fieldReader) readU32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := uint32(0)
	for i := 3; i >= 0; i-- {
		v = v<<8 | uint32(r.data[r.offset+i])
	}
	r.offset += 4
	return v, nil
}

func (r *fieldReader) readI128() (*big.Int, error) {
	if err := r.need(16); err != nil {
		return nil, err
	}
	buf := make([]byte, 16)
	copy(buf, r.data[r.offset:r.offset+16])
	r.offset += 16

	negative := buf[15]&0x80 != 0
	if negative {
		for i := range buf {
			buf[i] = ^buf[i]
		}
	}
	// buf is little-endian; big.Int.SetBytes wants big-endian.
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	v := new(big.Int).SetBytes(buf)
	if negative {
		v.Add(v, big.NewInt(1))
		v.Neg(v)
	}
	return v, nil
}
