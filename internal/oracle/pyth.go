package oracle

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"

	"github.com/percolator-labs/percolator/internal/percerr"
)

// pythPushOracleProgramID is the Pyth receiver program that owns every
// PriceUpdateV2 account this parser accepts.
var pythPushOracleProgramID = solana.MustPublicKeyFromBase58("pythWSnswVUd12oZpeFP8e9CVaEqJg25g1Vtc2biRsT")

var priceUpdateV2Discriminator = [8]byte{34, 241, 35, 99, 157, 126, 244, 205}

// priceScale is the e6 fixed-point scale every parsed price is normalized to.
const priceScale = uint64(1_000_000)

// PythUpdate is the subset of a Pyth PriceUpdateV2 account the risk engine
// needs after normalization.
type PythUpdate struct {
	FeedID      [32]byte
	Price       PriceE6
	Conf        PriceE6
	PublishTime int64
}

// DecodePythPriceUpdate parses a PriceUpdateV2 account owned by the Pyth
// push-oracle program, rejecting partially-verified updates and out-of-range
// exponents, and normalizes price and confidence to e6 fixed point.
func DecodePythPriceUpdate(owner solana.PublicKey, data []byte, expectedFeed [32]byte, now int64) (*PythUpdate, error) {
	if !owner.Equals(pythPushOracleProgramID) {
		return nil, percerr.Wrap(percerr.ErrOracleFailure, fmt.Sprintf("pyth owner mismatch (%s)", owner))
	}
	if len(data) < 8 || !bytes.Equal(data[:8], priceUpdateV2Discriminator[:]) {
		return nil, percerr.Wrap(percerr.ErrOracleFailure, "pyth discriminator mismatch")
	}

	dec := newFieldReader(data, 8)
	if err := dec.skip(32); err != nil { // write_authority
		return nil, err
	}
	verificationVariant, err := dec.readByte()
	if err != nil {
		return nil, err
	}
	switch verificationVariant {
	case 1: // Full
	case 0: // Partial{num_signatures}
		return nil, percerr.Wrap(percerr.ErrOracleFailure, "pyth verification level is partial")
	default:
		return nil, percerr.Wrap(percerr.ErrOracleFailure, fmt.Sprintf("unknown pyth verification level %d", verificationVariant))
	}

	feedID, err := dec.readFixed32()
	if err != nil {
		return nil, err
	}
	price, err := dec.readI64()
	if err != nil {
		return nil, err
	}
	conf, err := dec.readU64()
	if err != nil {
		return nil, err
	}
	exponent, err := dec.readI32()
	if err != nil {
		return nil, err
	}
	publishTime, err := dec.readI64()
	if err != nil {
		return nil, err
	}
	if err := dec.skip(8 + 8 + 8 + 8); err != nil { // prev_publish_time, ema_price, ema_conf, posted_slot
		return nil, err
	}
	if !dec.exhausted() {
		return nil, percerr.Wrap(percerr.ErrOracleFailure, "trailing bytes in pyth payload")
	}
	if expectedFeed != ([32]byte{}) && feedID != expectedFeed {
		return nil, percerr.Wrap(percerr.ErrOracleFailure, "pyth feed id mismatch")
	}

	enginePrice, err := scaleSignedPriceToEngine(price, exponent)
	if err != nil {
		return nil, err
	}
	engineConf, err := scaleConfidenceToEngine(conf, exponent)
	if err != nil {
		return nil, err
	}
	if publishTime < 0 || publishTime > now {
		return nil, percerr.Wrap(percerr.ErrOracleFailure, fmt.Sprintf("invalid pyth publish time %d", publishTime))
	}

	return &PythUpdate{FeedID: feedID, Price: enginePrice, Conf: engineConf, PublishTime: publishTime}, nil
}

// fieldReader walks a little-endian account payload without allocating a
// struct-tagged decoder for a shape this narrow.
type fieldReader struct {
	data   []byte
	offset int
}

func newFieldReader(data []byte, start int) *fieldReader { return &fieldReader{data: data, offset: start} }

func (r *fieldReader) exhausted() bool { return r.offset == len(r.data) }

func (r *fieldReader) need(n int) error {
	if len(r.data) < r.offset+n {
		return percerr.Wrap(percerr.ErrOracleFailure, "truncated oracle payload")
	}
	return nil
}

func (r *fieldReader) skip(n int) error {
	if err := r.need(n); err != nil {
		return err
	}
	r.offset += n
	return nil
}

func (r *fieldReader) readByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.data[r.offset]
	r.offset++
	return b, nil
}

func (r *fieldReader) readFixed32() ([32]byte, error) {
	var out [32]byte
	if err := r.need(32); err != nil {
		return out, err
	}
	copy(out[:], r.data[r.offset:r.offset+32])
	r.offset += 32
	return out, nil
}

func (r *fieldReader) readU64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := uint64(0)
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(r.data[r.offset+i])
	}
	r.offset += 8
	return v, nil
}

func (r *fieldReader) readI64() (int64, error) {
	u, err := r.readU64()
	return int64(u), err
}

func (r *fieldReader) readI32() (int32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := uint32(0)
	for i := 3; i >= 0; i-- {
		v = v<<8 | uint32(r.data[r.offset+i])
	}
	r.offset += 4
	return int32(v), nil
}

func scaleSignedPriceToEngine(price int64, exponent int32) (uint64, error) {
	if price <= 0 {
		return 0, percerr.Wrap(percerr.ErrOracleFailure, "non-positive oracle price")
	}
	base := new(big.Int).SetInt64(price)
	scaled, err := scaleUnsignedToEngine(base, exponent, false)
	if err != nil {
		return 0, err
	}
	if scaled.Sign() <= 0 || !scaled.IsUint64() {
		return 0, percerr.Wrap(percerr.ErrOverflow, "scaled oracle price overflow")
	}
	return scaled.Uint64(), nil
}

func scaleConfidenceToEngine(conf uint64, exponent int32) (uint64, error) {
	base := new(big.Int).SetUint64(conf)
	scaled, err := scaleUnsignedToEngine(base, exponent, true)
	if err != nil {
		return 0, err
	}
	if scaled.Sign() < 0 || !scaled.IsUint64() {
		return 0, percerr.Wrap(percerr.ErrOverflow, "scaled oracle confidence overflow")
	}
	return scaled.Uint64(), nil
}

// scaleUnsignedToEngine rescales value (given in 10**exponent units) to the
// e6 fixed-point engine scale. Confidence rounds up (ceil) so it never
// understates risk; price truncates.
func scaleUnsignedToEngine(value *big.Int, exponent int32, ceil bool) (*big.Int, error) {
	if exponent > 38 || exponent < -38 {
		return nil, percerr.Wrap(percerr.ErrOracleFailure, fmt.Sprintf("unsupported oracle exponent %d", exponent))
	}
	tenPow := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(absInt32(exponent))), nil)
	priceScaleBig := new(big.Int).SetUint64(priceScale)

	if exponent >= 0 {
		out := new(big.Int).Mul(value, tenPow)
		out.Mul(out, priceScaleBig)
		return out, nil
	}

	numerator := new(big.Int).Mul(value, priceScaleBig)
	if ceil {
		numerator.Add(numerator, new(big.Int).Sub(tenPow, big.NewInt(1)))
	}
	return new(big.Int).Div(numerator, tenPow), nil
}

func absInt32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
