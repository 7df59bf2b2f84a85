// Package slab is the top-level on-chain account layout and instruction
// dispatcher: Header | Config | Crank | Engine as one fixed-size region,
// where Crank holds the persisted crank fields and Engine (risk.Engine)
// holds the account table, with a Used flag per account, and the
// aggregates. Every
// mutation is driven by Dispatch decoding one instruction at a time and
// delegating to the pure decision functions, the risk engine, and the crank.
package slab

import (
	bin "github.com/gagliardetto/binary"

	"github.com/percolator-labs/percolator/internal/percerr"
	"github.com/percolator-labs/percolator/internal/risk"
)

var (
	errInvalidMagic   = percerr.Wrap(percerr.ErrInvalidAccount, "bad slab magic")
	errInvalidVersion = percerr.Wrap(percerr.ErrInvalidAccount, "bad slab version")
)

// Slab is the whole on-chain account. Dispatch mutates it in place; Encode
// and Decode convert it to and from its fixed-size wire form.
type Slab struct {
	Header Header
	Config MarketConfig
	Crank  CrankPersisted
	Engine risk.Engine
}

// Encode serializes the slab into its fixed-size wire form.
func (s *Slab) Encode() ([]byte, error) {
	buf := new(bufferWriter)
	enc := bin.NewBinEncoder(buf)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode populates s from its fixed-size wire form, then checks the magic
// and version tag before returning.
func Decode(data []byte) (*Slab, error) {
	var s Slab
	dec := bin.NewBinDecoder(data)
	if err := dec.Decode(&s); err != nil {
		return nil, err
	}
	if err := s.checkTag(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Slab) checkTag() error {
	if s.Header.Magic != Magic {
		return errInvalidMagic
	}
	if s.Header.Version != Version {
		return errInvalidVersion
	}
	return nil
}

// bufferWriter adapts a growable byte slice to io.Writer for bin.NewBinEncoder.
type bufferWriter struct {
	buf []byte
}

func (w *bufferWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *bufferWriter) Bytes() []byte { return w.buf }
