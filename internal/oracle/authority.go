package oracle

import "github.com/percolator-labs/percolator/internal/percerr"

// DecodeAuthorityPrice validates a price pushed directly by the slab's
// designated oracle authority (the fallback source when no Pyth or Chainlink
// feed is configured for a market). The signer check itself happens in the
// decision layer; this only enforces the value is usable.
func DecodeAuthorityPrice(priceE6 uint64) (PriceE6, error) {
	if priceE6 == 0 {
		return 0, percerr.Wrap(percerr.ErrOracleFailure, "authority price must be positive")
	}
	return priceE6, nil
}
