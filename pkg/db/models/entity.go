package models

// EntityLabel attributes an address to a known entity. ChainID nil means the
// label applies on every chain.
type EntityLabel struct {
	ID         int32
	Address    []byte
	ChainID    *uint64
	EntityName string
	EntityType string
	Source     string
	Confidence float64
}

// Sanctioned reports whether this label marks the address as sanctioned.
func (l EntityLabel) Sanctioned() bool {
	return l.EntityType == "sanctioned" || l.Source == "ofac_sdn"
}

// WatchlistEntry is one address on a named watchlist, written by the external
// watchlist loader.
type WatchlistEntry struct {
	ID         int64
	ListName   string
	Address    []byte
	EntityName string
	SdnID      string
	Program    string
}

// ProviderWallet is a known on-ramp provider hot wallet.
type ProviderWallet struct {
	ProviderID   int32
	ProviderName string
	ChainID      uint64
	Address      []byte
	Label        string
}
