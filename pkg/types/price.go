package types

// PriceRecord is one flattened leaf of a price tree.
//
// Source and PriceType are filled only when the upstream tree carries those
// levels (paper/mtgo, retail/buylist). Uniqueness holds per
// (EntityID, Source, Provider, PriceType, Finish, Date).
type PriceRecord struct {
	EntityID  string  `json:"uuid"`
	Source    string  `json:"source,omitempty"`
	Provider  string  `json:"provider"`
	PriceType string  `json:"price_type,omitempty"`
	Finish    string  `json:"finish"`
	Currency  string  `json:"currency,omitempty"`
	Date      string  `json:"date"`
	Price     float64 `json:"price"`
}

// PriceKey identifies a record for uniqueness checks.
type PriceKey struct {
	EntityID, Source, Provider, PriceType, Finish, Date string
}

// Key returns the uniqueness key of r.
func (r PriceRecord) Key() PriceKey {
	return PriceKey{r.EntityID, r.Source, r.Provider, r.PriceType, r.Finish, r.Date}
}
