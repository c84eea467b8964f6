package types

// LegalityStatus is the normalised status of a card in a format.
type LegalityStatus string

const (
	StatusLegal      LegalityStatus = "legal"
	StatusNotLegal   LegalityStatus = "not_legal"
	StatusBanned     LegalityStatus = "banned"
	StatusRestricted LegalityStatus = "restricted"
	StatusSuspended  LegalityStatus = "suspended"
)

// LegalityStatuses lists every valid status.
var LegalityStatuses = []LegalityStatus{
	StatusLegal, StatusNotLegal, StatusBanned, StatusRestricted, StatusSuspended,
}

// Valid reports whether s is one of the known statuses.
func (s LegalityStatus) Valid() bool {
	for _, v := range LegalityStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// LegalityRow is one (entity, format) legality. At most one row exists per
// (EntityID, Format).
type LegalityRow struct {
	EntityID string         `json:"uuid"`
	Format   string         `json:"format"`
	Status   LegalityStatus `json:"status"`
}
