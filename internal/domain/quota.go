package domain

// QuotaRecord is the per-user daily call counter keyed by (UserID, Day).
type QuotaRecord struct {
	Key    string
	UserID string
	Day    string
	Count  int
	TTL    int64
}

// QuotaDecision is the outcome of a single admission check.
type QuotaDecision struct {
	Admitted  bool
	Remaining int
	Max       int
}
