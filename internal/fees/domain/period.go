package fees

import (
	"strconv"
	"strings"
)

// Terms accepted on the write path.
const (
	TermFirst  = "first"
	TermSecond = "second"
	TermThird  = "third"
)

// Period identifies a fee period: an academic term within a session.
type Period struct {
	Term    string
	Session string
}

// NormalizePeriod maps raw term and session strings to canonical form. It is
// total: any input yields a deterministic period and never an error. Session
// year separators "/" and "-" collapse to "-", so "2025/2026" and
// "2025-2026" identify the same period.
func NormalizePeriod(term, session string) Period {
	return Period{Term: normalizeTerm(term), Session: normalizeSession(session)}
}

// NewPeriod normalizes and validates a period for the write path.
func NewPeriod(term, session string) (Period, error) {
	period := NormalizePeriod(term, session)
	switch period.Term {
	case TermFirst, TermSecond, TermThird:
	default:
		return Period{}, ErrInvalidPeriod
	}
	if !validSession(period.Session) {
		return Period{}, ErrInvalidPeriod
	}
	return period, nil
}

// Key returns the canonical period key, e.g. "first|2025-2026".
func (p Period) Key() string { return p.Term + "|" + p.Session }

func normalizeTerm(term string) string {
	term = strings.ToLower(strings.TrimSpace(term))
	term = strings.TrimSuffix(term, " term")
	return strings.TrimSpace(term)
}

func normalizeSession(session string) string {
	session = strings.ReplaceAll(strings.TrimSpace(session), "/", "-")
	parts := strings.Split(session, "-")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return strings.Join(parts, "-")
}

func validSession(session string) bool {
	parts := strings.Split(session, "-")
	if len(parts) != 2 || len(parts[0]) != 4 || len(parts[1]) != 4 {
		return false
	}
	first, err := strconv.Atoi(parts[0])
	if err != nil {
		return false
	}
	second, err := strconv.Atoi(parts[1])
	if err != nil {
		return false
	}
	return second == first+1
}

// AccountPeriodKey is the identity of one fee obligation.
// Identity: accountId + canonical period key.
type AccountPeriodKey string

// BuildAccountPeriodKey derives the obligation identity from an account and a
// period. The same account and period always derive the same key, regardless
// of how the period was originally written.
func BuildAccountPeriodKey(accountID string, period Period) (AccountPeriodKey, error) {
	if accountID == "" {
		return "", ErrEmptyAccountID
	}
	return AccountPeriodKey(accountID + "|" + period.Key()), nil
}

// String returns the raw string for storage.
func (k AccountPeriodKey) String() string { return string(k) }
