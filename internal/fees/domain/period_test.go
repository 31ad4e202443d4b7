package fees

import "testing"

func TestNormalizePeriod_SessionSeparators(t *testing.T) {
	variants := []struct {
		term    string
		session string
	}{
		{"first", "2025/2026"},
		{"first", "2025-2026"},
		{"First", "2025 / 2026"},
		{"FIRST TERM", " 2025-2026 "},
	}
	for _, v := range variants {
		period := NormalizePeriod(v.term, v.session)
		if period.Term != "first" {
			t.Fatalf("term %q: expected first, got %q", v.term, period.Term)
		}
		if period.Session != "2025-2026" {
			t.Fatalf("session %q: expected 2025-2026, got %q", v.session, period.Session)
		}
	}
}

func TestNormalizePeriod_Total(t *testing.T) {
	// Garbage input still yields a deterministic period.
	first := NormalizePeriod("Summer", "next year")
	second := NormalizePeriod("Summer", "next year")
	if first != second {
		t.Fatalf("normalization not deterministic: %v vs %v", first, second)
	}
}

func TestBuildAccountPeriodKey_SeparatorVariantsCollide(t *testing.T) {
	slash, err := BuildAccountPeriodKey("stu-0001", NormalizePeriod("first", "2025/2026"))
	if err != nil {
		t.Fatalf("build key: %v", err)
	}
	dash, err := BuildAccountPeriodKey("stu-0001", NormalizePeriod("first", "2025-2026"))
	if err != nil {
		t.Fatalf("build key: %v", err)
	}
	if slash != dash {
		t.Fatalf("expected one key for both separators, got %q and %q", slash, dash)
	}
	if slash.String() != "stu-0001|first|2025-2026" {
		t.Fatalf("unexpected key form: %q", slash)
	}
}

func TestBuildAccountPeriodKey_EmptyAccount(t *testing.T) {
	_, err := BuildAccountPeriodKey("", NormalizePeriod("first", "2025-2026"))
	if err != ErrEmptyAccountID {
		t.Fatalf("expected ErrEmptyAccountID, got %v", err)
	}
}

func TestNewPeriod_Validation(t *testing.T) {
	if _, err := NewPeriod("second", "2025/2026"); err != nil {
		t.Fatalf("valid period rejected: %v", err)
	}
	invalid := []struct {
		term    string
		session string
	}{
		{"fourth", "2025-2026"},
		{"", "2025-2026"},
		{"first", "2025-2027"},
		{"first", "2025"},
		{"first", "25-26"},
		{"first", "abcd-efgh"},
	}
	for _, v := range invalid {
		if _, err := NewPeriod(v.term, v.session); err != ErrInvalidPeriod {
			t.Fatalf("term=%q session=%q: expected ErrInvalidPeriod, got %v", v.term, v.session, err)
		}
	}
}
