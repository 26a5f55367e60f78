package userstore

import "testing"

func TestChargeCreditsSaturatesAtZero(t *testing.T) {
	a := Account{CreditsKB: 100}

	next, charged := a.ChargeCredits(60)
	if next.CreditsKB != 40 || charged != 60 {
		t.Fatalf("got credits=%d charged=%d, want credits=40 charged=60", next.CreditsKB, charged)
	}

	next, charged = next.ChargeCredits(1000)
	if next.CreditsKB != 0 || charged != 40 {
		t.Fatalf("got credits=%d charged=%d, want credits=0 charged=40", next.CreditsKB, charged)
	}
}

func TestChargeCreditsZeroCostNoOp(t *testing.T) {
	a := Account{CreditsKB: 10}
	next, charged := a.ChargeCredits(0)
	if charged != 0 || next.CreditsKB != 10 {
		t.Fatalf("got credits=%d charged=%d, want unchanged", next.CreditsKB, charged)
	}
}

func TestEarnCredits(t *testing.T) {
	a := Account{CreditsKB: 10}
	next := a.EarnCredits(5)
	if next.CreditsKB != 15 {
		t.Errorf("got %d, want 15", next.CreditsKB)
	}
}

func TestWithCreditsClampsNegative(t *testing.T) {
	a := Account{}
	next := a.WithCredits(-50)
	if next.CreditsKB != 0 {
		t.Errorf("got %d, want 0", next.CreditsKB)
	}
}

func TestInGroup(t *testing.T) {
	a := Account{PrimaryGroup: "Staff", SecondaryGroups: []string{"VIP", "beta"}}

	cases := []struct {
		group string
		want  bool
	}{
		{"staff", true},
		{"STAFF", true},
		{"vip", true},
		{"Beta", true},
		{"nobody", false},
	}
	for _, c := range cases {
		if got := a.InGroup(c.group); got != c.want {
			t.Errorf("InGroup(%q) = %v, want %v", c.group, got, c.want)
		}
	}
}

func TestNameKeyCaseFold(t *testing.T) {
	a := Account{Name: "Archangel"}
	if a.NameKey() != "archangel" {
		t.Errorf("got %q, want %q", a.NameKey(), "archangel")
	}
}
