package edi837

import "testing"

func TestTotalCharge(t *testing.T) {
	claim := &Claim{
		ServiceLines: []ServiceLine{
			{ChargeAmount: 120},
			{ChargeAmount: 80.5},
		},
	}
	if got := claim.TotalCharge(); got != 200.5 {
		t.Errorf("TotalCharge() = %v, want 200.5", got)
	}

	empty := &Claim{}
	if got := empty.TotalCharge(); got != 0 {
		t.Errorf("TotalCharge() on empty claim = %v, want 0", got)
	}
}

func TestValidClaimStatus(t *testing.T) {
	for _, status := range []string{"pending", "submitted", "paid", "rejected"} {
		if !ValidClaimStatus(status) {
			t.Errorf("ValidClaimStatus(%q) = false, want true", status)
		}
	}
	for _, status := range []string{"", "unknown", "PENDING"} {
		if ValidClaimStatus(status) {
			t.Errorf("ValidClaimStatus(%q) = true, want false", status)
		}
	}
}
