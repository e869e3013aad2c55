package policy

import (
	"testing"
)

func TestLoadEmbeddedCatalog(t *testing.T) {
	t.Parallel()

	c, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(c.Categories) != 4 {
		t.Fatalf("expected 4 categories, got %d", len(c.Categories))
	}
	if len(c.Reasons) != 5 {
		t.Fatalf("expected 5 reasons, got %d", len(c.Reasons))
	}
}

func TestWindowDays(t *testing.T) {
	t.Parallel()

	c := MustLoad()
	tests := []struct {
		category string
		want     int
	}{
		{"electronics", 30},
		{"APPAREL", 60},
		{" furniture ", 14},
		{"books", 30},
		{"gadgets", 30},
	}
	for _, tc := range tests {
		if got := c.WindowDays(tc.category); got != tc.want {
			t.Errorf("WindowDays(%q) = %d, want %d", tc.category, got, tc.want)
		}
	}
}

func TestRestockingPercent(t *testing.T) {
	t.Parallel()

	c := MustLoad()
	if got := c.RestockingPercent("furniture"); got != 20 {
		t.Fatalf("RestockingPercent(furniture) = %v, want 20", got)
	}
	if got := c.RestockingPercent("unknown"); got != 0 {
		t.Fatalf("unknown categories must carry no fee, got %v", got)
	}
}

func TestConditionFactor(t *testing.T) {
	t.Parallel()

	c := MustLoad()
	if got := c.ConditionFactor("used"); got != 0.7 {
		t.Fatalf("ConditionFactor(used) = %v, want 0.7", got)
	}
	if got := c.ConditionFactor("Defective"); got != 1 {
		t.Fatalf("ConditionFactor(Defective) = %v, want 1", got)
	}
	if got := c.ConditionFactor("mystery"); got != 1 {
		t.Fatalf("unknown conditions must stay fully refundable, got %v", got)
	}
}

func TestReasonRules(t *testing.T) {
	t.Parallel()

	c := MustLoad()
	defect := c.Reason("defect")
	if !defect.SellerFault || defect.ShippingCredit != 12.5 {
		t.Fatalf("unexpected defect rule: %+v", defect)
	}
	changedMind := c.Reason("changed_mind")
	if changedMind.SellerFault || changedMind.ShippingDeduction != 7.5 {
		t.Fatalf("unexpected changed_mind rule: %+v", changedMind)
	}
	if unknown := c.Reason("cosmic_rays"); unknown != (ReasonRule{}) {
		t.Fatalf("unknown reasons must be neutral, got %+v", unknown)
	}
}

func TestTones(t *testing.T) {
	t.Parallel()

	c := MustLoad()
	if tpl := c.Tone("friendly"); tpl.Prefix != "Good news! " {
		t.Fatalf("unexpected friendly template: %+v", tpl)
	}
	if tpl := c.Tone("sarcastic"); tpl != (ToneTemplate{}) {
		t.Fatalf("unknown tones must pass through, got %+v", tpl)
	}
}
