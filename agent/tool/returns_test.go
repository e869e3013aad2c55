package tool

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	contractx "github.com/caretaker-labs/caretaker/agent/contract"
	policyx "github.com/caretaker-labs/caretaker/agent/policy"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func newTestDispatcher(t *testing.T, gateway GatewayInvoker) (*Dispatcher, *Registry) {
	t.Helper()
	catalog := policyx.MustLoad()
	registry := NewRegistry()
	if err := RegisterAll(registry, Defaults(catalog, &fakeRetriever{}, "order-lookup", fixedNow)); err != nil {
		t.Fatalf("RegisterAll() error = %v", err)
	}
	d, err := NewDispatcher(registry, gateway)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	return d, registry
}

type fakeRetriever struct {
	result contractx.RetrievalResult
	err    error
}

func (f *fakeRetriever) Search(ctx context.Context, query string) (contractx.RetrievalResult, error) {
	return f.result, f.err
}

type fakeGateway struct {
	payload any
	err     error
	targets []string
}

func (f *fakeGateway) Invoke(ctx context.Context, target string, payload map[string]any) (any, error) {
	f.targets = append(f.targets, target)
	if f.err != nil {
		return nil, f.err
	}
	return f.payload, nil
}

func dispatch(t *testing.T, d *Dispatcher, tool string, args map[string]any) contractx.ToolResult {
	t.Helper()
	return d.Dispatch(context.Background(), contractx.ToolCall{Tool: tool, Args: args})
}

func TestCheckEligibility(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(t, nil)

	tests := []struct {
		name         string
		args         map[string]any
		wantEligible bool
	}{
		{
			name: "electronics within window",
			args: map[string]any{
				"purchase_date": testNow.AddDate(0, 0, -25).Format(purchaseDateLayout),
				"category":      "electronics",
				"condition":     "unopened",
			},
			wantEligible: true,
		},
		{
			name: "electronics past window",
			args: map[string]any{
				"purchase_date": testNow.AddDate(0, 0, -45).Format(purchaseDateLayout),
				"category":      "electronics",
				"condition":     "opened",
			},
			wantEligible: false,
		},
		{
			name: "defective past window still eligible",
			args: map[string]any{
				"purchase_date": testNow.AddDate(0, 0, -90).Format(purchaseDateLayout),
				"category":      "electronics",
				"condition":     "defective",
			},
			wantEligible: true,
		},
		{
			name: "furniture has the short window",
			args: map[string]any{
				"purchase_date": testNow.AddDate(0, 0, -20).Format(purchaseDateLayout),
				"category":      "furniture",
				"condition":     "unopened",
			},
			wantEligible: false,
		},
		{
			name: "unknown category falls back to the default window",
			args: map[string]any{
				"purchase_date": testNow.AddDate(0, 0, -10).Format(purchaseDateLayout),
				"category":      "gadgets",
				"condition":     "opened",
			},
			wantEligible: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res := dispatch(t, d, ToolCheckEligibility, tc.args)
			if res.Status != contractx.ToolStatusOK {
				t.Fatalf("unexpected failure: %s", res.Detail)
			}
			out, ok := res.Payload.(EligibilityOutput)
			if !ok {
				t.Fatalf("unexpected payload type %T", res.Payload)
			}
			if out.Eligible != tc.wantEligible {
				t.Fatalf("Eligible = %t, want %t (%s)", out.Eligible, tc.wantEligible, out.Reason)
			}
			if res.MemoryPatch["last_eligibility_check"] == "" {
				t.Fatal("expected an eligibility memory patch")
			}
		})
	}
}

func TestCheckEligibilityBadDate(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(t, nil)
	res := dispatch(t, d, ToolCheckEligibility, map[string]any{
		"purchase_date": "March 1st",
		"category":      "books",
		"condition":     "opened",
	})
	if res.Status != contractx.ToolStatusError {
		t.Fatal("expected a failed result for an unparseable date")
	}
	if !strings.Contains(res.Detail, "YYYY-MM-DD") {
		t.Fatalf("unexpected detail: %s", res.Detail)
	}
}

func TestCheckEligibilityFutureDate(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(t, nil)
	res := dispatch(t, d, ToolCheckEligibility, map[string]any{
		"purchase_date": testNow.AddDate(0, 0, 7).Format(purchaseDateLayout),
		"category":      "electronics",
		"condition":     "unopened",
	})
	if res.Status != contractx.ToolStatusError {
		t.Fatal("expected a failed result for a future purchase date")
	}
	if !strings.Contains(res.Detail, "future") {
		t.Fatalf("unexpected detail: %s", res.Detail)
	}
}

func TestCalculateRefund(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(t, nil)

	tests := []struct {
		name string
		args map[string]any
		want float64
	}{
		{
			// Seller fault waives restocking; the shipping credit is
			// clamped so the refund never exceeds the price paid.
			name: "defective electronics full refund",
			args: map[string]any{"price": 500.0, "condition": "defective", "reason": "defect", "category": "electronics"},
			want: 500,
		},
		{
			name: "opened apparel changed mind",
			args: map[string]any{"price": 500.0, "condition": "opened", "reason": "changed_mind", "category": "apparel"},
			want: 417.5,
		},
		{
			name: "used furniture changed mind pays restocking",
			args: map[string]any{"price": 200.0, "condition": "used", "reason": "changed_mind", "category": "furniture"},
			want: 92.5,
		},
		{
			name: "wrong item keeps condition factor but drops fees",
			args: map[string]any{"price": 100.0, "condition": "opened", "reason": "wrong_item", "category": "electronics"},
			want: 97.5,
		},
		{
			name: "zero price clamps at zero",
			args: map[string]any{"price": 0.0, "condition": "used", "reason": "changed_mind"},
			want: 0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res := dispatch(t, d, ToolCalculateRefund, tc.args)
			if res.Status != contractx.ToolStatusOK {
				t.Fatalf("unexpected failure: %s", res.Detail)
			}
			out, ok := res.Payload.(RefundOutput)
			if !ok {
				t.Fatalf("unexpected payload type %T", res.Payload)
			}
			if math.Abs(out.Refund-tc.want) > 1e-9 {
				t.Fatalf("Refund = %.2f, want %.2f", out.Refund, tc.want)
			}
		})
	}
}

func TestCalculateRefundConditionMonotonicity(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(t, nil)

	refundFor := func(condition string) float64 {
		res := dispatch(t, d, ToolCalculateRefund, map[string]any{
			"price": 300.0, "condition": condition, "reason": "changed_mind", "category": "electronics",
		})
		if res.Status != contractx.ToolStatusOK {
			t.Fatalf("unexpected failure for %s: %s", condition, res.Detail)
		}
		return res.Payload.(RefundOutput).Refund
	}

	unopened := refundFor("unopened")
	opened := refundFor("opened")
	used := refundFor("used")
	if !(unopened >= opened && opened >= used) {
		t.Fatalf("refund must not grow as condition worsens: %.2f, %.2f, %.2f", unopened, opened, used)
	}
}

func TestCalculateRefundPriceMonotonicity(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(t, nil)

	// Furniture carries a restocking fee and changed_mind deducts
	// shipping, so the sweep crosses the zero clamp at low prices.
	prev := 0.0
	for price := 1.0; price <= 1000; price += 3 {
		res := dispatch(t, d, ToolCalculateRefund, map[string]any{
			"price": price, "condition": "opened", "reason": "changed_mind", "category": "furniture",
		})
		if res.Status != contractx.ToolStatusOK {
			t.Fatalf("unexpected failure at price %.2f: %s", price, res.Detail)
		}
		refund := res.Payload.(RefundOutput).Refund
		if refund < 0 || refund > price {
			t.Fatalf("refund %.2f out of [0, %.2f]", refund, price)
		}
		if refund < prev {
			t.Fatalf("refund decreased from %.2f to %.2f at price %.2f", prev, refund, price)
		}
		prev = refund
	}
}

func TestFormatPolicyTones(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(t, nil)

	res := dispatch(t, d, ToolFormatPolicy, map[string]any{
		"snippet": "Electronics can be returned within 30 days.",
		"tone":    "formal",
	})
	if res.Status != contractx.ToolStatusOK {
		t.Fatalf("unexpected failure: %s", res.Detail)
	}
	out := res.Payload.(PolicyOutput)
	if !strings.HasPrefix(out.Text, "Per our return policy: ") {
		t.Fatalf("unexpected formal text: %q", out.Text)
	}

	res = dispatch(t, d, ToolFormatPolicy, map[string]any{
		"snippet": "Electronics can be returned within 30 days.",
	})
	out = res.Payload.(PolicyOutput)
	if out.Tone != "concise" || out.Text != "Electronics can be returned within 30 days." {
		t.Fatalf("expected concise passthrough, got tone=%q text=%q", out.Tone, out.Text)
	}
}

func TestDispatchValidation(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(t, nil)

	res := dispatch(t, d, "no_such_tool", nil)
	if res.Status != contractx.ToolStatusError || !strings.Contains(res.Detail, "tool not found") {
		t.Fatalf("expected a tool-not-found result, got %+v", res)
	}

	res = dispatch(t, d, ToolCalculateRefund, map[string]any{"condition": "opened", "reason": "defect"})
	if res.Status != contractx.ToolStatusError || !strings.Contains(res.Detail, "missing required argument") {
		t.Fatalf("expected a missing-argument result, got %+v", res)
	}

	res = dispatch(t, d, ToolCalculateRefund, map[string]any{
		"price": "five hundred", "condition": "opened", "reason": "defect",
	})
	if res.Status != contractx.ToolStatusError || !strings.Contains(res.Detail, "must be a number") {
		t.Fatalf("expected a type-mismatch result, got %+v", res)
	}

	res = dispatch(t, d, ToolFormatPolicy, map[string]any{"snippet": "x", "shout": true})
	if res.Status != contractx.ToolStatusError || !strings.Contains(res.Detail, "unknown argument") {
		t.Fatalf("expected an unknown-argument result, got %+v", res)
	}
}

func TestDispatchHandlerPanicIsIsolated(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	if err := registry.Register(Definition{
		Name: "explode",
		Kind: contractx.ToolKindLocal,
		Handler: func(ctx context.Context, args map[string]any) (any, contractx.MemoryPatch, error) {
			panic("boom")
		},
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	d, err := NewDispatcher(registry, nil)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}

	res := dispatch(t, d, "explode", nil)
	if res.Status != contractx.ToolStatusError || !strings.Contains(res.Detail, "handler panic") {
		t.Fatalf("expected the panic folded into the result, got %+v", res)
	}
}

func TestDispatchGateway(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{payload: map[string]any{"order_id": "ORD-001", "amount": 129.99}}
	d, _ := newTestDispatcher(t, gw)

	res := dispatch(t, d, ToolLookupOrder, map[string]any{"order_id": "ORD-001"})
	if res.Status != contractx.ToolStatusOK {
		t.Fatalf("unexpected failure: %s", res.Detail)
	}
	if len(gw.targets) != 1 || gw.targets[0] != "order-lookup" {
		t.Fatalf("unexpected gateway targets: %v", gw.targets)
	}

	gw.err = contractx.ErrTargetUnavailable
	res = dispatch(t, d, ToolLookupOrder, map[string]any{"order_id": "ORD-002"})
	if res.Status != contractx.ToolStatusError {
		t.Fatal("expected a degraded result when the gateway fails")
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	def := Definition{
		Name: "sample",
		Kind: contractx.ToolKindLocal,
		Handler: func(ctx context.Context, args map[string]any) (any, contractx.MemoryPatch, error) {
			return nil, nil, nil
		},
	}
	if err := registry.Register(def); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := registry.Register(def); !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected ErrDuplicateTool, got %v", err)
	}
	if err := registry.Register(Definition{Name: "broken", Kind: contractx.ToolKindLocal}); err == nil {
		t.Fatal("expected rejection of a local tool without a handler")
	}
	if err := registry.Register(Definition{Name: "remote", Kind: contractx.ToolKindGateway}); err == nil {
		t.Fatal("expected rejection of a gateway tool without a target")
	}
}

func TestRegistryInfosSorted(t *testing.T) {
	t.Parallel()

	_, registry := newTestDispatcher(t, nil)
	infos := registry.Infos()
	if len(infos) != 5 {
		t.Fatalf("expected 5 tool schemas, got %d", len(infos))
	}
	for i := 1; i < len(infos); i++ {
		if infos[i-1].Name >= infos[i].Name {
			t.Fatalf("schemas not sorted: %s before %s", infos[i-1].Name, infos[i].Name)
		}
	}
}

func TestSearchKnowledgeDegrades(t *testing.T) {
	t.Parallel()

	catalog := policyx.MustLoad()
	retriever := &fakeRetriever{
		result: contractx.RetrievalResult{Degraded: true},
		err:    contractx.ErrRetrievalUnavailable,
	}
	registry := NewRegistry()
	if err := RegisterAll(registry, Defaults(catalog, retriever, "", fixedNow)); err != nil {
		t.Fatalf("RegisterAll() error = %v", err)
	}
	d, err := NewDispatcher(registry, nil)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}

	res := dispatch(t, d, ToolSearchKnowledge, map[string]any{"query": "return window"})
	if res.Status != contractx.ToolStatusOK {
		t.Fatalf("degraded retrieval must still produce an ok result: %s", res.Detail)
	}
	rr := res.Payload.(contractx.RetrievalResult)
	if !rr.Degraded {
		t.Fatal("expected the degraded flag to survive")
	}
}
