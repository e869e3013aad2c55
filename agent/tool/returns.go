package tool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/caretaker-labs/caretaker/agent/contract"
	policyx "github.com/caretaker-labs/caretaker/agent/policy"
)

const (
	ToolCheckEligibility = "check_return_eligibility"
	ToolCalculateRefund  = "calculate_refund_amount"
	ToolFormatPolicy     = "format_policy"
	ToolSearchKnowledge  = "search_knowledge_base"
	ToolLookupOrder      = "lookup_order"

	purchaseDateLayout = "2006-01-02"
)

type EligibilityOutput struct {
	Eligible      bool   `json:"eligible"`
	Reason        string `json:"reason"`
	WindowDays    int    `json:"window_days"`
	DaysRemaining int    `json:"days_remaining"`
}

type RefundOutput struct {
	Refund             float64 `json:"refund"`
	ConditionFactor    float64 `json:"condition_factor"`
	RestockingFee      float64 `json:"restocking_fee"`
	ShippingAdjustment float64 `json:"shipping_adjustment"`
}

type PolicyOutput struct {
	Text string `json:"text"`
	Tone string `json:"tone"`
}

// Defaults builds the static tool table: the local business-rule tools,
// the knowledge retrieval tool, and the gateway-backed order lookup.
// Registration order is deterministic; a duplicate name is a bootstrap bug
// and surfaces as ErrDuplicateTool from the registry.
func Defaults(catalog *policyx.Catalog, retriever contractx.Retriever, orderTarget string, now func() time.Time) []Definition {
	if now == nil {
		now = time.Now
	}

	defs := []Definition{
		{
			Name: ToolCheckEligibility,
			Desc: "Check whether a purchase is eligible for return given its purchase date, category, and condition.",
			Kind: contractx.ToolKindLocal,
			Params: map[string]*schema.ParameterInfo{
				"purchase_date": {Type: schema.String, Desc: "Purchase date in YYYY-MM-DD format", Required: true},
				"category":      {Type: schema.String, Desc: "Product category, e.g. electronics", Required: true},
				"condition":     {Type: schema.String, Desc: "Item condition: unopened, opened, used, defective", Required: true},
			},
			Handler: checkEligibility(catalog, now),
		},
		{
			Name: ToolCalculateRefund,
			Desc: "Calculate the refund amount for a return given price, item condition, and return reason.",
			Kind: contractx.ToolKindLocal,
			Params: map[string]*schema.ParameterInfo{
				"price":     {Type: schema.Number, Desc: "Purchase price", Required: true},
				"condition": {Type: schema.String, Desc: "Item condition: unopened, opened, used, defective", Required: true},
				"reason":    {Type: schema.String, Desc: "Return reason, e.g. defect, changed_mind", Required: true},
				"category":  {Type: schema.String, Desc: "Product category for restocking fees"},
			},
			Handler: calculateRefund(catalog),
		},
		{
			Name: ToolFormatPolicy,
			Desc: "Format a policy snippet in the requested tone for the customer.",
			Kind: contractx.ToolKindLocal,
			Params: map[string]*schema.ParameterInfo{
				"snippet": {Type: schema.String, Desc: "Policy text to format", Required: true},
				"tone":    {Type: schema.String, Desc: "Tone: formal, friendly, or concise"},
			},
			Handler: formatPolicy(catalog),
		},
	}

	if retriever != nil {
		defs = append(defs, Definition{
			Name: ToolSearchKnowledge,
			Desc: "Search the returns knowledge base for grounding snippets.",
			Kind: contractx.ToolKindLocal,
			Params: map[string]*schema.ParameterInfo{
				"query": {Type: schema.String, Desc: "Natural language query", Required: true},
			},
			Handler: searchKnowledge(retriever),
		})
	}

	if strings.TrimSpace(orderTarget) != "" {
		defs = append(defs, Definition{
			Name: ToolLookupOrder,
			Desc: "Look up order details by order ID, including product, purchase date, amount, and return eligibility.",
			Kind: contractx.ToolKindGateway,
			Params: map[string]*schema.ParameterInfo{
				"order_id": {Type: schema.String, Desc: "The order ID to look up, e.g. ORD-001", Required: true},
			},
			Target: orderTarget,
		})
	}

	return defs
}

// RegisterAll loads definitions into the registry, failing fast on the
// first conflict.
func RegisterAll(registry *Registry, defs []Definition) error {
	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func checkEligibility(catalog *policyx.Catalog, now func() time.Time) Handler {
	return func(_ context.Context, args map[string]any) (any, contractx.MemoryPatch, error) {
		rawDate, _ := args["purchase_date"].(string)
		purchased, err := time.Parse(purchaseDateLayout, strings.TrimSpace(rawDate))
		if err != nil {
			return nil, nil, fmt.Errorf("purchase_date must be YYYY-MM-DD: %v", err)
		}
		if purchased.After(now().UTC()) {
			return nil, nil, fmt.Errorf("purchase_date %s is in the future", purchased.Format(purchaseDateLayout))
		}

		category, _ := args["category"].(string)
		condition, _ := args["condition"].(string)

		windowDays := catalog.WindowDays(category)
		elapsed := int(now().UTC().Sub(purchased.UTC()).Hours() / 24)
		remaining := windowDays - elapsed
		if remaining < 0 {
			remaining = 0
		}

		out := EligibilityOutput{
			WindowDays:    windowDays,
			DaysRemaining: remaining,
		}

		// Defective items are eligible regardless of the window; the
		// window only gates non-defect conditions.
		switch {
		case strings.EqualFold(strings.TrimSpace(condition), "defective"):
			out.Eligible = true
			out.Reason = "defective item, return window waived"
		case elapsed > windowDays:
			out.Eligible = false
			out.Reason = fmt.Sprintf("return window expired (%d days since purchase, window is %d)", elapsed, windowDays)
		default:
			out.Eligible = true
			out.Reason = fmt.Sprintf("within the %d-day return window", windowDays)
		}

		patch := contractx.MemoryPatch{
			"last_eligibility_check": fmt.Sprintf("category=%s eligible=%t", strings.TrimSpace(category), out.Eligible),
		}
		return out, patch, nil
	}
}

func calculateRefund(catalog *policyx.Catalog) Handler {
	return func(_ context.Context, args map[string]any) (any, contractx.MemoryPatch, error) {
		price, ok := toFloat(args["price"])
		if !ok {
			return nil, nil, fmt.Errorf("price must be a number")
		}
		if price < 0 {
			return nil, nil, fmt.Errorf("price must be >= 0")
		}

		condition, _ := args["condition"].(string)
		reason, _ := args["reason"].(string)
		category, _ := args["category"].(string)

		factor := catalog.ConditionFactor(condition)
		rule := catalog.Reason(reason)

		restocking := price * catalog.RestockingPercent(category) / 100
		if rule.SellerFault {
			restocking = 0
		}

		shipping := rule.ShippingCredit - rule.ShippingDeduction

		refund := price*factor - restocking + shipping
		if refund < 0 {
			refund = 0
		}
		if refund > price {
			refund = price
		}

		out := RefundOutput{
			Refund:             refund,
			ConditionFactor:    factor,
			RestockingFee:      restocking,
			ShippingAdjustment: shipping,
		}
		patch := contractx.MemoryPatch{
			"last_refund_quote": fmt.Sprintf("%.2f", refund),
		}
		return out, patch, nil
	}
}

func formatPolicy(catalog *policyx.Catalog) Handler {
	return func(_ context.Context, args map[string]any) (any, contractx.MemoryPatch, error) {
		snippet, _ := args["snippet"].(string)
		snippet = strings.TrimSpace(snippet)
		if snippet == "" {
			return nil, nil, fmt.Errorf("snippet is empty")
		}

		tone, _ := args["tone"].(string)
		tone = strings.TrimSpace(strings.ToLower(tone))
		if tone == "" {
			tone = "concise"
		}
		tpl := catalog.Tone(tone)

		return PolicyOutput{
			Text: tpl.Prefix + snippet + tpl.Suffix,
			Tone: tone,
		}, nil, nil
	}
}

func searchKnowledge(retriever contractx.Retriever) Handler {
	return func(ctx context.Context, args map[string]any) (any, contractx.MemoryPatch, error) {
		query, _ := args["query"].(string)
		if strings.TrimSpace(query) == "" {
			return nil, nil, fmt.Errorf("query is empty")
		}

		// Retrieval degrades instead of failing: an unreachable backend
		// still yields an ok result with the degraded flag set.
		res, err := retriever.Search(ctx, query)
		if err != nil && !res.Degraded {
			return nil, nil, err
		}
		return res, nil, nil
	}
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
