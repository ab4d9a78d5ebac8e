package mexc

import "time"

// CalendarEntry is a transient record from the calendar endpoint.
type CalendarEntry struct {
	VcoinID         string `json:"vcoinId"`
	Symbol          string `json:"symbol"`
	ProjectName     string `json:"projectName"`
	FirstOpenTimeMs int64  `json:"firstOpenTime"`
}

// LaunchTime derives the UTC launch instant from FirstOpenTimeMs.
func (c CalendarEntry) LaunchTime() time.Time {
	return time.UnixMilli(c.FirstOpenTimeMs).UTC()
}

// SymbolRecord is a transient record from the symbolsV2 endpoint.
type SymbolRecord struct {
	VcoinID    string `json:"cd"`
	Contract   string `json:"ca,omitempty"`
	PriceScale *int   `json:"ps,omitempty"`
	QtyScale   *int   `json:"qs,omitempty"`
	OpenTimeMs *int64 `json:"ot,omitempty"`
	STS        int    `json:"sts"`
	ST         int    `json:"st"`
	TT         int    `json:"tt"`
}

// MatchesReady reports whether (sts, st, tt) equals the given pattern.
func (s SymbolRecord) MatchesReady(pattern [3]int) bool {
	return s.STS == pattern[0] && s.ST == pattern[1] && s.TT == pattern[2]
}

// HasCompleteData reports whether contract, price scale, qty scale, and
// open time are all present.
func (s SymbolRecord) HasCompleteData() bool {
	return s.Contract != "" && s.PriceScale != nil && s.QtyScale != nil && s.OpenTimeMs != nil
}

// OrderResponse is the decoded response of a signed market-buy order.
type OrderResponse struct {
	OrderID      string `json:"orderId"`
	Symbol       string `json:"symbol"`
	Status       string `json:"status"`
	ExecutedQty  string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
}

// AccountInfo is the decoded response of the signed account endpoint.
type AccountInfo struct {
	CanTrade bool `json:"canTrade"`
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}
