package classifier

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Checker-Finance/copytrader/pkg/model"
)

const (
	minSymbolLen = 2
	maxSymbolLen = 15

	tokenCategory = "token"
)

// Rules is the injected classification data: which addresses are pools and
// which symbols count as quote assets.
type Rules struct {
	pools  map[string]struct{}
	quotes map[string]struct{}
}

// NewRules validates and indexes the pool addresses and quote symbols.
func NewRules(poolAddresses, quoteSymbols []string) (Rules, error) {
	r := Rules{
		pools:  make(map[string]struct{}, len(poolAddresses)),
		quotes: make(map[string]struct{}, len(quoteSymbols)),
	}
	for _, addr := range poolAddresses {
		addr = strings.TrimSpace(addr)
		if !common.IsHexAddress(addr) {
			return Rules{}, fmt.Errorf("invalid pool address %q", addr)
		}
		r.pools[strings.ToLower(addr)] = struct{}{}
	}
	if len(r.pools) == 0 {
		return Rules{}, fmt.Errorf("at least one pool address is required")
	}
	for _, sym := range quoteSymbols {
		if s := strings.ToUpper(strings.TrimSpace(sym)); s != "" {
			r.quotes[s] = struct{}{}
		}
	}
	return r, nil
}

// MustRules is NewRules for static inputs; it panics on invalid data.
func MustRules(poolAddresses, quoteSymbols []string) Rules {
	r, err := NewRules(poolAddresses, quoteSymbols)
	if err != nil {
		panic(err)
	}
	return r
}

// IsPool reports whether addr is a configured pool address.
func (r Rules) IsPool(addr string) bool {
	_, ok := r.pools[strings.ToLower(addr)]
	return ok
}

// IsQuote reports whether symbol is a configured quote asset.
func (r Rules) IsQuote(symbol string) bool {
	_, ok := r.quotes[strings.ToUpper(symbol)]
	return ok
}

// Classify turns one activity into a trade signal when it is a token transfer
// with a pool on exactly one recognizable side. Transfers into a pool are
// the trader selling, transfers out of a pool are the trader buying.
func Classify(a model.Activity, rules Rules) (*model.ClassifiedTrade, bool) {
	if a.Category != "" && !strings.EqualFold(a.Category, tokenCategory) {
		return nil, false
	}

	toPool := rules.IsPool(a.ToAddress)
	fromPool := rules.IsPool(a.FromAddress)
	if !toPool && !fromPool {
		return nil, false
	}

	if n := len(a.Asset); n < minSymbolLen || n > maxSymbolLen {
		return nil, false
	}

	trade := &model.ClassifiedTrade{
		BaseAsset:    a.Asset,
		TokenAddress: a.TokenAddress(),
		TxHash:       a.Hash,
		Value:        a.Value,
	}
	switch {
	case toPool:
		trade.Direction = model.DirectionSell
		trade.TraderAddress = a.FromAddress
	case fromPool:
		trade.Direction = model.DirectionBuy
		trade.TraderAddress = a.ToAddress
	}

	if rules.IsQuote(a.Asset) {
		trade.QuoteAsset = strings.ToUpper(a.Asset)
	}
	return trade, true
}
