package models

// SymbolRules captures the trading constraints a venue enforces for one
// instrument. Prices must sit on multiples of PriceTick, quantities on
// multiples of QuantityStep, and every order must clear MinNotional.
type SymbolRules struct {
	Symbol        string  `json:"symbol"`
	Tradeable     bool    `json:"tradeable"`
	PriceTick     float64 `json:"price_tick"`
	QuantityStep  float64 `json:"quantity_step"`
	MinQty        float64 `json:"min_qty"`
	MaxQty        float64 `json:"max_qty"`
	MinPrice      float64 `json:"min_price"`
	MaxPrice      float64 `json:"max_price"`
	MinNotional   float64 `json:"min_notional"`
	PricePrec     int     `json:"price_precision"`
	QuantityPrec  int     `json:"quantity_precision"`
	QuoteAsset    string  `json:"quote_asset"`
	BaseAsset     string  `json:"base_asset"`
}
