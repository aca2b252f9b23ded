package venue

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	futures "github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"

	"tradeflow/config"
	"tradeflow/logger"
	"tradeflow/models"
)

const rulesCacheTTL = 5 * time.Minute

// Binance talks to Binance USD-M futures through the go-binance client. All
// REST calls go through a shared rate limiter; read-only calls are retried
// with capped exponential backoff, order submissions and cancels are not.
type Binance struct {
	config  *config.Config
	client  *futures.Client
	limiter *rate.Limiter
	log     *logger.Log

	mu         sync.RWMutex
	rules      map[string]*models.SymbolRules
	rulesSince time.Time
}

// NewBinance creates a venue client from configuration. Credentials may be
// empty for read-only use (ticker, exchange info).
func NewBinance(cfg *config.Config) *Binance {
	log := logger.GetLogger()
	bcfg := cfg.Venue.Binance

	transport := &http.Transport{
		MaxIdleConns:       bcfg.ConnectionPool.MaxIdleConns,
		MaxConnsPerHost:    bcfg.ConnectionPool.MaxConnsPerHost,
		IdleConnTimeout:    bcfg.ConnectionPool.IdleConnTimeout,
		DisableCompression: false,
	}

	httpClient := &http.Client{
		Transport: transport,
		Timeout:   bcfg.Timeout,
	}

	if bcfg.Testnet {
		futures.UseTestnet = true
	}

	client := futures.NewClient(bcfg.APIKey, bcfg.APISecret)
	client.HTTPClient = httpClient

	if bcfg.BaseURL != "" {
		if parsed, err := url.Parse(bcfg.BaseURL); err == nil {
			base := fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
			client.SetApiEndpoint(base)
		}
	}

	limiter := rate.NewLimiter(rate.Limit(bcfg.RateLimit.RequestsPerSecond), bcfg.RateLimit.BurstSize)

	v := &Binance{
		config:  cfg,
		client:  client,
		limiter: limiter,
		log:     log,
		rules:   make(map[string]*models.SymbolRules),
	}

	log.WithComponent("binance_venue").WithFields(logger.Fields{
		"testnet":     bcfg.Testnet,
		"timeout":     bcfg.Timeout,
		"rate_limit":  bcfg.RateLimit.RequestsPerSecond,
		"has_api_key": bcfg.APIKey != "",
	}).Info("binance venue initialized")

	return v
}

func (v *Binance) wait(ctx context.Context) error {
	if err := v.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	logger.IncrementVenueRequest()
	return nil
}

// withRetry runs fn for read-only calls. Rejections from the venue abort
// immediately; transport failures are retried per the configured policy.
func (v *Binance) withRetry(ctx context.Context, op string, fn func() error) error {
	retry := v.config.Venue.Binance.Retry
	delay := retry.BaseDelay

	var err error
	for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if IsRejection(err) || attempt == retry.MaxAttempts {
			break
		}
		v.log.WithComponent("binance_venue").WithError(err).WithFields(logger.Fields{
			"operation": op,
			"attempt":   attempt,
		}).Warn("request failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if retry.MaxDelay > 0 && delay > retry.MaxDelay {
			delay = retry.MaxDelay
		}
	}
	return err
}

// SubmitOrder sends one order and returns the venue's view of it. Quantities
// and prices are formatted with the instrument's declared precision; callers
// are expected to have clamped them already.
func (v *Binance) SubmitOrder(ctx context.Context, req OrderRequest) (*models.OrderHandle, error) {
	if err := v.wait(ctx); err != nil {
		return nil, err
	}

	rules, err := v.SymbolRules(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("load symbol rules: %w", err)
	}

	svc := v.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderType(req.Type)).
		Quantity(formatDecimal(req.Quantity, rules.QuantityPrec))

	switch req.Type {
	case models.OrderTypeLimit:
		tif := req.TimeInForce
		if tif == "" {
			tif = models.TimeInForceGTC
		}
		svc = svc.TimeInForce(futures.TimeInForceType(tif)).
			Price(formatDecimal(req.Price, rules.PricePrec))
	case models.OrderTypeStopLimit:
		tif := req.TimeInForce
		if tif == "" {
			tif = models.TimeInForceGTC
		}
		svc = svc.TimeInForce(futures.TimeInForceType(tif)).
			Price(formatDecimal(req.Price, rules.PricePrec)).
			StopPrice(formatDecimal(req.StopPrice, rules.PricePrec))
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("submit order: %w", err)
	}
	logger.IncrementOrderSubmitted()

	return &models.OrderHandle{
		OrderID:     res.OrderID,
		Symbol:      res.Symbol,
		Side:        models.Side(res.Side),
		Type:        models.OrderType(res.Type),
		Status:      models.OrderStatus(res.Status),
		Price:       parseFloat(res.Price),
		OrigQty:     parseFloat(res.OrigQuantity),
		ExecutedQty: parseFloat(res.ExecutedQuantity),
		AvgPrice:    parseFloat(res.AvgPrice),
		UpdateTime:  time.UnixMilli(res.UpdateTime),
	}, nil
}

// GetOrder refreshes the venue's view of a previously submitted order.
func (v *Binance) GetOrder(ctx context.Context, symbol string, orderID int64) (*models.OrderHandle, error) {
	var res *futures.Order
	err := v.withRetry(ctx, "get_order", func() error {
		if err := v.wait(ctx); err != nil {
			return err
		}
		var err error
		res, err = v.client.NewGetOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get order %d: %w", orderID, err)
	}

	return &models.OrderHandle{
		OrderID:     res.OrderID,
		Symbol:      res.Symbol,
		Side:        models.Side(res.Side),
		Type:        models.OrderType(res.Type),
		Status:      models.OrderStatus(res.Status),
		Price:       parseFloat(res.Price),
		OrigQty:     parseFloat(res.OrigQuantity),
		ExecutedQty: parseFloat(res.ExecutedQuantity),
		AvgPrice:    parseFloat(res.AvgPrice),
		UpdateTime:  time.UnixMilli(res.UpdateTime),
	}, nil
}

// CancelOrder cancels a resting order. Not retried: a second attempt after a
// transport failure could race a fill.
func (v *Binance) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	if err := v.wait(ctx); err != nil {
		return err
	}
	if _, err := v.client.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx); err != nil {
		return fmt.Errorf("cancel order %d: %w", orderID, err)
	}
	logger.IncrementOrderCanceled()
	return nil
}

// TickerPrice returns the latest traded price for the symbol.
func (v *Binance) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	var prices []*futures.SymbolPrice
	err := v.withRetry(ctx, "ticker_price", func() error {
		if err := v.wait(ctx); err != nil {
			return err
		}
		var err error
		prices, err = v.client.NewListPricesService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("ticker price %s: %w", symbol, err)
	}
	for _, p := range prices {
		if p.Symbol == symbol {
			return parseFloat(p.Price), nil
		}
	}
	return 0, fmt.Errorf("ticker price %s: symbol not in response", symbol)
}

// AvailableBalance returns the free balance of one asset in the futures
// account, 0 when the asset is absent.
func (v *Binance) AvailableBalance(ctx context.Context, asset string) (float64, error) {
	var account *futures.Account
	err := v.withRetry(ctx, "available_balance", func() error {
		if err := v.wait(ctx); err != nil {
			return err
		}
		var err error
		account, err = v.client.NewGetAccountService().Do(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("account balance: %w", err)
	}
	for _, a := range account.Assets {
		if a.Asset == asset {
			return parseFloat(a.AvailableBalance), nil
		}
	}
	return 0, nil
}

// SymbolRules returns the trading constraints for a symbol. Exchange info is
// fetched for all symbols at once and cached for a few minutes; filters
// change rarely enough that a session never needs a fresher view.
func (v *Binance) SymbolRules(ctx context.Context, symbol string) (*models.SymbolRules, error) {
	v.mu.RLock()
	if r, ok := v.rules[symbol]; ok && time.Since(v.rulesSince) < rulesCacheTTL {
		v.mu.RUnlock()
		return r, nil
	}
	v.mu.RUnlock()

	var info *futures.ExchangeInfo
	err := v.withRetry(ctx, "exchange_info", func() error {
		if err := v.wait(ctx); err != nil {
			return err
		}
		var err error
		info, err = v.client.NewExchangeInfoService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("exchange info: %w", err)
	}

	v.mu.Lock()
	v.rules = make(map[string]*models.SymbolRules, len(info.Symbols))
	v.rulesSince = time.Now()
	for i := range info.Symbols {
		s := &info.Symbols[i]
		r := &models.SymbolRules{
			Symbol:       s.Symbol,
			Tradeable:    s.Status == "TRADING",
			PricePrec:    s.PricePrecision,
			QuantityPrec: s.QuantityPrecision,
			BaseAsset:    s.BaseAsset,
			QuoteAsset:   s.QuoteAsset,
		}
		if f := s.LotSizeFilter(); f != nil {
			r.MinQty = parseFloat(f.MinQuantity)
			r.MaxQty = parseFloat(f.MaxQuantity)
			r.QuantityStep = parseFloat(f.StepSize)
		}
		if f := s.PriceFilter(); f != nil {
			r.MinPrice = parseFloat(f.MinPrice)
			r.MaxPrice = parseFloat(f.MaxPrice)
			r.PriceTick = parseFloat(f.TickSize)
		}
		if f := s.MinNotionalFilter(); f != nil {
			r.MinNotional = parseFloat(f.Notional)
		}
		v.rules[s.Symbol] = r
	}
	r, ok := v.rules[symbol]
	v.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("symbol %s not found on venue", symbol)
	}
	return r, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// formatDecimal renders a value with at most prec decimal places, trimming
// trailing zeros the way the venue expects.
func formatDecimal(v float64, prec int) string {
	s := strconv.FormatFloat(v, 'f', prec, 64)
	if prec > 0 {
		s = trimTrailingZeros(s)
	}
	return s
}

func trimTrailingZeros(s string) string {
	i := len(s)
	for i > 0 && s[i-1] == '0' {
		i--
	}
	if i > 0 && s[i-1] == '.' {
		i--
	}
	return s[:i]
}
