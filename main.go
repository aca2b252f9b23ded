package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"tradeflow/config"
	"tradeflow/engine"
	"tradeflow/journal"
	"tradeflow/logger"
	"tradeflow/models"
	"tradeflow/orders"
	"tradeflow/validate"
	"tradeflow/venue"
)

const usage = `usage: tradeflow [flags] COMMAND [args]

Commands:
  market     SYMBOL SIDE QUANTITY                    place a market order
  limit      SYMBOL SIDE QUANTITY PRICE              place a limit order
  stop-limit SYMBOL SIDE QUANTITY STOP LIMIT         place a stop-limit order
  oco        SYMBOL SIDE QUANTITY TP STOP STOPLIMIT  place a simulated OCO pair
  status     SYMBOL ORDER_ID                         show the state of an order
  cancel     SYMBOL ORDER_ID                         cancel a resting order
  twap       SYMBOL SIDE QUANTITY                    run a twap execution
  grid       SYMBOL LOWER UPPER                      run a grid session

Flags:
  -config path   configuration file (default config/config.yml)
  -yes           skip interactive confirmations
`

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	yes := flag.Bool("yes", false, "Skip interactive confirmations")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Tradeflow.Name,
		"version": cfg.Tradeflow.Version,
	}).Info("starting tradeflow")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Metrics.CloudWatch {
		logger.InitCloudWatch(cfg.Metrics.Region, cfg.Metrics.Namespace)
		logger.StartReport(ctx, log, cfg.Metrics.ReportInterval)
	}

	var decider engine.Decider = engine.AutoDecider{}
	if !*yes {
		decider = &promptDecider{}
	}

	v := venue.NewBinance(cfg)

	command := flag.Arg(0)
	args := flag.Args()[1:]
	if err := dispatch(ctx, cfg, v, decider, command, args); err != nil {
		log.WithError(err).WithFields(logger.Fields{"command": command}).Error("command failed")
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, cfg *config.Config, v venue.Venue, decider engine.Decider, command string, args []string) error {
	switch command {
	case "market":
		return runMarket(ctx, v, args)
	case "limit":
		return runLimit(ctx, v, args)
	case "stop-limit":
		return runStopLimit(ctx, v, args)
	case "oco":
		return runOCO(ctx, v, args)
	case "status":
		return runStatus(ctx, v, args)
	case "cancel":
		return runCancel(ctx, v, args)
	case "twap":
		return runTWAP(ctx, cfg, v, decider, args)
	case "grid":
		return runGrid(ctx, cfg, v, decider, args)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func runMarket(ctx context.Context, v venue.Venue, args []string) error {
	fs := flag.NewFlagSet("market", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 3 {
		return fmt.Errorf("usage: market SYMBOL SIDE QUANTITY")
	}

	side, err := validate.Side(fs.Arg(1))
	if err != nil {
		return err
	}
	quantity, err := parsePositive(fs.Arg(2), "quantity")
	if err != nil {
		return err
	}

	handle, err := orders.Market(ctx, v, strings.ToUpper(fs.Arg(0)), side, quantity)
	if err != nil {
		return err
	}
	fmt.Println(handle)
	return nil
}

func runLimit(ctx context.Context, v venue.Venue, args []string) error {
	fs := flag.NewFlagSet("limit", flag.ExitOnError)
	tif := fs.String("tif", "GTC", "Time in force (GTC/IOC/FOK)")
	fs.Parse(args)
	if fs.NArg() != 4 {
		return fmt.Errorf("usage: limit SYMBOL SIDE QUANTITY PRICE [-tif GTC]")
	}

	side, err := validate.Side(fs.Arg(1))
	if err != nil {
		return err
	}
	quantity, err := parsePositive(fs.Arg(2), "quantity")
	if err != nil {
		return err
	}
	price, err := parsePositive(fs.Arg(3), "price")
	if err != nil {
		return err
	}
	timeInForce, err := models.ParseTimeInForce(*tif)
	if err != nil {
		return err
	}

	handle, err := orders.Limit(ctx, v, strings.ToUpper(fs.Arg(0)), side, quantity, price, timeInForce)
	if err != nil {
		return err
	}
	fmt.Println(handle)
	return nil
}

func runStopLimit(ctx context.Context, v venue.Venue, args []string) error {
	fs := flag.NewFlagSet("stop-limit", flag.ExitOnError)
	tif := fs.String("tif", "GTC", "Time in force (GTC/IOC/FOK)")
	fs.Parse(args)
	if fs.NArg() != 5 {
		return fmt.Errorf("usage: stop-limit SYMBOL SIDE QUANTITY STOP_PRICE LIMIT_PRICE [-tif GTC]")
	}

	side, err := validate.Side(fs.Arg(1))
	if err != nil {
		return err
	}
	quantity, err := parsePositive(fs.Arg(2), "quantity")
	if err != nil {
		return err
	}
	stopPrice, err := parsePositive(fs.Arg(3), "stop price")
	if err != nil {
		return err
	}
	limitPrice, err := parsePositive(fs.Arg(4), "limit price")
	if err != nil {
		return err
	}
	timeInForce, err := models.ParseTimeInForce(*tif)
	if err != nil {
		return err
	}

	handle, err := orders.StopLimit(ctx, v, strings.ToUpper(fs.Arg(0)), side, quantity, stopPrice, limitPrice, timeInForce)
	if err != nil {
		return err
	}
	fmt.Println(handle)
	return nil
}

func runOCO(ctx context.Context, v venue.Venue, args []string) error {
	fs := flag.NewFlagSet("oco", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 6 {
		return fmt.Errorf("usage: oco SYMBOL SIDE QUANTITY TP_PRICE STOP_PRICE STOP_LIMIT_PRICE")
	}

	side, err := validate.Side(fs.Arg(1))
	if err != nil {
		return err
	}
	quantity, err := parsePositive(fs.Arg(2), "quantity")
	if err != nil {
		return err
	}
	takeProfit, err := parsePositive(fs.Arg(3), "take-profit price")
	if err != nil {
		return err
	}
	stopLoss, err := parsePositive(fs.Arg(4), "stop-loss price")
	if err != nil {
		return err
	}
	stopLimit, err := parsePositive(fs.Arg(5), "stop-limit price")
	if err != nil {
		return err
	}

	pair, err := orders.OCO(ctx, v, strings.ToUpper(fs.Arg(0)), side, quantity, takeProfit, stopLoss, stopLimit)
	if err != nil {
		return err
	}
	fmt.Println(pair.TakeProfit)
	fmt.Println(pair.StopLoss)
	return nil
}

func runStatus(ctx context.Context, v venue.Venue, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: status SYMBOL ORDER_ID")
	}

	orderID, err := strconv.ParseInt(fs.Arg(1), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid order id %q: %w", fs.Arg(1), err)
	}

	handle, err := orders.Status(ctx, v, strings.ToUpper(fs.Arg(0)), orderID)
	if err != nil {
		return err
	}
	fmt.Println(handle)
	return nil
}

func runCancel(ctx context.Context, v venue.Venue, args []string) error {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: cancel SYMBOL ORDER_ID")
	}

	orderID, err := strconv.ParseInt(fs.Arg(1), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid order id %q: %w", fs.Arg(1), err)
	}

	symbol := strings.ToUpper(fs.Arg(0))
	if err := orders.Cancel(ctx, v, symbol, orderID); err != nil {
		return err
	}
	fmt.Printf("order %d on %s canceled\n", orderID, symbol)
	return nil
}

func runTWAP(ctx context.Context, cfg *config.Config, v venue.Venue, decider engine.Decider, args []string) error {
	fs := flag.NewFlagSet("twap", flag.ExitOnError)
	chunks := fs.Int("chunks", 10, "Number of chunks")
	duration := fs.Duration("duration", 0, "Total execution duration")
	interval := fs.Duration("interval", 0, "Interval between chunks")
	fs.Parse(args)
	if fs.NArg() != 3 {
		return fmt.Errorf("usage: twap SYMBOL SIDE QUANTITY [-chunks 10] [-duration 60m] [-interval 120s]")
	}

	symbol := strings.ToUpper(fs.Arg(0))
	quantity, err := parsePositive(fs.Arg(2), "quantity")
	if err != nil {
		return err
	}

	resolvedInterval := *interval
	if resolvedInterval == 0 && *duration == 0 {
		resolvedInterval = cfg.Engine.Twap.DefaultInterval
	}

	val, err := validate.NewValidator(ctx, v, symbol)
	if err != nil {
		return err
	}
	jnl, err := journal.NewSession(ctx, cfg.Journal, "twap", symbol)
	if err != nil {
		return err
	}
	defer jnl.Close(context.WithoutCancel(ctx))

	tw := engine.NewTWAP(v, val, engine.TWAPConfig{
		Symbol:        symbol,
		Side:          models.Side(strings.ToUpper(fs.Arg(1))),
		TotalQuantity: quantity,
		NumChunks:     *chunks,
		Interval:      resolvedInterval,
		Duration:      *duration,
		Decider:       decider,
		Journal:       jnl,
	})

	stats, err := tw.Run(ctx)
	if err != nil {
		return err
	}
	printTWAPStats(stats)
	return nil
}

func runGrid(ctx context.Context, cfg *config.Config, v venue.Venue, decider engine.Decider, args []string) error {
	fs := flag.NewFlagSet("grid", flag.ExitOnError)
	grids := fs.Int("grids", 10, "Number of grid levels")
	quantity := fs.Float64("quantity", 0, "Quantity per grid level")
	interval := fs.Duration("interval", 0, "Fill check interval")
	fs.Parse(args)
	if fs.NArg() != 3 {
		return fmt.Errorf("usage: grid SYMBOL LOWER UPPER -quantity 0.01 [-grids 10] [-interval 5s]")
	}
	if *quantity <= 0 {
		return fmt.Errorf("grid requires -quantity greater than zero")
	}

	symbol := strings.ToUpper(fs.Arg(0))
	lower, err := parsePositive(fs.Arg(1), "lower price")
	if err != nil {
		return err
	}
	upper, err := parsePositive(fs.Arg(2), "upper price")
	if err != nil {
		return err
	}

	pollInterval := *interval
	if pollInterval == 0 {
		pollInterval = cfg.Engine.Grid.PollInterval
	}

	val, err := validate.NewValidator(ctx, v, symbol)
	if err != nil {
		return err
	}
	jnl, err := journal.NewSession(ctx, cfg.Journal, "grid", symbol)
	if err != nil {
		return err
	}
	defer jnl.Close(context.WithoutCancel(ctx))

	g := engine.NewGrid(v, val, engine.GridConfig{
		Symbol:          symbol,
		LowerPrice:      lower,
		UpperPrice:      upper,
		NumGrids:        *grids,
		QuantityPerGrid: *quantity,
		PollInterval:    pollInterval,
		StatusEvery:     cfg.Engine.Grid.StatusEvery,
		Decider:         decider,
		Journal:         jnl,
	})

	summary, err := g.Run(ctx)
	if err != nil {
		return err
	}
	printGridSummary(summary)
	return nil
}

func printTWAPStats(stats *engine.TWAPStats) {
	fmt.Printf("twap finished: %s\n", stats.State)
	fmt.Printf("  orders executed: %d (failed %d)\n", stats.NumOrders, stats.NumFailed)
	fmt.Printf("  total quantity:  %.8f\n", stats.TotalExecuted)
	fmt.Printf("  average price:   %.2f\n", stats.AveragePrice)
	if stats.TotalCost > 0 {
		fmt.Printf("  total cost:      %.2f\n", stats.TotalCost)
	}
	if stats.TotalProceeds > 0 {
		fmt.Printf("  total proceeds:  %.2f\n", stats.TotalProceeds)
	}
	if stats.EffectiveTotal != stats.RequestedTotal {
		fmt.Printf("  requested %.8f adjusted to %.8f by quantity step\n",
			stats.RequestedTotal, stats.EffectiveTotal)
	}
}

func printGridSummary(summary *engine.GridSummary) {
	fmt.Printf("grid finished: %s\n", summary.State)
	fmt.Printf("  buys filled:      %d\n", summary.FilledBuys)
	fmt.Printf("  sells filled:     %d\n", summary.FilledSells)
	fmt.Printf("  orders cancelled: %d\n", summary.Canceled)
	fmt.Printf("  realized profit:  %.2f\n", summary.RealizedProfit)
}

func parsePositive(s, name string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be positive", name)
	}
	return v, nil
}

// promptDecider asks on stdin before starting an engine and after a failed
// chunk.
type promptDecider struct{}

func (p *promptDecider) ConfirmStart(plan string) bool {
	fmt.Println(plan)
	fmt.Print("Proceed? (y/n): ")
	return p.readYes()
}

func (p *promptDecider) ContinueAfterFailure(seq int, err error) bool {
	fmt.Printf("chunk %d failed: %v\n", seq, err)
	fmt.Print("Continue with remaining chunks? (y/n): ")
	return p.readYes()
}

func (p *promptDecider) readYes() bool {
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), "y")
}
