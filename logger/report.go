package logger

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

var (
	errorCount      int64
	warnCount       int64
	ordersSubmitted int64
	ordersCanceled  int64
	fillsObserved   int64
	venueRequests   int64
)

func recordWarn(string) {
	atomic.AddInt64(&warnCount, 1)
}

func recordError(string) {
	atomic.AddInt64(&errorCount, 1)
}

// IncrementOrderSubmitted counts a successful order submission.
func IncrementOrderSubmitted() {
	atomic.AddInt64(&ordersSubmitted, 1)
}

// IncrementOrderCanceled counts a successful cancellation.
func IncrementOrderCanceled() {
	atomic.AddInt64(&ordersCanceled, 1)
}

// IncrementFillObserved counts a fill reported by the venue.
func IncrementFillObserved() {
	atomic.AddInt64(&fillsObserved, 1)
}

// IncrementVenueRequest counts any request/response cycle with the venue.
func IncrementVenueRequest() {
	atomic.AddInt64(&venueRequests, 1)
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of execution statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	fields := Fields{
		"errors":           atomic.LoadInt64(&errorCount),
		"warns":            atomic.LoadInt64(&warnCount),
		"orders_submitted": atomic.LoadInt64(&ordersSubmitted),
		"orders_canceled":  atomic.LoadInt64(&ordersCanceled),
		"fills_observed":   atomic.LoadInt64(&fillsObserved),
		"venue_requests":   atomic.LoadInt64(&venueRequests),
		"goroutines":       runtime.NumGoroutine(),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("Errors"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors"].(int64)))},
		{MetricName: aws.String("Warns"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns"].(int64)))},
		{MetricName: aws.String("OrdersSubmitted"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["orders_submitted"].(int64)))},
		{MetricName: aws.String("OrdersCanceled"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["orders_canceled"].(int64)))},
		{MetricName: aws.String("FillsObserved"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["fills_observed"].(int64)))},
		{MetricName: aws.String("VenueRequests"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["venue_requests"].(int64)))},
	}

	publishMetrics(ctx, data)
}
