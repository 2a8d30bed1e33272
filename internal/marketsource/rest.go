package marketsource

import (
	"context"

	"bot_trading/internal/model"

	"github.com/adshao/go-binance/v2/futures"
)

// RestClient adapts a go-binance futures.Client to the RestFetcher
// interface for gap repair: one forward request of at most 1000 bars
// from a known tail, rather than warmup's backward paging.
type RestClient struct {
	Client *futures.Client
}

// FetchRange returns closed bars with open_time in (startExclusiveMs, endMs],
// backfilled for reconnect gap repair. These bars are tagged
// model.SourceWarmup, matching the normal startup-warmup path, since
// they are recovered history rather than a bar observed live off the
// stream.
func (r RestClient) FetchRange(ctx context.Context, symbol, interval string, startExclusiveMs, endMs int64) ([]model.Bar, error) {
	svc := r.Client.NewKlinesService().Symbol(symbol).Interval(interval).
		StartTime(startExclusiveMs + 1).EndTime(endMs).Limit(1000)
	klines, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}
	bars := make([]model.Bar, 0, len(klines))
	for _, k := range klines {
		if k.CloseTime > endMs {
			continue
		}
		bars = append(bars, klineToBar(symbol, interval, k, model.SourceWarmup))
	}
	return bars, nil
}
