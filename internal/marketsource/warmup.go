package marketsource

import (
	"context"
	"strconv"
	"time"

	"bot_trading/internal/klinebuffer"
	"bot_trading/internal/model"

	"github.com/adshao/go-binance/v2/futures"
)

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func klineToBar(symbol, interval string, k *futures.Kline, source model.Source) model.Bar {
	return model.Bar{
		Symbol: symbol, Interval: interval,
		OpenTimeMs: k.OpenTime, CloseTime: k.CloseTime,
		Open: parseFloat(k.Open), High: parseFloat(k.High), Low: parseFloat(k.Low), Close: parseFloat(k.Close),
		Volume: parseFloat(k.Volume), Trades: k.TradeNum, Closed: true, Source: source,
	}
}

// StoredBarLoader loads the most recent limit persisted bars for a
// (symbol, interval), returned oldest first, satisfied by
// internal/storage.
type StoredBarLoader interface {
	RecentBars(ctx context.Context, symbol, interval string, limit int) ([]model.Bar, error)
}

// WarmupInterval fills buffers with `need` bars for one interval,
// preferring already-persisted rows before paging the REST API
// backwards, mirroring original_source's warmup_interval: DB first,
// then REST pages of up to 1000 bars, 200ms between pages.
func WarmupInterval(ctx context.Context, client *futures.Client, store StoredBarLoader, buffers *klinebuffer.Manager, symbol, interval string, need int) (int, error) {
	buf := buffers.Buffer(interval)

	existing, err := store.RecentBars(ctx, symbol, interval, need)
	if err != nil {
		return 0, err
	}
	remaining := need - len(existing)

	var restPages [][]model.Bar
	fetchedTotal := 0
	if remaining > 0 {
		var endTime int64
		if len(existing) > 0 {
			endTime = existing[0].OpenTimeMs - 1
		}
		for remaining > 0 {
			limit := 1000
			if remaining < limit {
				limit = remaining
			}
			svc := client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit)
			if endTime > 0 {
				svc = svc.EndTime(endTime)
			}
			klines, err := svc.Do(ctx)
			if err != nil {
				return len(existing) + fetchedTotal, err
			}
			if len(klines) == 0 {
				break
			}
			bars := make([]model.Bar, len(klines))
			for i, k := range klines {
				bars[i] = klineToBar(symbol, interval, k, model.SourceWarmup)
			}
			// Binance returns each page oldest-first; pages themselves
			// page backwards in time, so the page list is newest-page-first.
			restPages = append(restPages, bars)
			fetchedTotal += len(bars)
			remaining -= len(bars)
			endTime = bars[0].OpenTimeMs - 1

			select {
			case <-ctx.Done():
				return len(existing) + fetchedTotal, ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
		}
	}

	// Push in strictly chronological order: oldest REST page first,
	// then existing DB rows (already oldest-first), matching the
	// buffer's append-only ordering requirement.
	for i := len(restPages) - 1; i >= 0; i-- {
		for _, b := range restPages[i] {
			if err := buf.AppendOrReplaceLast(b); err != nil {
				return len(existing) + fetchedTotal, err
			}
		}
	}
	for _, b := range existing {
		if err := buf.AppendOrReplaceLast(b); err != nil {
			return len(existing) + fetchedTotal, err
		}
	}
	return len(existing) + fetchedTotal, nil
}

// WarmupAll runs WarmupInterval for every configured interval.
func WarmupAll(ctx context.Context, client *futures.Client, store StoredBarLoader, buffers *klinebuffer.Manager, symbol string, intervals []string, need map[string]int) error {
	for _, interval := range intervals {
		if _, err := WarmupInterval(ctx, client, store, buffers, symbol, interval, need[interval]); err != nil {
			return err
		}
	}
	return nil
}
