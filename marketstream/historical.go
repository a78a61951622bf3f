package marketstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/epic1st/paperfx/logging"
)

// HistoricalClient fetches backfill candles over REST, grounded on the same
// request-with-timeout idiom the corpus uses for upstream REST calls.
type HistoricalClient struct {
	baseURL  string
	category string
	timeout  time.Duration
	http     *http.Client
}

func NewHistoricalClient(baseURL, category string, timeout time.Duration) *HistoricalClient {
	return &HistoricalClient{
		baseURL:  baseURL,
		category: category,
		timeout:  timeout,
		http:     &http.Client{Timeout: timeout},
	}
}

type klineResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		Symbol   string     `json:"symbol"`
		Category string     `json:"category"`
		List     [][7]string `json:"list"` // [start, open, high, low, close, volume, turnover], newest first
	} `json:"result"`
}

// Fetch retrieves at most 200 candles ending at endMs (0 meaning "now").
// Any upstream failure degrades to an empty slice and a logged warning
// rather than a fatal error — backfill is a convenience, not load-bearing.
func (c *HistoricalClient) Fetch(ctx context.Context, symbol, interval string, limit int, endMs int64) []Candle {
	if limit <= 0 || limit > 200 {
		limit = 200
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	candles, err := c.fetchOnce(ctx, symbol, interval, limit, endMs)
	if err != nil {
		logging.Warn("historical fetch failed", logging.Symbol(symbol), logging.Any("error", err.Error()))
		return nil
	}
	return candles
}

// FetchPaginated walks backward in pages of up to 200 until total candles
// have been collected or the upstream runs out of history, per spec §4.5's
// ≤1000-candle paginated backfill. A small inter-page delay keeps it a
// polite REST client rather than a burst hammer.
func (c *HistoricalClient) FetchPaginated(ctx context.Context, symbol, interval string, total int) []Candle {
	if total > 1000 {
		total = 1000
	}

	var all []Candle
	endMs := int64(0)
	for len(all) < total {
		remaining := total - len(all)
		pageSize := remaining
		if pageSize > 200 {
			pageSize = 200
		}

		page := c.Fetch(ctx, symbol, interval, pageSize, endMs)
		if len(page) == 0 {
			break
		}
		all = append(page, all...) // page is chronological and older than everything collected so far; prepend to keep chronological order

		oldest := page[0]
		endMs = oldest.Start.UnixMilli() - 1

		select {
		case <-ctx.Done():
			return all
		case <-time.After(150 * time.Millisecond):
		}
	}
	return all
}

func (c *HistoricalClient) fetchOnce(ctx context.Context, symbol, interval string, limit int, endMs int64) ([]Candle, error) {
	q := url.Values{}
	q.Set("category", c.category)
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))
	if endMs > 0 {
		q.Set("end", strconv.FormatInt(endMs, 10))
	}

	endpoint := c.baseURL + "/v5/market/kline?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("marketstream: historical fetch returned status %d", resp.StatusCode)
	}

	var parsed klineResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if parsed.RetCode != 0 {
		return nil, fmt.Errorf("marketstream: upstream error %d: %s", parsed.RetCode, parsed.RetMsg)
	}

	candles := make([]Candle, 0, len(parsed.Result.List))
	for i := len(parsed.Result.List) - 1; i >= 0; i-- { // reverse to chronological order
		row := parsed.Result.List[i]
		candle, err := rowToCandle(symbol, interval, row)
		if err != nil {
			continue
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func rowToCandle(symbol, interval string, row [7]string) (Candle, error) {
	startMs, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return Candle{}, err
	}
	data := klineData{
		Start:   startMs,
		Open:    row[1],
		High:    row[2],
		Low:     row[3],
		Close:   row[4],
		Volume:  row[5],
		Confirm: true,
	}
	return decodeCandle(symbol, interval, data)
}
