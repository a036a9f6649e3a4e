package upstream

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"marketforecast/internal/model"
	"marketforecast/pkg/smartconnect"
)

// PrimaryAdapter wraps the teacher's SmartConnect client as a Provider,
// handling TOTP login and session renewal the way cmd/mdengine did.
type PrimaryAdapter struct {
	creds Credentials
	log   *zap.Logger

	mu      sync.Mutex
	client  *smartconnect.SmartConnect
	session bool
}

// NewPrimaryAdapter builds a primary-provider adapter. Login happens
// lazily on first FetchCandles call, not at construction, so a transient
// credential outage doesn't block process startup.
func NewPrimaryAdapter(creds Credentials, log *zap.Logger) *PrimaryAdapter {
	return &PrimaryAdapter{creds: creds, log: log}
}

func (a *PrimaryAdapter) Name() string { return "primary" }

func (a *PrimaryAdapter) ensureSession(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session {
		return nil
	}

	totpCode, err := totp.GenerateCode(a.creds.TOTPSecret, time.Now())
	if err != nil {
		return fmt.Errorf("upstream: generate totp: %w", err)
	}

	client := smartconnect.NewSmartConnect(smartconnect.Config{APIKey: a.creds.APIKey})
	if _, err := client.GenerateSession(a.creds.ClientCode, a.creds.Password, totpCode); err != nil {
		return fmt.Errorf("upstream: primary login: %w", err)
	}

	a.client = client
	a.session = true
	return nil
}

// FetchCandles calls the primary provider's historical candle endpoint,
// retrying transient failures with jpillora/backoff before giving up and
// dropping the session so the next call re-authenticates.
func (a *PrimaryAdapter) FetchCandles(ctx context.Context, symbol string, tf model.Timeframe, from, to int64) ([]model.Candle, error) {
	if err := a.ensureSession(ctx); err != nil {
		return nil, err
	}

	b := &backoff.Backoff{Min: 200 * time.Millisecond, Max: 5 * time.Second, Factor: 2, Jitter: true}
	var lastErr error
	for attempt := 0; attempt < 4; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(b.Duration()):
			}
		}

		resp, err := a.client.GetCandleData(map[string]any{
			"exchange":    "NSE",
			"symboltoken": symbol,
			"interval":    smartAPIInterval(tf),
			"fromdate":    time.Unix(from, 0).UTC().Format("2006-01-02 15:04"),
			"todate":      time.Unix(to, 0).UTC().Format("2006-01-02 15:04"),
		})
		if err != nil {
			lastErr = err
			a.log.Warn("primary fetch failed, retrying", zap.String("symbol", symbol), zap.Error(err))
			continue
		}

		candles, parseErr := parseSmartAPICandles(resp, symbol, tf)
		if parseErr != nil {
			lastErr = parseErr
			continue
		}
		return candles, nil
	}

	a.mu.Lock()
	a.session = false
	a.mu.Unlock()
	return nil, fmt.Errorf("upstream: primary fetch exhausted retries: %w", lastErr)
}

func smartAPIInterval(tf model.Timeframe) string {
	switch tf {
	case model.TF1m:
		return "ONE_MINUTE"
	case model.TF5m:
		return "FIVE_MINUTE"
	case model.TF15m:
		return "FIFTEEN_MINUTE"
	case model.TF1h:
		return "ONE_HOUR"
	case model.TF4h:
		return "FOUR_HOUR"
	default:
		return "ONE_DAY"
	}
}

// parseSmartAPICandles unpacks the provider's [ts, o, h, l, c, v] rows
// into canonical Candle records tagged Provenance = primary.
func parseSmartAPICandles(resp map[string]any, symbol string, tf model.Timeframe) ([]model.Candle, error) {
	ok, _ := resp["status"].(bool)
	if !ok {
		return nil, fmt.Errorf("upstream: primary response status false: %v", resp["message"])
	}
	rows, _ := resp["data"].([]any)
	out := make([]model.Candle, 0, len(rows))
	for _, r := range rows {
		row, ok := r.([]any)
		if !ok || len(row) < 6 {
			continue
		}
		ts, err := parseSmartAPITimestamp(row[0])
		if err != nil {
			continue
		}
		c := model.Candle{
			Symbol:     symbol,
			Timeframe:  tf,
			StartTS:    ts,
			Open:       toFloat(row[1]),
			High:       toFloat(row[2]),
			Low:        toFloat(row[3]),
			Close:      toFloat(row[4]),
			Volume:     toFloat(row[5]),
			Provenance: model.ProvenancePrimary,
		}
		out = append(out, c)
	}
	return out, nil
}

func parseSmartAPITimestamp(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("upstream: unexpected timestamp type %T", v)
	}
	return time.Parse("2006-01-02T15:04:05-07:00", s)
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	default:
		return 0
	}
}
