package marketcache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/ibx/engine/internal/models"
	"github.com/ibx/engine/pkg/logger"
)

// StreamConfig controls the live bar-streaming ingest: one websocket
// connection carrying a batched subscription across every tracked
// contract for a single bar size, reconnecting on a fixed delay with a
// keepalive ping so an idle connection doesn't get dropped by the far
// side.
type StreamConfig struct {
	URL            string
	BarSize        string
	PingInterval   time.Duration
	ReconnectDelay time.Duration
}

// Streamer ingests closed-bar ticks pushed over a single batched
// websocket subscription directly into BarStore, so a strategy scan
// that lands between poll cycles still sees the latest closed bar
// instead of waiting on the next GetHistoricalBars fetch.
type Streamer struct {
	dialer *websocket.Dialer
	bars   BarStore
	cfg    StreamConfig
}

func NewStreamer(bars BarStore, cfg StreamConfig) *Streamer {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	return &Streamer{dialer: &websocket.Dialer{}, bars: bars, cfg: cfg}
}

// subscribeArg is one entry of the batched subscription request sent as
// {"op":"subscribe","args":[...]} on connect.
type subscribeArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

// candleFrame is the push shape for a batched candle subscription: an
// arg identifying which channel/instrument the payload belongs to, plus
// one or more [ts,o,h,l,c,vol,...,confirm] rows.
type candleFrame struct {
	Arg struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data [][]string `json:"data"`
}

// Run subscribes every contract in instruments (keyed by the wire
// instrument id the far side expects in its subscribe args) and streams
// closed bars into BarStore until ctx is cancelled, reconnecting after
// any dial or read error.
func (s *Streamer) Run(ctx context.Context, instruments map[string]models.ContractKey) {
	if len(instruments) == 0 || s.cfg.URL == "" {
		return
	}
	channel := "candle" + s.cfg.BarSize
	args := make([]subscribeArg, 0, len(instruments))
	for instID := range instruments {
		args = append(args, subscribeArg{Channel: channel, InstID: instID})
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := s.runOnce(ctx, channel, args, instruments); err != nil {
			logger.Warn("marketcache stream: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.ReconnectDelay):
		}
	}
}

func (s *Streamer) runOnce(ctx context.Context, channel string, args []subscribeArg, instruments map[string]models.ContractKey) error {
	conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"op": "subscribe", "args": args}); err != nil {
		return err
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		t := time.NewTicker(s.cfg.PingInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-t.C:
				_ = conn.WriteJSON(map[string]string{"op": "ping"})
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var frame candleFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			continue
		}
		if frame.Arg.Channel != channel || len(frame.Data) == 0 {
			continue
		}
		contract, ok := instruments[frame.Arg.InstID]
		if !ok {
			continue
		}
		for _, row := range frame.Data {
			bar, ok := parseCandleRow(contract, s.cfg.BarSize, row)
			if !ok {
				continue
			}
			if err := s.bars.InsertBars(ctx, []models.Bar{bar}); err != nil {
				logger.Warn("marketcache stream: persist bar failed: %v", err)
			}
		}
	}
}

// parseCandleRow decodes one [ts,o,h,l,c,vol,...,confirm] row. confirm
// always sits in the last element; a bar that isn't closed yet
// (confirm != "1") is skipped rather than persisted as a partial.
func parseCandleRow(contract models.ContractKey, barSize string, row []string) (models.Bar, bool) {
	if len(row) < 5 {
		return models.Bar{}, false
	}
	if row[len(row)-1] != "1" {
		return models.Bar{}, false
	}
	tsMs, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return models.Bar{}, false
	}
	open, err1 := decimal.NewFromString(row[1])
	high, err2 := decimal.NewFromString(row[2])
	low, err3 := decimal.NewFromString(row[3])
	closep, err4 := decimal.NewFromString(row[4])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return models.Bar{}, false
	}
	var vol decimal.Decimal
	if len(row) >= 6 {
		vol, _ = decimal.NewFromString(row[5])
	}
	return models.Bar{
		Contract: contract,
		BarSize:  barSize,
		Ts:       time.UnixMilli(tsMs).UTC(),
		Open:     open,
		High:     high,
		Low:      low,
		Close:    closep,
		Volume:   vol,
	}, true
}
