// Package oanda downloads historical bid/ask candles from the OANDA v3 REST
// API and turns their closes into replay rows.
package oanda

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rustyeddy/railtrader/market"
	"github.com/rustyeddy/railtrader/replay"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const (
	PracticeURL = "https://api-fxpractice.oanda.com"
	LiveURL     = "https://api-fxtrade.oanda.com"
)

// MaxCount is the largest page the candles endpoint serves.
const MaxCount = 5000

type PriceComponent string

const (
	MidPrice PriceComponent = "M"
	BidAsk   PriceComponent = "BA"
)

// BaseURL maps an environment name to its API host.
func BaseURL(env string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "practice", "fxpractice", "":
		return PracticeURL, nil
	case "live", "fxtrade", "trade":
		return LiveURL, nil
	default:
		return "", fmt.Errorf("unknown environment %q (use practice or live)", env)
	}
}

type Client struct {
	http   *resty.Client
	logger log.FieldLogger
}

func NewClient(baseURL, token string, logger log.FieldLogger) *Client {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetAuthToken(token).
			SetHeader("Content-Type", "application/json").
			SetTimeout(30 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(time.Second),
		logger: logger,
	}
}

type CandlesRequest struct {
	Instrument   string // OANDA form, e.g. EUR_USD
	Granularity  string // default M1
	Price        PriceComponent
	From, To     time.Time
	CompleteOnly bool
}

type ohlc struct {
	O string `json:"o"`
	H string `json:"h"`
	L string `json:"l"`
	C string `json:"c"`
}

type apiCandle struct {
	Complete bool   `json:"complete"`
	Volume   int64  `json:"volume"`
	Time     string `json:"time"`
	Mid      *ohlc  `json:"mid,omitempty"`
	Bid      *ohlc  `json:"bid,omitempty"`
	Ask      *ohlc  `json:"ask,omitempty"`
}

type candlesResponse struct {
	Instrument  string      `json:"instrument"`
	Granularity string      `json:"granularity"`
	Candles     []apiCandle `json:"candles"`
}

// Candles pages through [From, To) and returns one quote row per candle
// close, in time order and without repeats.
func (c *Client) Candles(ctx context.Context, req CandlesRequest) ([]replay.Row, error) {
	if req.Instrument == "" {
		return nil, errors.New("oanda: instrument is required")
	}
	if !req.From.Before(req.To) {
		return nil, errors.New("oanda: from must be before to")
	}
	if req.Granularity == "" {
		req.Granularity = "M1"
	}
	if req.Price == "" {
		req.Price = BidAsk
	}
	symbol := market.NormalizeSymbol(req.Instrument)

	var (
		out  []replay.Row
		last time.Time
	)
	cur := req.From.UTC()
	for cur.Before(req.To) {
		page, err := c.page(ctx, req, cur)
		if err != nil {
			return nil, err
		}
		if len(page.Candles) == 0 {
			break
		}

		advanced := false
		for _, ac := range page.Candles {
			ts, err := time.Parse(time.RFC3339Nano, ac.Time)
			if err != nil {
				return nil, fmt.Errorf("oanda: parse candle time %q: %w", ac.Time, err)
			}
			ts = ts.UTC()
			if !ts.After(last) && !last.IsZero() {
				continue
			}
			if ts.Before(req.From) || !ts.Before(req.To) {
				continue
			}
			last, advanced = ts, true
			if req.CompleteOnly && !ac.Complete {
				continue
			}
			row, err := toRow(symbol, ts, ac, req.Price)
			if err != nil {
				return nil, fmt.Errorf("oanda: candle %s: %w", ac.Time, err)
			}
			out = append(out, row)
		}
		if !advanced {
			break
		}
		cur = last.Add(time.Nanosecond)
	}

	c.logger.WithFields(log.Fields{"instrument": symbol, "rows": len(out)}).Info("oanda candles downloaded")
	return out, nil
}

func (c *Client) page(ctx context.Context, req CandlesRequest, from time.Time) (*candlesResponse, error) {
	var body candlesResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("instrument", req.Instrument).
		SetQueryParams(map[string]string{
			"granularity":  req.Granularity,
			"price":        string(req.Price),
			"from":         from.Format(time.RFC3339Nano),
			"count":        strconv.Itoa(MaxCount),
			"includeFirst": "true",
		}).
		SetResult(&body).
		Get("/v3/instruments/{instrument}/candles")
	if err != nil {
		return nil, fmt.Errorf("oanda: request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("oanda: http %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return &body, nil
}

func toRow(symbol string, ts time.Time, ac apiCandle, price PriceComponent) (replay.Row, error) {
	var bid, ask decimal.Decimal
	switch price {
	case BidAsk:
		if ac.Bid == nil || ac.Ask == nil {
			return replay.Row{}, errors.New("missing bid/ask")
		}
		var err error
		if bid, err = decimal.NewFromString(ac.Bid.C); err != nil {
			return replay.Row{}, fmt.Errorf("bad bid close %q: %w", ac.Bid.C, err)
		}
		if ask, err = decimal.NewFromString(ac.Ask.C); err != nil {
			return replay.Row{}, fmt.Errorf("bad ask close %q: %w", ac.Ask.C, err)
		}
	case MidPrice:
		if ac.Mid == nil {
			return replay.Row{}, errors.New("missing mid")
		}
		m, err := decimal.NewFromString(ac.Mid.C)
		if err != nil {
			return replay.Row{}, fmt.Errorf("bad mid close %q: %w", ac.Mid.C, err)
		}
		bid, ask = m, m
	default:
		return replay.Row{}, fmt.Errorf("unsupported price %q (use BA or M)", price)
	}

	q := market.Quote{Bid: bid, Ask: ask}
	t, err := market.NewTick(symbol, ts, q.Mid(), decimal.NewFromInt(ac.Volume))
	if err != nil {
		return replay.Row{}, err
	}
	return replay.Row{Tick: t, Quote: &q}, nil
}
