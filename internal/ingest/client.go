package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/AngelCh415/affilka-etl/internal/config"
	"github.com/AngelCh415/affilka-etl/internal/metrics"
	"github.com/AngelCh415/affilka-etl/internal/models"
	"github.com/AngelCh415/affilka-etl/internal/utils"
)

const (
	reportPath     = "/api/customer/v1/partner/report"
	attributesPath = reportPath + "/attributes"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

func NewHTTPClient(timeout time.Duration) HTTPClient {
	return &http.Client{Timeout: timeout}
}

// StatusError is a non-2xx answer from the report API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("non-2xx: %d body=%s", e.Code, e.Body)
}

func (e *StatusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// ReportParams is one report request.
type ReportParams struct {
	From, To           time.Time
	Columns            []string
	GroupBy            []string
	Async              bool
	ConversionCurrency string
	ExchangeRatesDate  string
}

func (p ReportParams) query() url.Values {
	q := url.Values{}
	q.Set("async", strconv.FormatBool(p.Async))
	q.Set("from", p.From.Format(time.DateOnly))
	q.Set("to", p.To.Format(time.DateOnly))
	for _, c := range p.Columns {
		q.Add("columns[]", c)
	}
	for _, g := range p.GroupBy {
		q.Add("group_by[]", g)
	}
	if p.ConversionCurrency != "" {
		q.Set("conversion_currency", p.ConversionCurrency)
	}
	if p.ExchangeRatesDate != "" {
		q.Set("exchange_rates_date", p.ExchangeRatesDate)
	}
	return q
}

// Client talks to the report API on behalf of one account.
type Client struct {
	httpc   HTTPClient
	baseURL string
	token   string
	backoff utils.Backoff
	log     *slog.Logger
	prom    *metrics.Pipeline
}

func NewClient(httpc HTTPClient, acct config.Account, b utils.Backoff, log *slog.Logger, prom *metrics.Pipeline) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{httpc: httpc, baseURL: acct.BaseURL, token: acct.Token, backoff: b, log: log, prom: prom}
}

// FetchReport requests one partner report.
func (c *Client) FetchReport(ctx context.Context, p ReportParams) (*models.Report, error) {
	u := c.baseURL + reportPath + "?" + p.query().Encode()
	var rep models.Report
	started := time.Now()
	err := c.getJSON(ctx, u, &rep)
	c.prom.ObserveFetch(started, err)
	if err != nil {
		return nil, fmt.Errorf("fetch report %s..%s: %w", p.From.Format(time.DateOnly), p.To.Format(time.DateOnly), err)
	}
	c.log.Info("report received", slog.String("report_type", rep.ReportType))
	return &rep, nil
}

// Attributes lists the report columns available to this account.
func (c *Client) Attributes(ctx context.Context) ([]string, error) {
	var out struct {
		AvailableColumns []string `json:"available_columns"`
	}
	if err := c.getJSON(ctx, c.baseURL+attributesPath, &out); err != nil {
		return nil, fmt.Errorf("fetch attributes: %w", err)
	}
	return out.AvailableColumns, nil
}

func (c *Client) getJSON(ctx context.Context, u string, v any) error {
	return c.backoff.Do(ctx, func(attempt int) error {
		err := getJSON(ctx, c.httpc, u, c.token, v)
		if err == nil {
			return nil
		}
		var se *StatusError
		switch {
		case errors.As(err, &se) && !se.retryable():
			return utils.Permanent(err)
		case errors.Is(err, errDecode), ctx.Err() != nil:
			return utils.Permanent(err)
		}
		c.log.Warn("report request failed, retrying", slog.Int("attempt", attempt+1), slog.Any("err", err))
		return err
	})
}

var errDecode = errors.New("decode response")

func getJSON(ctx context.Context, c HTTPClient, u, token string, v any) error {
	if u == "" {
		return errors.New("empty url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Code: resp.StatusCode, Body: string(b)}
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errDecode, err)
	}
	return nil
}
