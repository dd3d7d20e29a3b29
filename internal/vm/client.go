package vm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Record is one verification value: a forecast, observation, error or
// score for one member at one time.
type Record struct {
	Timestamp int64 // unix ms
	Member    string
	Kind      string
	Value     float64
}

// Client is a Victoria Metrics client capable of inserting verification
// records via various protocols.
type Client struct {
	logger       *slog.Logger
	httpCli      *http.Client
	insertURL    string
	metricPrefix string
	recToText    recToTextFunc
}

const metricPrefixRE = "^[a-zA-Z0-9]+$"

// NewClient creates a new VM client.
func NewClient(logger *slog.Logger, insertURL string, maxConns int, metricPrefix string) (*Client, error) {
	url, err := url.Parse(insertURL)
	if err != nil {
		return nil, err
	}

	matches, err := regexp.Match(metricPrefixRE, []byte(metricPrefix))
	if err != nil {
		return nil, err
	}
	if !matches {
		return nil, fmt.Errorf("metric prefix %q does not match %q regular expression", metricPrefix, metricPrefixRE)
	}

	apiParams := apiParamsFuncs[url.Path]
	if apiParams == nil {
		return nil, fmt.Errorf("inserting into %q is not supported", insertURL)
	}
	q := url.Query()
	for name, value := range apiParams(metricPrefix) {
		q.Add(name, value)
	}
	url.RawQuery = q.Encode()

	recToText := recToTextFuncs[url.Path]
	if recToText == nil {
		return nil, fmt.Errorf("inserting into %q is not supported", insertURL)
	}

	return &Client{
		logger: logger,
		httpCli: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        maxConns,
				IdleConnTimeout:     30 * time.Second,
				MaxIdleConnsPerHost: maxConns,
				MaxConnsPerHost:     maxConns,
			},
		},
		insertURL:    url.String(),
		metricPrefix: metricPrefix,
		recToText:    recToText,
	}, nil
}

// Insert inserts records into Victoria Metrics. Records with NaN values are
// skipped.
func (c *Client) Insert(ctx context.Context, recs []Record) error {
	body := recsToText(recs, c.metricPrefix, c.recToText)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.insertURL, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")
	res, err := c.httpCli.Do(req)
	if err != nil {
		return fmt.Errorf("could not post data: %w", err)
	}
	defer res.Body.Close()
	if _, err := io.Copy(io.Discard, res.Body); err != nil {
		c.logger.Error("Failed to drain response body", "err", err)
	}
	if res.StatusCode != http.StatusNoContent {
		return fmt.Errorf("unexpected status %d", res.StatusCode)
	}
	c.logger.Debug("inserted", "recs", len(recs))
	return nil
}

// InsertBatched inserts recs in batches of at most size records.
func (c *Client) InsertBatched(ctx context.Context, recs []Record, size int) error {
	n := len(recs)
	for i := 0; i < n; i += size {
		limit := min(i+size, n)
		if err := c.Insert(ctx, recs[i:limit]); err != nil {
			return err
		}
	}
	return nil
}

type apiParamsFunc func(string) map[string]string

var apiParamsFuncs = map[string]apiParamsFunc{
	"/influx/write":        influxDBAPIParams,
	"/influx/api/v2/write": influxDBAPIParams,
	"/write":               influxDBAPIParams,
	"/api/v2/write":        influxDBAPIParams,
	"/api/v1/import/csv":   csvAPIParams,
}

func influxDBAPIParams(metricPrefix string) map[string]string {
	return map[string]string{"precision": "ms"}
}

func csvAPIParams(metricPrefix string) map[string]string {
	return map[string]string{
		"format": fmt.Sprintf(""+
			"1:time:unix_ms,"+
			"2:label:member,"+
			"3:label:kind,"+
			"4:metric:%s_value", metricPrefix),
	}
}

type recToTextFunc func(*strings.Builder, *Record, string)

// recsToText converts multiple records to text.
func recsToText(recs []Record, metricPrefix string, recToText recToTextFunc) io.Reader {
	var sb strings.Builder
	for _, r := range recs {
		if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
			continue
		}
		recToText(&sb, &r, metricPrefix)
		sb.WriteString("\n")
	}
	return strings.NewReader(sb.String())
}

var recToTextFuncs = map[string]recToTextFunc{
	"/influx/write":        recToInfluxDB,
	"/influx/api/v2/write": recToInfluxDB,
	"/write":               recToInfluxDB,
	"/api/v2/write":        recToInfluxDB,
	"/api/v1/import/csv":   recToCSV,
}

var tagEscaper = strings.NewReplacer(",", `\,`, "=", `\=`, " ", `\ `)

// recToInfluxDB converts a record into InfluxDB line protocol v2 and
// appends it to the string builder.
func recToInfluxDB(sb *strings.Builder, r *Record, metricPrefix string) {
	sb.WriteString(metricPrefix)
	sb.WriteString(",member=")
	sb.WriteString(tagEscaper.Replace(r.Member))
	sb.WriteString(",kind=")
	sb.WriteString(tagEscaper.Replace(r.Kind))
	sb.WriteString(" value=")
	sb.WriteString(strconv.FormatFloat(r.Value, 'g', -1, 64))
	sb.WriteString(" ")
	sb.WriteString(strconv.FormatInt(r.Timestamp, 10))
}

var csvEscaper = strings.NewReplacer(",", "_", "\n", "_", `"`, "_")

// recToCSV converts a record into a CSV record and appends it to the string
// builder.
func recToCSV(sb *strings.Builder, r *Record, _ string) {
	sb.WriteString(fmt.Sprintf("%d,%s,%s,%s",
		r.Timestamp,
		csvEscaper.Replace(r.Member),
		csvEscaper.Replace(r.Kind),
		strconv.FormatFloat(r.Value, 'g', -1, 64),
	))
}
