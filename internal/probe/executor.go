// Package probe issues the underlying HTTP call of a synthetic test
// against one or more target nodes and reports per-node outcomes.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/NordCoder/Probeus/internal/domain/apidef"
	"github.com/NordCoder/Probeus/internal/domain/node"
)

// Outcome is the result of one probe against one node. Transport
// failures are captured here, never returned as errors.
type Outcome struct {
	NodeID         int64           `json:"node_id"`
	NodeName       string          `json:"node_name"`
	StatusCode     int             `json:"status_code"`
	Success        bool            `json:"success"`
	ResponseTimeMs int64           `json:"response_time_ms"`
	Body           json.RawMessage `json:"body,omitempty"`
}

const maxBodyBytes = 1 << 20

var (
	mProbes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "probeus_probes_total", Help: "Probes attempted",
	})
	mUp = promauto.NewCounter(prometheus.CounterOpts{
		Name: "probeus_probe_up_total", Help: "Successful probe outcomes",
	})
	mDown = promauto.NewCounter(prometheus.CounterOpts{
		Name: "probeus_probe_down_total", Help: "Failed probe outcomes",
	})
	mLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "probeus_probe_latency_seconds",
		Help:    "Probe latency, connect included",
		Buckets: prometheus.DefBuckets,
	})
)

type Config struct {
	Timeout     time.Duration
	MaxParallel int
	UserAgent   string
}

type Executor struct {
	client *http.Client
	cfg    Config
	log    *zap.Logger
}

func New(cfg Config, log *zap.Logger) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 8
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Probeus/1.0"
	}
	if log == nil {
		log = zap.L()
	}
	return &Executor{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		log:    log.With(zap.String("component", "probe.executor")),
	}
}

// Execute probes a single node. Network and HTTP failures degrade to a
// failed Outcome; an error return means a programming error such as an
// unsupported HTTP method.
func (e *Executor) Execute(ctx context.Context, def *apidef.Definition, params map[string]string, n *node.Node) (Outcome, error) {
	tr := otel.Tracer("probe.executor")
	ctx, span := tr.Start(ctx, "probe "+def.Name, oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(
			attribute.Int64("node.id", n.ID),
			attribute.String("http.method", def.Method),
		),
	)
	defer span.End()

	req, err := e.buildRequest(ctx, def, params, n)
	if err != nil {
		return Outcome{}, err
	}
	req.Header.Set("User-Agent", e.cfg.UserAgent)

	mProbes.Inc()
	start := time.Now()
	resp, err := e.client.Do(req)
	lat := time.Since(start)
	mLatency.Observe(lat.Seconds())

	out := Outcome{
		NodeID:         n.ID,
		NodeName:       n.Name,
		ResponseTimeMs: lat.Milliseconds(),
	}
	if err != nil {
		mDown.Inc()
		out.Body = errBody(err.Error())
		e.log.Debug("probe transport failure",
			zap.Int64("node_id", n.ID), zap.Error(err))
		return out, nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	// redirects are followed by the client, so any 3xx that surfaces
	// here went nowhere and counts as a failure like the rest of non-2xx
	out.StatusCode = resp.StatusCode
	out.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	out.Body = rawBody(body)
	if out.Success {
		mUp.Inc()
	} else {
		mDown.Inc()
	}
	return out, nil
}

// ExecuteAll fans out one probe per node through a bounded pool. Each
// probe carries its own timeout; a failure or timeout on one node never
// aborts its siblings. Outcomes come back in node order. With zero
// nodes a single synthetic failed outcome is returned so callers always
// have something to record and display.
func (e *Executor) ExecuteAll(ctx context.Context, def *apidef.Definition, params map[string]string, nodes []*node.Node) ([]Outcome, error) {
	if len(nodes) == 0 {
		return []Outcome{{
			NodeID:   0,
			NodeName: "<system>",
			Success:  false,
			Body:     errBody("no target nodes"),
		}}, nil
	}

	outcomes := make([]Outcome, len(nodes))
	errs := make([]error, len(nodes))

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.cfg.MaxParallel)
	for i, n := range nodes {
		wg.Add(1)
		go func(i int, n *node.Node) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			cctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
			defer cancel()
			outcomes[i], errs[i] = e.Execute(cctx, def, params, n)
		}(i, n)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return outcomes, nil
}

func (e *Executor) buildRequest(ctx context.Context, def *apidef.Definition, params map[string]string, n *node.Node) (*http.Request, error) {
	target := fmt.Sprintf("http://%s:%d%s", n.Host, n.Port, normalizeURI(def.URI))

	switch strings.ToUpper(def.Method) {
	case http.MethodGet, http.MethodDelete:
		u, err := url.Parse(target)
		if err != nil {
			return nil, fmt.Errorf("parse target url: %w", err)
		}
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
		return http.NewRequestWithContext(ctx, strings.ToUpper(def.Method), u.String(), nil)
	case http.MethodPost, http.MethodPut:
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, strings.ToUpper(def.Method), target, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	default:
		return nil, fmt.Errorf("unsupported http method %q", def.Method)
	}
}

func normalizeURI(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "/"
	}
	if !strings.HasPrefix(s, "/") {
		return "/" + s
	}
	return s
}

// AllSucceeded is the run-level verdict; the per-node breakdown is
// never collapsed away.
func AllSucceeded(outcomes []Outcome) bool {
	for _, o := range outcomes {
		if !o.Success {
			return false
		}
	}
	return len(outcomes) > 0
}

func errBody(msg string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return b
}

// rawBody passes JSON responses through untouched and wraps everything
// else as a JSON string so Outcome.Body always holds valid JSON.
func rawBody(b []byte) json.RawMessage {
	t := bytes.TrimSpace(b)
	if len(t) == 0 {
		return nil
	}
	if json.Valid(t) {
		return t
	}
	s, _ := json.Marshal(string(t))
	return s
}

// SortByNodeID keeps multi-target payloads stable for clients that
// diff successive runs.
func SortByNodeID(outcomes []Outcome) {
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].NodeID < outcomes[j].NodeID })
}
