// Package openai provides a moderation provider backed by the OpenAI
// moderations endpoint.
//
// Category names and scores are read straight from the raw response with
// gjson, so categories added to the API later are reported without a code
// change.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tidwall/gjson"

	"github.com/MrWong99/hrvoice/pkg/provider/moderation"
)

// DefaultModel is the moderation model used when none is configured.
const DefaultModel = "omni-moderation-latest"

var _ moderation.Provider = (*Provider)(nil)

// Provider implements moderation.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

type config struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxRetries sets how often the SDK retries a failed request.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// New constructs an OpenAI moderation provider. An empty model selects
// DefaultModel.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai moderation: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{maxRetries: -1}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Moderate classifies text via POST /moderations.
func (p *Provider) Moderate(ctx context.Context, text string) (*moderation.Result, error) {
	resp, err := p.client.Moderations.New(ctx, oai.ModerationNewParams{
		Input: oai.ModerationNewParamsInputUnion{OfString: oai.String(text)},
		Model: oai.ModerationModel(p.model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai moderation: %w", err)
	}
	return parseResult(resp.RawJSON())
}

// parseResult extracts the first result of a moderations response body.
func parseResult(raw string) (*moderation.Result, error) {
	first := gjson.Get(raw, "results.0")
	if !first.Exists() {
		return nil, errors.New("openai moderation: response has no results")
	}

	res := &moderation.Result{
		Flagged: first.Get("flagged").Bool(),
		Scores:  make(map[string]float64),
	}
	first.Get("categories").ForEach(func(name, flagged gjson.Result) bool {
		if flagged.Bool() {
			res.Categories = append(res.Categories, name.String())
		}
		return true
	})
	sort.Strings(res.Categories)
	first.Get("category_scores").ForEach(func(name, score gjson.Result) bool {
		res.Scores[name.String()] = score.Float()
		return true
	})
	return res, nil
}
