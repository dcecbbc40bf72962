package sync_api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultTimeout = 10 * time.Second

type clientImpl struct {
	apiHost string
	client  *resty.Client
}

type Config struct {
	ApiHost string
	Token   string
	Timeout time.Duration
}

func NewClient(cfg *Config) (SyncAPI, error) {
	if cfg == nil {
		return nil, errors.New("missing parameter: cfg")
	}

	if cfg.ApiHost == "" {
		return nil, errors.New("missing parameter: cfg.ApiHost")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	return &clientImpl{
		apiHost: strings.TrimRight(cfg.ApiHost, "/"),
		client:  client,
	}, nil
}

// Push posts rec to <host>/knowledge/<kind>s.
func (c *clientImpl) Push(ctx context.Context, rec Record) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(rec).
		Post(fmt.Sprintf("%s/knowledge/%ss", c.apiHost, rec.Kind))
	if err != nil {
		return err
	}

	if resp.IsError() {
		return fmt.Errorf("sync %s %s: status %d", rec.Kind, rec.ID, resp.StatusCode())
	}

	return nil
}
