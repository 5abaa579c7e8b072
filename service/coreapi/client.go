package coreapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/antinvestor/service-ticket-payments/service/models"
	"github.com/pitabwire/util"
)

const maxResponseBytes = 1 << 20

// ErrMalformedResponse is returned when the gateway answers with a body that is not
// the expected JSON document.
var ErrMalformedResponse = errors.New("gateway returned a malformed response")

// Client talks to the mobile money gateway over HTTP/JSON.
type Client struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	HTTPClient *http.Client
}

// New creates a gateway client with a tuned transport.
func New(baseURL, apiKey, apiSecret string, timeout time.Duration) *Client {
	tr := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:       10,
		IdleConnTimeout:    30 * time.Second,
		DisableCompression: true,
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		APIKey:    apiKey,
		APISecret: apiSecret,
		HTTPClient: &http.Client{
			Transport: tr,
			Timeout:   timeout,
		},
	}
}

// Initiate sends a push payment request. Rejections are returned as a response with
// Success=false; only transport failures, server errors and unreadable bodies are errors.
func (c *Client) Initiate(ctx context.Context, request models.InitiateRequest) (*models.InitiateResponse, error) {
	endpoint := fmt.Sprintf("%s/payments/initiate", c.BaseURL)

	jsonBody, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	c.sign(req, strconv.FormatInt(request.Amount, 10), request.Currency, request.Phone, request.Provider)

	var response models.InitiateResponse
	if err := c.do(req, &response); err != nil {
		return nil, fmt.Errorf("initiate push payment: %w", err)
	}
	return &response, nil
}

// CheckStatus fetches the current status of a transaction.
func (c *Client) CheckStatus(ctx context.Context, transactionID string) (*models.StatusResponse, error) {
	endpoint := fmt.Sprintf("%s/payments/status/%s", c.BaseURL, url.PathEscape(transactionID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	c.sign(req, transactionID)

	var response models.StatusResponse
	if err := c.do(req, &response); err != nil {
		return nil, fmt.Errorf("check payment status: %w", err)
	}
	return &response, nil
}

func (c *Client) sign(req *http.Request, parts ...string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Signature", GenerateSignature(c.APISecret, parts...))
}

func (c *Client) do(req *http.Request, target any) error {
	logger := util.Log(req.Context()).WithField("method", req.Method).WithField("path", req.URL.Path)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		logger.WithError(err).Warn("gateway request failed")
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		logger.WithField("status", resp.StatusCode).Warn("gateway server error")
		return fmt.Errorf("gateway unavailable: %s", resp.Status)
	}

	if err := json.Unmarshal(respBody, target); err != nil {
		logger.WithField("status", resp.StatusCode).WithError(err).Warn("gateway response could not be decoded")
		return fmt.Errorf("%w: %s", ErrMalformedResponse, resp.Status)
	}

	logger.WithField("status", resp.StatusCode).Debug("gateway request completed")
	return nil
}
