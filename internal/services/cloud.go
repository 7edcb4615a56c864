package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"csfdsync/internal/models"
)

// CloudAPI is the token-scoped backup backend. The remote is a whole-set
// key-value service: record sets are always fetched and stored in full,
// there is no record-level API.
type CloudAPI interface {
	GetOrCreateToken(ctx context.Context, userSlug string) (string, error)
	FetchRecords(ctx context.Context, token string) (models.RemoteRecordSet, error)
	UploadRecords(ctx context.Context, token, userSlug string, records models.RemoteRecordSet) error
}

// CloudClientConfig configures the backup backend client.
type CloudClientConfig struct {
	BaseURL string
	AnonKey string
	Timeout time.Duration
	Logger  *logrus.Logger
}

// CloudClient talks to the hosted sync table over its REST interface.
// Requests are not retried; a failed sync is reported and the next explicit
// run tries again.
type CloudClient struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewCloudClient(config CloudClientConfig) *CloudClient {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	return &CloudClient{
		baseURL: config.BaseURL,
		anonKey: config.AnonKey,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: config.Logger,
	}
}

type tokenRow struct {
	Token string `json:"token"`
}

type recordSetRow struct {
	RatingsData models.RemoteRecordSet `json:"ratings_data"`
}

// GetOrCreateToken looks up the user's sync token, creating an empty backup
// row (and with it a fresh token) on first use.
func (c *CloudClient) GetOrCreateToken(ctx context.Context, userSlug string) (string, error) {
	query := url.Values{}
	query.Set("user_slug", "eq."+userSlug)
	query.Set("select", "token")

	var rows []tokenRow
	if err := c.get(ctx, "/rest/v1/cloud_sync?"+query.Encode(), &rows); err != nil {
		return "", fmt.Errorf("fetch sync token: %w", err)
	}
	if len(rows) > 0 {
		return rows[0].Token, nil
	}

	payload := map[string]any{
		"user_slug":    userSlug,
		"ratings_data": models.RemoteRecordSet{},
		"updated_at":   time.Now().UTC().Format(time.RFC3339),
	}
	var created []tokenRow
	if err := c.post(ctx, "/rest/v1/cloud_sync", "return=representation", payload, &created); err != nil {
		return "", fmt.Errorf("create sync token: %w", err)
	}
	if len(created) == 0 {
		return "", fmt.Errorf("create sync token: empty response")
	}

	c.logger.WithField("user_slug", userSlug).Info("Created cloud sync token")
	return created[0].Token, nil
}

// FetchRecords downloads the whole record set stored under the token. An
// unknown token yields an empty set.
func (c *CloudClient) FetchRecords(ctx context.Context, token string) (models.RemoteRecordSet, error) {
	query := url.Values{}
	query.Set("token", "eq."+token)
	query.Set("select", "ratings_data")

	var rows []recordSetRow
	if err := c.get(ctx, "/rest/v1/cloud_sync?"+query.Encode(), &rows); err != nil {
		return nil, fmt.Errorf("download record set: %w", err)
	}
	if len(rows) == 0 || rows[0].RatingsData == nil {
		return models.RemoteRecordSet{}, nil
	}
	return rows[0].RatingsData, nil
}

// UploadRecords replaces the record set stored under the token. The backend
// upserts on the token key, merging duplicate primary keys.
func (c *CloudClient) UploadRecords(ctx context.Context, token, userSlug string, records models.RemoteRecordSet) error {
	payload := map[string]any{
		"token":        token,
		"ratings_data": records,
		"updated_at":   time.Now().UTC().Format(time.RFC3339),
	}
	if userSlug != "" {
		payload["user_slug"] = userSlug
	}

	if err := c.post(ctx, "/rest/v1/cloud_sync", "resolution=merge-duplicates", payload, nil); err != nil {
		return fmt.Errorf("upload record set: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"user_slug": userSlug,
		"records":   len(records),
	}).Info("Record set uploaded")
	return nil
}

func (c *CloudClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, "", out)
}

func (c *CloudClient) post(ctx context.Context, path, prefer string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, prefer, out)
}

func (c *CloudClient) do(req *http.Request, prefer string, out any) error {
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+c.anonKey)
	req.Header.Set("Content-Type", "application/json")
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("request %s: status %d", req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
