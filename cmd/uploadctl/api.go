package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"lifestory-backend/internal/models"
)

// apiClient talks to the ingestion endpoints with the caller's bearer token.
type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func newAPIClient(baseURL, token string) *apiClient {
	return &apiClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type apiError struct {
	Status int
	models.APIError
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

func (c *apiClient) issue(ctx context.Context, slotType models.SlotType, slotID uuid.UUID) (*models.IssueUploadResponse, error) {
	var out models.IssueUploadResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/uploads", models.IssueUploadRequest{SlotType: slotType, SlotID: slotID}, &out)
	return &out, err
}

func (c *apiClient) transportComplete(ctx context.Context, recordID uuid.UUID) (*models.RecordStatusResponse, error) {
	var out models.RecordStatusResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/uploads/"+recordID.String()+"/transport-complete", nil, &out)
	return &out, err
}

func (c *apiClient) abandon(ctx context.Context, recordID uuid.UUID) (*models.RecordStatusResponse, error) {
	var out models.RecordStatusResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/uploads/"+recordID.String()+"/abandon", nil, &out)
	return &out, err
}

func (c *apiClient) status(ctx context.Context, recordID uuid.UUID) (*models.RecordStatusResponse, error) {
	var out models.RecordStatusResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/uploads/"+recordID.String(), nil, &out)
	return &out, err
}

func (c *apiClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errBody models.ErrorResponse
		json.NewDecoder(resp.Body).Decode(&errBody)
		return &apiError{Status: resp.StatusCode, APIError: errBody.Error}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
