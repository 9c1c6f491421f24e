package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lifestory-backend/internal/models"
)

// ErrProviderNotFound is returned when the provider answers 404 for an upload or asset.
var ErrProviderNotFound = errors.New("transcoder: resource not found")

// TranscoderService is the HTTP client for the video transcoding provider.
type TranscoderService struct {
	httpClient  *http.Client
	baseURL     string
	tokenID     string
	tokenSecret string
}

func NewTranscoderService(baseURL, tokenID, tokenSecret string) *TranscoderService {
	return &TranscoderService{
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		baseURL:     strings.TrimRight(baseURL, "/"),
		tokenID:     tokenID,
		tokenSecret: tokenSecret,
	}
}

// APIError is a non-2xx answer from the provider.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("transcoder API returned %d: %s", e.StatusCode, e.Body)
}

type uploadData struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Status  string `json:"status"`
	AssetID string `json:"asset_id"`
}

type assetData struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	UploadID    string `json:"upload_id"`
	PlaybackIDs []struct {
		ID     string `json:"id"`
		Policy string `json:"policy"`
	} `json:"playback_ids"`
}

func (a assetData) playbackID() string {
	if len(a.PlaybackIDs) == 0 {
		return ""
	}
	return a.PlaybackIDs[0].ID
}

// CreateUploadTicket creates a direct upload whose asset gets the given playback policy.
func (s *TranscoderService) CreateUploadTicket(ctx context.Context, corsOrigin, playbackPolicy string) (*models.UploadTicket, error) {
	body := map[string]interface{}{
		"cors_origin": corsOrigin,
		"new_asset_settings": map[string]interface{}{
			"playback_policy": []string{playbackPolicy},
		},
	}

	var out struct {
		Data uploadData `json:"data"`
	}
	if err := s.do(ctx, http.MethodPost, "/video/v1/uploads", body, &out); err != nil {
		return nil, fmt.Errorf("failed to create upload: %w", err)
	}
	if out.Data.ID == "" || out.Data.URL == "" {
		return nil, fmt.Errorf("failed to create upload: response missing id or url")
	}

	return &models.UploadTicket{ID: out.Data.ID, URL: out.Data.URL}, nil
}

func (s *TranscoderService) GetUploadStatus(ctx context.Context, ticketID string) (*models.ProviderUpload, error) {
	var out struct {
		Data uploadData `json:"data"`
	}
	if err := s.do(ctx, http.MethodGet, "/video/v1/uploads/"+ticketID, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get upload %s: %w", ticketID, err)
	}

	return &models.ProviderUpload{ID: out.Data.ID, Status: out.Data.Status, AssetID: out.Data.AssetID}, nil
}

func (s *TranscoderService) GetAsset(ctx context.Context, assetID string) (*models.ProviderAsset, error) {
	var out struct {
		Data assetData `json:"data"`
	}
	if err := s.do(ctx, http.MethodGet, "/video/v1/assets/"+assetID, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get asset %s: %w", assetID, err)
	}

	return &models.ProviderAsset{ID: out.Data.ID, Status: out.Data.Status, PlaybackID: out.Data.playbackID()}, nil
}

func (s *TranscoderService) CancelUpload(ctx context.Context, ticketID string) error {
	if err := s.do(ctx, http.MethodPut, "/video/v1/uploads/"+ticketID+"/cancel", nil, nil); err != nil {
		return fmt.Errorf("failed to cancel upload %s: %w", ticketID, err)
	}
	return nil
}

func (s *TranscoderService) do(ctx context.Context, method, path string, in, out interface{}) error {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.SetBasicAuth(s.tokenID, s.tokenSecret)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrProviderNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
