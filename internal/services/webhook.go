package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"lifestory-backend/internal/models"
)

const WebhookSignatureHeader = "Transcoder-Signature"

// DefaultSignatureTolerance bounds how old a signed delivery may be.
const DefaultSignatureTolerance = 5 * time.Minute

var (
	ErrSignatureMissing = errors.New("webhook signature missing or malformed")
	ErrSignatureInvalid = errors.New("webhook signature mismatch")
	ErrSignatureExpired = errors.New("webhook signature timestamp outside tolerance")
)

// VerifyWebhookSignature checks a "t=<unix>,v1=<hex>" header against HMAC-SHA256 over
// "<t>.<body>". Any of several v1 values may match, which allows secret rotation.
func VerifyWebhookSignature(header string, body []byte, secret string, now time.Time, tolerance time.Duration) error {
	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return ErrSignatureMissing
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrSignatureMissing
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(unix, 0))
		if age > tolerance || age < -tolerance {
			return ErrSignatureExpired
		}
	}

	expected := SignWebhookPayload(ts, body, secret)
	for _, sig := range sigs {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return ErrSignatureInvalid
}

// SignWebhookPayload returns the hex v1 signature for a timestamp and body.
func SignWebhookPayload(timestamp string, body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseWebhookEvent decodes a provider delivery. Upload events carry the upload in data;
// asset events carry the asset, with the originating upload in data.upload_id.
func ParseWebhookEvent(body []byte) (models.ProviderEvent, error) {
	var env models.WebhookEvent
	if err := json.Unmarshal(body, &env); err != nil {
		return models.ProviderEvent{}, fmt.Errorf("invalid webhook payload: %w", err)
	}
	if env.Type == "" {
		return models.ProviderEvent{}, fmt.Errorf("invalid webhook payload: missing type")
	}

	ev := models.ProviderEvent{ID: env.ID, Type: env.Type}

	switch {
	case strings.HasPrefix(env.Type, "video.upload."):
		var data uploadData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return models.ProviderEvent{}, fmt.Errorf("invalid upload event data: %w", err)
		}
		ev.UploadID = data.ID
		ev.UploadStatus = data.Status
		ev.AssetID = data.AssetID
	case strings.HasPrefix(env.Type, "video.asset."):
		var data assetData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return models.ProviderEvent{}, fmt.Errorf("invalid asset event data: %w", err)
		}
		ev.UploadID = data.UploadID
		ev.AssetID = data.ID
		ev.AssetStatus = data.Status
		ev.PlaybackID = data.playbackID()
	}

	return ev, nil
}
