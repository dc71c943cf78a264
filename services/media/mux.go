package mediasvc

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/learnplus/learnplus/core"
)

const muxAssetsPath = "/video/v1/assets"

type (
	muxPlaybackID struct {
		ID     string `json:"id"`
		Policy string `json:"policy"`
	}

	muxAsset struct {
		ID          string          `json:"id"`
		Status      string          `json:"status"`
		PlaybackIDs []muxPlaybackID `json:"playback_ids"`
	}

	muxAssetResponse struct {
		Data muxAsset `json:"data"`
	}

	muxErrorResponse struct {
		Error struct {
			Type     string   `json:"type"`
			Messages []string `json:"messages"`
		} `json:"error"`
	}
)

type muxService struct {
	client *resty.Client
}

var _ core.StreamingService = (*muxService)(nil)

// NewMuxService registers videos with Mux Video.
// Requests are never retried: creating an asset is not idempotent.
func NewMuxService(conf *core.Config, logger core.Logger) *muxService {
	client := resty.New().
		SetBaseURL(conf.Media.MuxBaseURL).
		SetBasicAuth(conf.Media.MuxTokenID, conf.Media.MuxTokenSecret).
		SetHeader("Content-Type", "application/json").
		SetTimeout(30 * time.Second).
		SetRetryCount(0).
		SetLogger(restyLogger{logger})
	return &muxService{client: client}
}

var _ resty.Logger = restyLogger{}

// restyLogger routes the client's own logs to the app logger.
type restyLogger struct {
	logger core.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error("mux: " + strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn("mux: " + strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug("mux: " + strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func muxError(res *resty.Response) error {
	if e, ok := res.Error().(*muxErrorResponse); ok && e != nil && len(e.Error.Messages) > 0 {
		return fmt.Errorf("mux: %s (%d): %v", e.Error.Type, res.StatusCode(), e.Error.Messages)
	}
	return fmt.Errorf("mux: unexpected status %d", res.StatusCode())
}

func (svc *muxService) CreateAsset(ctx context.Context, sourceURL string) (core.VideoAsset, error) {
	body := map[string]interface{}{
		"input":           []map[string]string{{"url": sourceURL}},
		"playback_policy": []string{"public"},
	}
	res, err := svc.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&muxAssetResponse{}).
		SetError(&muxErrorResponse{}).
		Post(muxAssetsPath)
	if err != nil {
		return core.VideoAsset{}, errors.Wrap(err, "creating mux asset")
	}
	if res.IsError() {
		return core.VideoAsset{}, muxError(res)
	}

	asset := res.Result().(*muxAssetResponse).Data
	va := core.VideoAsset{AssetID: asset.ID}
	for _, pid := range asset.PlaybackIDs {
		if pid.Policy == "public" {
			va.PlaybackID = pid.ID
			break
		}
	}
	if va.PlaybackID == "" && len(asset.PlaybackIDs) > 0 {
		va.PlaybackID = asset.PlaybackIDs[0].ID
	}
	return va, nil
}

// DeleteAsset is a no-op for assets that do not exist.
func (svc *muxService) DeleteAsset(ctx context.Context, assetID string) error {
	res, err := svc.client.R().
		SetContext(ctx).
		SetError(&muxErrorResponse{}).
		SetPathParam("assetID", assetID).
		Delete(muxAssetsPath + "/{assetID}")
	if err != nil {
		return errors.Wrap(err, "deleting mux asset")
	}
	if res.StatusCode() == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return muxError(res)
	}
	return nil
}
