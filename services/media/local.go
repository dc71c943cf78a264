package mediasvc

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/learnplus/learnplus/core"
)

// localStorage stores media on the local disk. Used in development.
type localStorage struct {
	root    string
	baseURL string
}

var _ core.MediaStorage = (*localStorage)(nil)

func NewLocalStorage(root, baseURL string) *localStorage {
	return &localStorage{root: root, baseURL: strings.TrimRight(baseURL, "/")}
}

func (s *localStorage) path(key string) (string, error) {
	fp := filepath.Join(s.root, filepath.FromSlash(key))
	if !strings.HasPrefix(fp, filepath.Clean(s.root)+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return fp, nil
}

func (s *localStorage) Upload(_ context.Context, r io.Reader, key, _ string) (core.StoredObject, error) {
	fp, err := s.path(key)
	if err != nil {
		return core.StoredObject{}, err
	}
	if err = os.MkdirAll(filepath.Dir(fp), 0o755); err != nil {
		return core.StoredObject{}, errors.Wrap(err, "creating media directory")
	}
	f, err := os.Create(fp)
	if err != nil {
		return core.StoredObject{}, errors.Wrap(err, "creating media file")
	}
	if _, err = io.Copy(f, r); err != nil {
		_ = f.Close()
		return core.StoredObject{}, errors.Wrap(err, "writing media file")
	}
	if err = f.Close(); err != nil {
		return core.StoredObject{}, errors.Wrap(err, "closing media file")
	}
	return core.StoredObject{StorageID: key, URL: s.baseURL + "/" + key}, nil
}

func (s *localStorage) Delete(_ context.Context, storageID string) error {
	fp, err := s.path(storageID)
	if err != nil {
		return err
	}
	if err = os.Remove(fp); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "deleting media file")
	}
	return nil
}

// consoleStreaming logs the assets it would create. Used in development.
type consoleStreaming struct {
	logger core.Logger
}

var _ core.StreamingService = (*consoleStreaming)(nil)

func NewConsoleStreaming(logger core.Logger) *consoleStreaming {
	return &consoleStreaming{logger: logger}
}

func (svc *consoleStreaming) CreateAsset(_ context.Context, sourceURL string) (core.VideoAsset, error) {
	asset := core.VideoAsset{AssetID: "dev-" + uuid.NewString(), PlaybackID: "dev-" + uuid.NewString()}
	svc.logger.Info(fmt.Sprintf("streaming asset %s created for %s", asset.AssetID, sourceURL))
	return asset, nil
}

func (svc *consoleStreaming) DeleteAsset(_ context.Context, assetID string) error {
	svc.logger.Info(fmt.Sprintf("streaming asset %s deleted", assetID))
	return nil
}
