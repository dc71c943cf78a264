package mediasvc

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/learnplus/learnplus/core"
)

// Mock implements every media service in memory, with switchable failures.
type Mock struct {
	mu sync.Mutex

	Objects map[string][]byte // {storageID: content}
	Assets  map[string]string // {assetID: sourceURL}

	FailUpload      error
	FailDelete      error
	FailCreateAsset error
	FailDeleteAsset error
	FailThumbnail   error
}

var (
	_ core.MediaStorage     = (*Mock)(nil)
	_ core.StreamingService = (*Mock)(nil)
	_ core.ImageProcessor   = (*Mock)(nil)
)

func NewMock() *Mock {
	return &Mock{Objects: make(map[string][]byte), Assets: make(map[string]string)}
}

// Services returns the mock as core.MediaServices.
func (m *Mock) Services() core.MediaServices {
	return core.MediaServices{Storage: m, Streaming: m, Images: m}
}

func (m *Mock) Upload(_ context.Context, r io.Reader, key, _ string) (core.StoredObject, error) {
	if m.FailUpload != nil {
		return core.StoredObject{}, m.FailUpload
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return core.StoredObject{}, err
	}
	m.mu.Lock()
	m.Objects[key] = data
	m.mu.Unlock()
	return core.StoredObject{StorageID: key, URL: "https://media.test/" + key}, nil
}

func (m *Mock) Delete(_ context.Context, storageID string) error {
	if m.FailDelete != nil {
		return m.FailDelete
	}
	m.mu.Lock()
	delete(m.Objects, storageID)
	m.mu.Unlock()
	return nil
}

func (m *Mock) CreateAsset(_ context.Context, sourceURL string) (core.VideoAsset, error) {
	if m.FailCreateAsset != nil {
		return core.VideoAsset{}, m.FailCreateAsset
	}
	asset := core.VideoAsset{AssetID: uuid.NewString(), PlaybackID: uuid.NewString()}
	m.mu.Lock()
	m.Assets[asset.AssetID] = sourceURL
	m.mu.Unlock()
	return asset, nil
}

func (m *Mock) DeleteAsset(_ context.Context, assetID string) error {
	if m.FailDeleteAsset != nil {
		return m.FailDeleteAsset
	}
	m.mu.Lock()
	delete(m.Assets, assetID)
	m.mu.Unlock()
	return nil
}

func (m *Mock) Thumbnail(r io.Reader) ([]byte, string, error) {
	if m.FailThumbnail != nil {
		return nil, "", m.FailThumbnail
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", err
	}
	return data, "image/webp", nil
}

func (m *Mock) ObjectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Objects)
}

func (m *Mock) AssetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Assets)
}
