package core

import (
	"context"
	"io"
)

type (
	// StoredObject identifies an object saved in the media storage.
	StoredObject struct {
		StorageID string // object key, used for deletion
		URL       string // public URL
	}

	// VideoAsset is a video registered with the streaming provider.
	VideoAsset struct {
		AssetID    string
		PlaybackID string
	}

	// MediaStorage is any object storage that can hold uploaded files.
	MediaStorage interface {
		Upload(ctx context.Context, r io.Reader, key, contentType string) (StoredObject, error)
		Delete(ctx context.Context, storageID string) error
	}

	// StreamingService is any video transcoding/streaming provider.
	StreamingService interface {
		CreateAsset(ctx context.Context, sourceURL string) (VideoAsset, error)
		DeleteAsset(ctx context.Context, assetID string) error
	}

	// ImageProcessor turns an uploaded picture into a thumbnail ready to be stored.
	ImageProcessor interface {
		Thumbnail(r io.Reader) (data []byte, contentType string, err error)
	}

	// MediaServices groups the collaborators of the media pipeline.
	MediaServices struct {
		Storage   MediaStorage
		Streaming StreamingService
		Images    ImageProcessor
	}
)
