package mediasvc

import (
	"context"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/option"

	"github.com/learnplus/learnplus/core"
)

type gcsStorage struct {
	client        *storage.Client
	bucket        string
	publicBaseURL string
}

var _ core.MediaStorage = (*gcsStorage)(nil)

// NewGCSStorage stores media in a Google Cloud Storage bucket.
// Credentials are read from conf.Media.GCSCredentials, or from the environment (ADC) when empty.
func NewGCSStorage(ctx context.Context, conf *core.Config) (*gcsStorage, error) {
	if conf.Media.GCSBucket == "" {
		return nil, errors.New("media.gcs_bucket is not set")
	}
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if conf.Media.GCSCredentials != "" {
		opts = append(opts, option.WithCredentialsFile(conf.Media.GCSCredentials))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "creating storage client")
	}
	return &gcsStorage{
		client:        client,
		bucket:        conf.Media.GCSBucket,
		publicBaseURL: strings.TrimRight(conf.Media.PublicBaseURL, "/"),
	}, nil
}

func (s *gcsStorage) Upload(ctx context.Context, r io.Reader, key, contentType string) (core.StoredObject, error) {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return core.StoredObject{}, errors.Wrap(err, "writing object")
	}
	if err := w.Close(); err != nil {
		return core.StoredObject{}, errors.Wrap(err, "closing object writer")
	}
	return core.StoredObject{StorageID: key, URL: s.publicBaseURL + "/" + s.bucket + "/" + key}, nil
}

// Delete is a no-op for objects that do not exist.
func (s *gcsStorage) Delete(ctx context.Context, storageID string) error {
	err := s.client.Bucket(s.bucket).Object(storageID).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return errors.Wrap(err, "deleting object")
	}
	return nil
}

func (s *gcsStorage) Close() error {
	return s.client.Close()
}
