package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// AzureStorage keeps objects in a single Azure Blob Storage container.
type AzureStorage struct {
	client    *azblob.Client
	container string
	publicURL string
}

var _ Storage = (*AzureStorage)(nil)

func NewAzureStorage(connectionString, container, publicURL string) (*AzureStorage, error) {
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create azure blob client: %w", err)
	}
	if publicURL == "" {
		publicURL = strings.TrimSuffix(client.URL(), "/") + "/" + container
	}
	return &AzureStorage{
		client:    client,
		container: container,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}, nil
}

// Put implements Storage.
func (a *AzureStorage) Put(ctx context.Context, key string, r io.Reader, contentType string) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", key, err)
	}
	opts := &azblob.UploadBufferOptions{}
	if contentType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: &contentType}
	}
	if _, err := a.client.UploadBuffer(ctx, a.container, key, data, opts); err != nil {
		return 0, fmt.Errorf("failed to upload blob %s: %w", key, err)
	}
	return int64(len(data)), nil
}

// Open implements Storage.
func (a *AzureStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := a.client.DownloadStream(ctx, a.container, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to download blob %s: %w", key, err)
	}
	return resp.Body, nil
}

// Delete implements Storage.
func (a *AzureStorage) Delete(ctx context.Context, key string) error {
	if _, err := a.client.DeleteBlob(ctx, a.container, key, nil); err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return errors.Join(ErrNotFound, err)
		}
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}

// URL implements Storage.
func (a *AzureStorage) URL(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return a.publicURL + "/" + strings.Join(parts, "/")
}
