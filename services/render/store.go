package rendersvc

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-bulletins/core"
)

// Store keeps rendered documents and returns the URL they can be fetched from.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) (url string, err error)
}

// NewStore returns the store selected by conf.Driver (local | oss).
func NewStore(conf core.StorageConfig) (Store, error) {
	switch strings.ToLower(conf.Driver) {
	case "", "local":
		return NewLocalStore(conf.Dir, conf.BaseURL)
	case "oss":
		return NewOSSStore(conf)
	}
	return nil, errors.Errorf("unknown storage driver %q", conf.Driver)
}

type localStore struct {
	dir     string
	baseURL string
}

var _ Store = (*localStore)(nil)

func NewLocalStore(dir, baseURL string) (Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating storage dir")
	}
	if baseURL == "" || baseURL == "file://" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, errors.Wrap(err, "resolving storage dir")
		}
		baseURL = "file://" + filepath.ToSlash(abs)
	}
	return &localStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *localStore) Put(ctx context.Context, key string, r io.Reader, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrap(err, "creating document dir")
	}

	// write then rename so readers never see a partial document
	tmp, err := os.CreateTemp(filepath.Dir(path), ".render-*")
	if err != nil {
		return "", errors.Wrap(err, "creating document")
	}
	if _, err = io.Copy(tmp, r); err == nil {
		err = tmp.Close()
	} else {
		_ = tmp.Close()
	}
	if err == nil {
		err = os.Rename(tmp.Name(), path)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return "", errors.Wrap(err, "writing document")
	}
	return s.baseURL + "/" + key, nil
}

type ossStore struct {
	bucket     *oss.Bucket
	endpoint   string
	bucketName string
	prefix     string
	baseURL    string
}

var _ Store = (*ossStore)(nil)

// NewOSSStore uploads documents to an Alibaba Cloud OSS bucket.
func NewOSSStore(conf core.StorageConfig) (Store, error) {
	if conf.OSSEndpoint == "" || conf.OSSAccessKey == "" || conf.OSSSecretKey == "" || conf.OSSBucket == "" {
		return nil, core.NewValidationError(errors.New("oss storage needs endpoint, access key, secret key and bucket"))
	}
	client, err := oss.New(conf.OSSEndpoint, conf.OSSAccessKey, conf.OSSSecretKey)
	if err != nil {
		return nil, errors.Wrap(err, "oss.New")
	}
	bucket, err := client.Bucket(conf.OSSBucket)
	if err != nil {
		return nil, errors.Wrap(err, "oss bucket")
	}
	baseURL := conf.BaseURL
	if baseURL == "file://" {
		baseURL = ""
	}
	return &ossStore{
		bucket:     bucket,
		endpoint:   conf.OSSEndpoint,
		bucketName: conf.OSSBucket,
		prefix:     strings.Trim(conf.OSSObjectPrefix, "/"),
		baseURL:    strings.TrimRight(baseURL, "/"),
	}, nil
}

func (s *ossStore) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *ossStore) Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	// PutObject may retry: hand it a seekable reader
	content, err := io.ReadAll(r)
	if err != nil {
		return "", errors.Wrap(err, "reading document")
	}
	objKey := s.objectKey(key)
	opts := []oss.Option{
		oss.WithContext(ctx),
		oss.ContentType(contentType),
		oss.ContentDisposition("inline"),
	}
	if err := s.bucket.PutObject(objKey, bytes.NewReader(content), opts...); err != nil {
		return "", errors.Wrap(err, "oss put")
	}
	return s.publicURL(objKey), nil
}

func (s *ossStore) publicURL(objKey string) string {
	if s.baseURL != "" {
		return s.baseURL + "/" + objKey
	}
	end := strings.TrimPrefix(strings.TrimPrefix(s.endpoint, "https://"), "http://")
	return "https://" + s.bucketName + "." + end + "/" + objKey
}
