package minio

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/karin-compliance/internal/config"
	"github.com/turtacn/karin-compliance/pkg/errors"
)

type MockObjectAPI struct {
	mock.Mock
}

func (m *MockObjectAPI) ListBuckets(ctx context.Context) ([]minio.BucketInfo, error) {
	args := m.Called(ctx)
	return args.Get(0).([]minio.BucketInfo), args.Error(1)
}

func (m *MockObjectAPI) BucketExists(ctx context.Context, bucket string) (bool, error) {
	args := m.Called(ctx, bucket)
	return args.Bool(0), args.Error(1)
}

func (m *MockObjectAPI) MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error {
	return m.Called(ctx, bucket, opts).Error(0)
}

func (m *MockObjectAPI) SetBucketLifecycle(ctx context.Context, bucket string, cfg *lifecycle.Configuration) error {
	return m.Called(ctx, bucket, cfg).Error(0)
}

func (m *MockObjectAPI) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	data, _ := io.ReadAll(r)
	args := m.Called(ctx, bucket, key, data, size, opts)
	return args.Get(0).(minio.UploadInfo), args.Error(1)
}

func (m *MockObjectAPI) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, bucket, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return io.NopCloser(bytes.NewReader(args.Get(0).([]byte))), args.Error(1)
}

func (m *MockObjectAPI) StatObject(ctx context.Context, bucket, key string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	args := m.Called(ctx, bucket, key, opts)
	return args.Get(0).(minio.ObjectInfo), args.Error(1)
}

func (m *MockObjectAPI) ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	args := m.Called(ctx, bucket, opts)
	return args.Get(0).(<-chan minio.ObjectInfo)
}

type ClientTestSuite struct {
	suite.Suite
	api *MockObjectAPI
	ctx context.Context
}

func (s *ClientTestSuite) SetupTest() {
	s.api = new(MockObjectAPI)
	s.ctx = context.Background()
}

func (s *ClientTestSuite) TestApplyDefaults() {
	cfg := config.MinIOConfig{}
	applyDefaults(&cfg)
	s.Equal("us-east-1", cfg.Region)
	s.Equal(config.DefaultMinIOBucket, cfg.Bucket)
}

func (s *ClientTestSuite) TestEnsureBucket_Creates() {
	cfg := config.MinIOConfig{Bucket: "evals", Region: "sa-east-1"}
	s.api.On("BucketExists", s.ctx, "evals").Return(false, nil)
	s.api.On("MakeBucket", s.ctx, "evals", minio.MakeBucketOptions{Region: "sa-east-1"}).Return(nil)

	c := NewClientWithAPI(s.api, cfg, nil)
	s.NoError(c.EnsureBucket(s.ctx))
	s.api.AssertExpectations(s.T())
	s.api.AssertNotCalled(s.T(), "SetBucketLifecycle", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ClientTestSuite) TestEnsureBucket_AppliesRetention() {
	cfg := config.MinIOConfig{Bucket: "evals", RetentionDays: 1825}
	s.api.On("BucketExists", s.ctx, "evals").Return(true, nil)
	s.api.On("SetBucketLifecycle", s.ctx, "evals", mock.MatchedBy(func(l *lifecycle.Configuration) bool {
		return len(l.Rules) == 1 && int(l.Rules[0].Expiration.Days) == 1825
	})).Return(stderrors.New("not supported"))

	c := NewClientWithAPI(s.api, cfg, nil)
	s.NoError(c.EnsureBucket(s.ctx), "lifecycle failures are logged only")
	s.api.AssertExpectations(s.T())
}

func (s *ClientTestSuite) TestEnsureBucket_CheckFails() {
	s.api.On("BucketExists", s.ctx, "evals").Return(false, stderrors.New("denied"))
	c := NewClientWithAPI(s.api, config.MinIOConfig{Bucket: "evals"}, nil)
	s.True(errors.IsCode(c.EnsureBucket(s.ctx), errors.ErrCodeStorageError))
}

func (s *ClientTestSuite) TestHealthCheck() {
	c := NewClientWithAPI(s.api, config.MinIOConfig{Bucket: "evals"}, nil)
	s.api.On("BucketExists", s.ctx, "evals").Return(true, nil).Once()
	s.NoError(c.HealthCheck(s.ctx))

	s.api.On("BucketExists", s.ctx, "evals").Return(false, nil).Once()
	s.Error(c.HealthCheck(s.ctx))
}

func (s *ClientTestSuite) TestClosed() {
	c := NewClientWithAPI(s.api, config.MinIOConfig{}, nil)
	s.NoError(c.Close())
	_, err := c.API()
	s.ErrorIs(err, ErrClientClosed)
	s.ErrorIs(c.HealthCheck(s.ctx), ErrClientClosed)
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}
