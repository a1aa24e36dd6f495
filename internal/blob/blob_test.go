package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/and161185/sharevault/internal/errs"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"
)

var (
	_ Store = (*Disk)(nil)
	_ Store = (*S3)(nil)
	_ Store = (*Memory)(nil)
)

func TestValidKey(t *testing.T) {
	require.NoError(t, ValidKey("3f1c.pdf"))
	for _, k := range []string{"", ".", "..", "a/b", `a\b`, "../etc"} {
		require.ErrorIs(t, ValidKey(k), errs.ErrStorage, k)
	}
}

func TestDisk_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "blobs")
	d, err := NewDisk(dir)
	require.NoError(t, err)

	require.NoError(t, d.Put(ctx, "k1", []byte("payload")))
	got, err := d.Get(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp file must be renamed away")

	require.NoError(t, d.Delete(ctx, "k1"))
	require.NoError(t, d.Delete(ctx, "k1"))
	_, err = d.Get(ctx, "k1")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestDisk_HonoursContext(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDisk(dir)
	require.NoError(t, err)
	require.NoError(t, d.Put(context.Background(), "kept", []byte("x")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, d.Put(ctx, "k1", []byte("payload")), context.Canceled)
	_, err = d.Get(ctx, "kept")
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, d.Delete(ctx, "kept"), context.Canceled)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	m := NewMemory()
	require.ErrorIs(t, m.Put(ctx, "k1", nil), context.Canceled)
	require.Equal(t, 0, m.Len())
}

func TestDisk_RejectsTraversal(t *testing.T) {
	d, err := NewDisk(t.TempDir())
	require.NoError(t, err)
	require.ErrorIs(t, d.Put(context.Background(), "../x", nil), errs.ErrStorage)
}

func TestMemory_CopiesData(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	data := []byte("abc")
	require.NoError(t, m.Put(ctx, "k", data))
	data[0] = 'z'
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), got)
	require.Equal(t, 1, m.Len())
}

type fakeS3 struct {
	objects map[string][]byte
	getErr  error
	putErr  error
	lastPut *s3.PutObjectInput
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	b, _ := io.ReadAll(in.Body)
	f.objects[aws.ToString(in.Key)] = b
	f.lastPut = in
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	b, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3_RoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{objects: map[string][]byte{}}
	s := &S3{client: fake, bucket: "vault"}

	require.NoError(t, s.Put(ctx, "k", []byte("data")))
	require.Equal(t, "vault", aws.ToString(fake.lastPut.Bucket))
	require.Equal(t, int64(4), aws.ToInt64(fake.lastPut.ContentLength))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("data"), got)

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestS3_ErrorsWrapStorage(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{objects: map[string][]byte{}, getErr: errors.New("503"), putErr: errors.New("503")}
	s := &S3{client: fake, bucket: "vault"}

	require.ErrorIs(t, s.Put(ctx, "k", nil), errs.ErrStorage)
	_, err := s.Get(ctx, "k")
	require.ErrorIs(t, err, errs.ErrStorage)
}

func TestNewS3_ConfigError(t *testing.T) {
	orig := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = orig })
	loadDefaultAWSConfig = func(context.Context, ...func(*config.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no config")
	}

	_, err := NewS3(context.Background(), S3Config{Bucket: "b", Region: "us-east-1"})
	require.Error(t, err)
}

func TestNewS3_OK(t *testing.T) {
	s, err := NewS3(context.Background(), S3Config{
		Bucket: "b", Region: "us-east-1", BaseEndpoint: "http://127.0.0.1:9000",
		AccessKey: "minio", SecretKey: "minio123",
	})
	require.NoError(t, err)
	require.Equal(t, "b", s.bucket)
}
