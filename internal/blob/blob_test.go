package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects map[string][]byte
	putErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(params.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey: the specified key does not exist")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestPutAndGet(t *testing.T) {
	api := newFakeS3()
	store := NewStore(api, "sanamente-attachments", nil)
	tenant, conv := uuid.New(), uuid.New()
	ciphertext := []byte("opaque-envelope-ciphertext")

	key, err := store.Put(context.Background(), tenant, conv, ciphertext)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "attachments/v1/"+tenant.String()+"/"+conv.String()+"/"),
		"key %q must be scoped by tenant and conversation", key)

	got, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, ciphertext, got)
}

func TestGetMissingKey(t *testing.T) {
	store := NewStore(newFakeS3(), "bucket", nil)
	_, err := store.Get(context.Background(), "attachments/v1/nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutEmptyCiphertextRejected(t *testing.T) {
	store := NewStore(newFakeS3(), "bucket", nil)
	_, err := store.Put(context.Background(), uuid.New(), uuid.New(), nil)
	assert.Error(t, err)
}

func TestDisabledStore(t *testing.T) {
	store := NewStore(nil, "", nil)
	assert.False(t, store.Enabled())

	_, err := store.Put(context.Background(), uuid.New(), uuid.New(), []byte("x"))
	assert.Error(t, err)
	_, err = store.Get(context.Background(), "k")
	assert.Error(t, err)
}
