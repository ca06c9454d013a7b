package storage

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"flipr_ingest/models"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	key    string
	bucket string
	body   []byte
	err    error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.key = *in.Key
	f.bucket = *in.Bucket
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestPageKey(t *testing.T) {
	at := time.Unix(1700000000, 0)
	assert.Equal(t, "raw/attom/austin-tx/3-1700000000.json", PageKey(models.SourceAttom, "Austin, TX", 3, at))
	assert.Equal(t, "raw/rentcast/st-louis-mo/100-1700000000.json", PageKey(models.SourceRentcast, "St. Louis, MO", 100, at))
}

func TestArchivePage(t *testing.T) {
	putter := &fakePutter{}
	archive := NewS3ArchiveWithClient(putter, "flipr-raw")
	archive.now = func() time.Time { return time.Unix(1700000000, 0) }

	key, err := archive.ArchivePage(context.Background(), models.SourceRedfin, "Denver, CO", 2, []byte(`{"results":[]}`))
	require.NoError(t, err)
	assert.Equal(t, "raw/redfin/denver-co/2-1700000000.json", key)
	assert.Equal(t, key, putter.key)
	assert.Equal(t, "flipr-raw", putter.bucket)
	assert.JSONEq(t, `{"results":[]}`, string(putter.body))

	putter.err = errors.New("access denied")
	_, err = archive.ArchivePage(context.Background(), models.SourceRedfin, "Denver, CO", 3, nil)
	assert.ErrorContains(t, err, "access denied")
}
