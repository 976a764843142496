package outlier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDataset = &DatasetVersion{ID: "dv-1", Name: "fruits", Version: "v1"}

func TestTagger_TagOutliers_Idempotent(t *testing.T) {
	platform := newFakePlatform(testDataset, nil)
	tagger := NewTagger(platform, WithTaggerLogger(discardLogger()))
	ids := []string{"a", "b", "c"}

	n, err := tagger.TagOutliers(context.Background(), testDataset, ids, "outlier")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = tagger.TagOutliers(context.Background(), testDataset, ids, "outlier")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Len(t, platform.tags, 1)
	assert.Equal(t, map[string]struct{}{"a": {}, "b": {}, "c": {}}, platform.taggedWith("outlier"))
}

func TestTagger_TagOutliers_Deduplicates(t *testing.T) {
	platform := newFakePlatform(testDataset, nil)
	tagger := NewTagger(platform, WithTaggerLogger(discardLogger()))

	n, err := tagger.TagOutliers(context.Background(), testDataset, []string{"a", "a", "", "b"}, "outlier")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, platform.addCalls)
}

func TestTagger_TagOutliers_EmptyDoesNotCallPlatform(t *testing.T) {
	platform := newFakePlatform(testDataset, nil)
	tagger := NewTagger(platform, WithTaggerLogger(discardLogger()))

	n, err := tagger.TagOutliers(context.Background(), testDataset, nil, "outlier")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, platform.tagCalls)
	assert.Equal(t, 0, platform.addCalls)
}

// silentPlatform は AddTag が結果を返さないプラットフォーム
type silentPlatform struct {
	*fakePlatform
}

func (p *silentPlatform) AddTag(ctx context.Context, dataset *DatasetVersion, tag *Tag, assetIDs []string) (*BulkTagResult, error) {
	p.addCalls++
	return nil, nil
}

func TestTagger_TagOutliers_NilResultMeansAllAccepted(t *testing.T) {
	platform := &silentPlatform{fakePlatform: newFakePlatform(testDataset, nil)}
	tagger := NewTagger(platform, WithTaggerLogger(discardLogger()))

	n, err := tagger.TagOutliers(context.Background(), testDataset, []string{"a", "b"}, "outlier")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, platform.addCalls)
}

func TestTagger_TagOutliers_PartialFailure(t *testing.T) {
	platform := newFakePlatform(testDataset, nil)
	platform.rejectAlways = map[string]struct{}{"b": {}}
	tagger := NewTagger(platform, WithTaggerLogger(discardLogger()))

	n, err := tagger.TagOutliers(context.Background(), testDataset, []string{"a", "b", "c"}, "outlier")
	require.Error(t, err)
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, err, ErrTaggingPartialFailure)

	var partial *TaggingPartialFailureError
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, []string{"b"}, partial.Failed)
	assert.Equal(t, 2, partial.Tagged)
	assert.Equal(t, 1, platform.addCalls)
}

func TestTagger_TagOutliers_RetriesRejectedOnly(t *testing.T) {
	platform := newFakePlatform(testDataset, nil)
	platform.rejectOnce = map[string]struct{}{"b": {}}
	tagger := NewTagger(platform,
		WithTaggerLogger(discardLogger()),
		WithRetryPolicy(RetryPolicy{MaxRetries: 2, BaseBackoff: time.Millisecond}),
	)

	n, err := tagger.TagOutliers(context.Background(), testDataset, []string{"a", "b", "c"}, "outlier")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 2, platform.addCalls)
	assert.Len(t, platform.taggedWith("outlier"), 3)
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{BaseBackoff: time.Second, MaxBackoff: 3 * time.Second}
	assert.Equal(t, time.Second, p.backoff(1))
	assert.Equal(t, 2*time.Second, p.backoff(2))
	assert.Equal(t, 3*time.Second, p.backoff(3))
}
