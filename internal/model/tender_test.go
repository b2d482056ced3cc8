package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageOrdering(t *testing.T) {
	assert.True(t, StageNew.Before(StageAttachmentsReady))
	assert.True(t, StageAttachmentsReady.Before(StageComplete))
	assert.False(t, StageComplete.Before(StageNew))
	assert.False(t, StageNew.Before(StageNew))
}

func TestStageNext(t *testing.T) {
	assert.Equal(t, StageAttachmentsReady, StageNew.Next())
	assert.Equal(t, StageTextExtracted, StageAttachmentsReady.Next())
	assert.Equal(t, StageAiEnriched, StageTextExtracted.Next())
	assert.Equal(t, StageComplete, StageAiEnriched.Next())
	assert.Equal(t, StageComplete, StageComplete.Next())
}

func TestDownloadStatusTerminal(t *testing.T) {
	assert.False(t, DownloadPending.Terminal())
	assert.False(t, DownloadStatus("").Terminal())
	assert.True(t, DownloadDownloaded.Terminal())
	assert.True(t, DownloadFailed.Terminal())
	assert.True(t, DownloadSkippedTooLarge.Terminal())
	assert.True(t, DownloadSkippedBadExtension.Terminal())
}

func TestTenderFailed(t *testing.T) {
	tender := Tender{}
	assert.False(t, tender.Failed())
	tender.FailedStage = StageAiEnriched
	assert.True(t, tender.Failed())
}
