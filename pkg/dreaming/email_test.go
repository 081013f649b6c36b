package dreaming

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/remstore/pkg/models"
)

func TestRenderDigest(t *testing.T) {
	ts := time.Date(2026, 8, 24, 8, 0, 0, 0, time.UTC)
	moments := []*models.Moment{
		{
			BaseModel:         models.BaseModel{Name: "Morning standup"},
			Summary:           "Planned the rollout with <Sarah>",
			ResourceTimestamp: &ts,
			Location:          "office",
		},
		{
			BaseModel: models.BaseModel{Name: "Evening walk"},
			Content:   "Walked along the river",
		},
	}

	body, err := RenderDigest(moments, ts)
	require.NoError(t, err)

	assert.Contains(t, body, DigestSubject)
	assert.Contains(t, body, "Morning standup")
	assert.Contains(t, body, "Evening walk")
	assert.Contains(t, body, "office")
	assert.Contains(t, body, "Walked along the river")
	// html/template escapes untrusted content
	assert.Contains(t, body, "&lt;Sarah&gt;")
	assert.NotContains(t, body, "<Sarah>")
}

func TestRenderDigest_Empty(t *testing.T) {
	body, err := RenderDigest(nil, time.Now())
	require.NoError(t, err)
	assert.Contains(t, body, "No new moments today.")
}

func TestNoopSender(t *testing.T) {
	sender := NewNoopSender(nil)
	assert.NoError(t, sender.Send(nil, "a@b.c", DigestSubject, "<html></html>"))
}
