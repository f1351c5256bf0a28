package publisher_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lead-gen-crawler/internal/publisher"
)

func TestNoopPublisher(t *testing.T) {
	t.Parallel()

	pub := publisher.NewNoopPublisher()
	id, err := pub.Publish(context.Background(), "leads", publisher.LeadEvent{LeadID: "x"})
	require.NoError(t, err)
	assert.Empty(t, id)
	require.NoError(t, pub.Close())
}

func TestLeadEventJSONShape(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(publisher.LeadEvent{
		LeadID:     "lead-1",
		URL:        "https://example.com/contact",
		StatusCode: 200,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"lead_id":"lead-1","url":"https://example.com/contact","status_code":200}`, string(data))
}
