package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowRelevantFields(t *testing.T) {
	assert.True(t, WorkflowRelevantFields["title"])
	assert.True(t, WorkflowRelevantFields["state"])
	assert.True(t, WorkflowRelevantFields["edges"])
	assert.True(t, WorkflowRelevantFields["tags"])
	assert.False(t, WorkflowRelevantFields["description"])
}

func TestFullEventRoundTrip(t *testing.T) {
	data, err := json.Marshal(TitleSetData{Title: "fix foo"})
	require.NoError(t, err)

	full := Full{
		EventID: "0190e1c0-0000-7000-8000-000000000001",
		Type:    TypeTitleSet,
		TS:      "2026-07-30T00:00:00Z",
		KnotID:  "K-1",
		Data:    data,
	}

	body, err := json.Marshal(full)
	require.NoError(t, err)

	var decoded Full
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, full.EventID, decoded.EventID)
	assert.Equal(t, full.Type, decoded.Type)

	var decodedData TitleSetData
	require.NoError(t, json.Unmarshal(decoded.Data, &decodedData))
	assert.Equal(t, "fix foo", decodedData.Title)
}

func TestIndexEventOmitsUnsetHeadFields(t *testing.T) {
	idx := Index{
		EventID: "0190e1c0-0000-7000-8000-000000000002",
		Type:    TypeIndexKnotHead,
		TS:      "2026-07-30T00:00:00Z",
		KnotID:  "K-1",
		Head:    Head{UpdatedAt: "2026-07-30T00:00:00Z"},
	}
	body, err := json.Marshal(idx)
	require.NoError(t, err)
	assert.NotContains(t, string(body), `"title"`)
	assert.NotContains(t, string(body), `"state"`)
	assert.NotContains(t, string(body), `"precondition"`)
}

func TestPreconditionRoundTrip(t *testing.T) {
	idx := Index{
		EventID:      "id",
		Type:         TypeIndexKnotHead,
		TS:           "2026-07-30T00:00:00Z",
		KnotID:       "K-1",
		Head:         Head{UpdatedAt: "2026-07-30T00:00:00Z"},
		Precondition: &Precondition{WorkflowETag: "etag-1"},
	}
	body, err := json.Marshal(idx)
	require.NoError(t, err)

	var decoded Index
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.NotNil(t, decoded.Precondition)
	assert.Equal(t, "etag-1", decoded.Precondition.WorkflowETag)
}
