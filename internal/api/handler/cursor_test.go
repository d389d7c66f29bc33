package handler

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letterflow/outreach-be/internal/storage/postgres"
)

func TestJobCursorRoundTrip(t *testing.T) {
	in := &postgres.JobCursor{
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 123456789, time.UTC),
		JobID:     "6b1f4f2e-6c2a-4f3b-9c76-0a5a1c2d3e4f",
	}

	out, err := DecodeJobCursor(EncodeJobCursor(in))
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, in.JobID, out.JobID)
}

func TestDecodeJobCursorEmptyIsFirstPage(t *testing.T) {
	cursor, err := DecodeJobCursor("")
	require.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestDecodeJobCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeJobCursor("not base64!!!")
	assert.Error(t, err)

	_, err = DecodeJobCursor(base64.StdEncoding.EncodeToString([]byte("no-separator")))
	assert.Error(t, err)

	_, err = DecodeJobCursor(base64.StdEncoding.EncodeToString([]byte("abc|job-1")))
	assert.Error(t, err, "createdAt must be numeric")
}
