package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/letterflow/outreach-be/internal/storage/postgres"
)

// DecodeJobCursor parses an opaque pagination cursor. An empty string is a
// valid "first page" cursor.
func DecodeJobCursor(cursorStr string) (*postgres.JobCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	decodedParts := strings.Split(string(decoded), "|")
	if len(decodedParts) != 2 {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var createdAt int64
	_, err = fmt.Sscanf(decodedParts[0], "%d", &createdAt)
	if err != nil {
		return nil, fmt.Errorf("invalid createdAt in cursor: %w", err)
	}

	return &postgres.JobCursor{
		CreatedAt: time.Unix(0, createdAt),
		JobID:     decodedParts[1],
	}, nil
}

// EncodeJobCursor renders a cursor as base64("createdAtNanos|jobID").
func EncodeJobCursor(cursor *postgres.JobCursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.CreatedAt.UnixNano(), cursor.JobID)
	return base64.StdEncoding.EncodeToString([]byte(cs))
}
