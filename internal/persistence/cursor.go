// Package persistence contains helpers shared by store implementations.
package persistence

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"example.com/trainingalerts/internal/domain"
)

// EncodeCursor serialises the cursor to a string token.
func EncodeCursor(c *domain.ListCursor) string {
	if c == nil {
		return ""
	}
	raw := fmt.Sprintf("%d|%s|%s", c.SeverityRank, c.CreatedAt.UTC().Format(time.RFC3339Nano), c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses the encoded cursor token. An empty token yields a nil cursor.
func DecodeCursor(token string) (*domain.ListCursor, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCursor, err)
	}
	parts := strings.SplitN(string(decoded), "|", 3)
	if len(parts) != 3 || parts[2] == "" {
		return nil, fmt.Errorf("%w: unexpected format", domain.ErrInvalidCursor)
	}
	rank, err := strconv.Atoi(parts[0])
	if err != nil || rank < 1 || rank > 3 {
		return nil, fmt.Errorf("%w: bad severity rank", domain.ErrInvalidCursor)
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCursor, err)
	}
	return &domain.ListCursor{SeverityRank: rank, CreatedAt: ts, ID: parts[2]}, nil
}
