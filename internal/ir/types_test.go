package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsStaticQuery(t *testing.T) {
	assert.True(t, IsStaticQuery("sq--header"))
	assert.False(t, IsStaticQuery("/blog/sq--x/"))
}

func TestQueryResultCanonical(t *testing.T) {
	tests := []struct {
		name     string
		result   QueryResult
		expected string
	}{
		{
			name:     "nil data",
			result:   QueryResult{},
			expected: `{"data":{}}`,
		},
		{
			name: "with page context",
			result: QueryResult{
				Data:        Object{"post": Object{"title": String("A")}},
				PageContext: Object{"slug": String("a")},
			},
			expected: `{"data":{"post":{"title":"A"}},"pageContext":{"slug":"a"}}`,
		},
		{
			name: "with errors",
			result: QueryResult{
				Data: Object{},
				Errors: []QueryError{{
					Message:   "boom",
					Locations: []Location{{Line: 2, Column: 3}},
					Codeframe: "not serialized",
				}},
			},
			expected: `{"data":{},"errors":[{"locations":[{"column":3,"line":2}],"message":"boom"}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tt.result.Canonical()
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(out))
		})
	}
}
