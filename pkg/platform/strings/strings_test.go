package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrimLower(t *testing.T) {
	assert.Equal(t, []string{"redis", "cache"}, DedupeAndTrimLower([]string{"  Redis ", "cache", "REDIS", "", "  "}))
	assert.Nil(t, DedupeAndTrimLower(nil))
}

func TestTrimSpacePtr(t *testing.T) {
	assert.Nil(t, TrimSpacePtr(nil))
	v := "  x "
	assert.Equal(t, "x", *TrimSpacePtr(&v))
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Redis: Flush Token Cache!", "redis-flush-token-cache"},
		{"  Restart pods  ", "restart-pods"},
		{"IDV -- provider / failover", "idv-provider-failover"},
		{"v2 API", "v2-api"},
		{"!!!", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Slugify(tt.in))
		})
	}
}

func TestToSnakeCase(t *testing.T) {
	assert.Equal(t, "action_id", ToSnakeCase("ActionID"))
	assert.Equal(t, "since_minutes", ToSnakeCase("SinceMinutes"))
	assert.Equal(t, "reason", ToSnakeCase("Reason"))
}
