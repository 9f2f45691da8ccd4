package pagination

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paramsFor(t *testing.T, query string) (Params, error) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/?"+query, nil)
	return FromRequest(c)
}

func TestFromRequest_Defaults(t *testing.T) {
	p, err := paramsFor(t, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, p.Limit)
	assert.Zero(t, p.AfterID)
}

func TestFromRequest_ClampsLimit(t *testing.T) {
	p, err := paramsFor(t, "limit=5000")
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, p.Limit)

	p, err = paramsFor(t, "limit=nonsense")
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, p.Limit)
}

func TestCursorRoundTrip(t *testing.T) {
	p, err := paramsFor(t, "cursor="+EncodeCursor(42))
	require.NoError(t, err)
	assert.Equal(t, int64(42), p.AfterID)

	_, err = paramsFor(t, "cursor=%21%21not-a-cursor")
	assert.Error(t, err)
}

func TestNewPage_NextCursorOnlyWhenFull(t *testing.T) {
	full := NewPage([]int{1, 2, 3}, 3, 30)
	assert.Equal(t, EncodeCursor(30), full.NextCursor)

	partial := NewPage([]int{1, 2}, 3, 20)
	assert.Empty(t, partial.NextCursor)
}
