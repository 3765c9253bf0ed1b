package azure

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionTokenRoundTrip(t *testing.T) {
	s := newSession("backups/full backup.tar")
	require.NotEmpty(t, s.ID)

	got, err := parseSession(s.token())
	require.NoError(t, err)
	assert.Equal(t, s, got)

	_, err = parseSession("id=only")
	require.Error(t, err)
	_, err = parseSession("%zz")
	require.Error(t, err)
}

func TestBlockIDsHaveFixedLength(t *testing.T) {
	s := newSession("b")
	a, b := s.blockID(0), s.blockID(1<<40)
	assert.Len(t, b, len(a))

	raw, err := base64.StdEncoding.DecodeString(b)
	require.NoError(t, err)
	assert.Equal(t, s.ID+"-00000001099511627776", string(raw))
}

func TestSessionBlocksFilterAndOrder(t *testing.T) {
	s := newSession("b")
	other := newSession("b")

	staged := []string{
		s.blockID(8 << 20),
		other.blockID(0),
		s.blockID(0),
		"not-base64!",
		base64.StdEncoding.EncodeToString([]byte(s.ID + "-notanumber")),
		s.blockID(4 << 20),
	}
	assert.Equal(t, []string{s.blockID(0), s.blockID(4 << 20), s.blockID(8 << 20)}, s.blocks(staged))
	assert.Empty(t, newSession("b").blocks(staged))
}

func TestCursorRoundTrip(t *testing.T) {
	c := encodeCursor("ha backups/", "2!80!MDAwMDE2")
	prefix, marker, err := decodeCursor(c)
	require.NoError(t, err)
	assert.Equal(t, "ha backups/", prefix)
	assert.Equal(t, "2!80!MDAwMDE2", marker)

	_, _, err = decodeCursor("prefix=x")
	require.Error(t, err)
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "backups/full.tar", normalizeKey("/Backups/Full.tar"))
	assert.Equal(t, "", normalizeKey(""))
	assert.Equal(t, "full.tar", baseName("backups/full.tar"))
	assert.Equal(t, "full.tar", baseName("full.tar"))
}
