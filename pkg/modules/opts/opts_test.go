package opts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/authchain/pkg/domain"
)

func TestReaders(t *testing.T) {
	options := map[string]any{
		"issuer":  "https://issuer.example.com",
		"strict":  "true",
		"ttl":     "5m",
		"leeway":  30,
		"groups":  []any{"admins", "ops"},
		"csv":     "a, b,,c",
		"keys":    map[string]any{"k1": "alice"},
		"status":  "SEND_FAILURE",
		"badtype": 12,
	}

	s, err := String(options, "issuer", "")
	require.NoError(t, err)
	assert.Equal(t, "https://issuer.example.com", s)

	s, err = String(options, "missing", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", s)

	b, err := Bool(options, "strict", false)
	require.NoError(t, err)
	assert.True(t, b)

	d, err := Duration(options, "ttl", 0)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, d)

	d, err = Duration(options, "leeway", 0)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	n, err := Int(options, "leeway", 0)
	require.NoError(t, err)
	assert.Equal(t, 30, n)

	n, err = Int(map[string]any{"size": 64.0}, "size", 0)
	require.NoError(t, err)
	assert.Equal(t, 64, n)

	list, err := Strings(options, "groups")
	require.NoError(t, err)
	assert.Equal(t, []string{"admins", "ops"}, list)

	list, err = Strings(options, "csv")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, list)

	m, err := StringMap(options, "keys")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"k1": "alice"}, m)

	status, err := Status(options, "status", domain.Success)
	require.NoError(t, err)
	assert.Equal(t, domain.SendFailure, status)

	assert.Equal(t, "badtype", Keys(options)[0])
}

func TestReadersRejectWrongTypes(t *testing.T) {
	options := map[string]any{"n": 12, "status": "maybe"}

	_, err := String(options, "n", "")
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)

	_, err = Bool(options, "n", false)
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)

	_, err = Strings(options, "n")
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)

	_, err = Status(options, "status", domain.Success)
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)
}
