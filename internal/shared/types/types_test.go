package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"0212345678", "02-1234-5678"},
		{"021235678", "02-123-5678"},
		{"01012345678", "010-1234-5678"},
		{"010-1234-5678", "010-1234-5678"},
		{"053 123 4567", "053-123-4567"},
		{"+82 10 1234 5678", "010-1234-5678"},
		{"15881234", "1588-1234"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := NormalizePhone(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestNormalizePhone_Invalid(t *testing.T) {
	for _, in := range []string{"", "123", "abc", "9999999999999"} {
		_, err := NormalizePhone(in)
		assert.Error(t, err, in)
	}
}

func TestParseID(t *testing.T) {
	id := NewID()
	parsed, err := ParseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseID("not-a-uuid")
	assert.Error(t, err)
}

func TestParseID_Canonical(t *testing.T) {
	id, err := ParseID("{6BA7B810-9DAD-11D1-80B4-00C04FD430C8}")
	require.NoError(t, err)
	assert.Equal(t, ID("6ba7b810-9dad-11d1-80b4-00c04fd430c8"), id)
}

func TestIDScan(t *testing.T) {
	var id ID
	require.NoError(t, id.Scan([16]byte{0x6b, 0xa7, 0xb8, 0x10, 0x9d, 0xad, 0x11, 0xd1, 0x80, 0xb4, 0x00, 0xc0, 0x4f, 0xd4, 0x30, 0xc8}))
	assert.Equal(t, ID("6ba7b810-9dad-11d1-80b4-00c04fd430c8"), id)

	require.NoError(t, id.Scan(nil))
	assert.True(t, id.IsZero())

	v, err := id.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	assert.Error(t, id.Scan(42))
}

func TestAddressString(t *testing.T) {
	a := NewAddress(" 대구광역시", "중구 ", "동덕로 115")
	assert.Equal(t, "대구광역시 중구 동덕로 115", a.String())
	assert.False(t, a.HasCoordinates())
	assert.True(t, a.WithCoordinates(35.86, 128.6).HasCoordinates())
}
