package xrv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSubject(t *testing.T) {
	for _, s := range []string{"a", "a.b.c", "a.*", "*.b", "a.>", ">", "_RV.INFO.RVCM.DELIVERY.CONFIRM.a.>"} {
		assert.NoError(t, ValidateSubject(s), s)
	}
	for _, s := range []string{"", "a..b", ".a", "a.", "a.>.b", "a*", "a.b>", "a.*b"} {
		assert.ErrorIs(t, ValidateSubject(s), ErrInvalidArgument, s)
	}
}

func TestIsWildcard(t *testing.T) {
	assert.True(t, IsWildcard("a.*"))
	assert.True(t, IsWildcard("a.>"))
	assert.False(t, IsWildcard("a.b"))
	assert.False(t, IsWildcard("a*b"))
}

func TestMatchSubject(t *testing.T) {
	cases := []struct {
		pattern, subject string
		want             bool
	}{
		{"a.b", "a.b", true},
		{"a.b", "a.c", false},
		{"a.*", "a.b", true},
		{"a.*", "a.b.c", false},
		{"a.*", "a", false},
		{"*.b", "a.b", true},
		{"a.>", "a.b", true},
		{"a.>", "a.b.c", true},
		{"a.>", "a", false},
		{">", "a.b", true},
		{"a.*.c", "a.b.c", true},
		{"a.*.c", "a.b.d", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, MatchSubject(tc.pattern, tc.subject), "%s ~ %s", tc.pattern, tc.subject)
	}
}

func TestConfirmSubject(t *testing.T) {
	assert.Equal(t, "_RV.INFO.RVCM.DELIVERY.CONFIRM.orders.created", ConfirmSubject("orders.created"))
	assert.True(t, MatchSubject(ConfirmSubject("orders.>"), ConfirmSubject("orders.created")))
}
