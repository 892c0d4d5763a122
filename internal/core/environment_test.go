package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseEnvironment(t *testing.T) {
	cases := map[string]Environment{
		"production":  Production,
		" PROD ":      Production,
		"staging":     Staging,
		"test":        Testing,
		"testing":     Testing,
		"":            Development,
		"something":   Development,
		"development": Development,
	}
	for in, want := range cases {
		require.Equal(t, want, ParseEnvironment(in), "input=%q", in)
	}
	require.True(t, Production.IsProduction())
	require.False(t, Staging.IsProduction())
}
