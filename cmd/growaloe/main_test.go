package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kalanatw/growaloe-crm/internal/app"
	_ "github.com/kalanatw/growaloe-crm/internal/testing/guard"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	require.True(t, app.InTestMode())
	require.NotPanics(t, main)
}
