package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pampa-erp/pampa/internal/app"
	_ "github.com/pampa-erp/pampa/internal/testing/guard"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	app.RefreshTestMode()
	require.True(t, app.InTestMode())
	main()
}
