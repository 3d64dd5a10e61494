package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pricing/internal/formula"
)

func TestDefaultFixturesDecode(t *testing.T) {
	var fx fixtures
	require.NoError(t, json.Unmarshal(defaultFixtures, &fx))
	require.NotEmpty(t, fx.Articles)
	require.NotEmpty(t, fx.Customers)
	require.NotEmpty(t, fx.Rules)

	for _, r := range fx.Rules {
		require.True(t, r.AdjustmentType.Valid(), r.ID)
		r.Compile(formula.DefaultLimits())
		require.NoError(t, r.FormulaErr, r.ID)
		for _, c := range r.Conditions {
			require.NoError(t, c.Valid(), r.ID)
		}
	}
}
