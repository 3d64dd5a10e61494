package formula_test

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pricing/internal/formula"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestEvalArithmetic(t *testing.T) {
	vars := formula.Vars{
		"price":         dec("100"),
		"quantity":      dec("3"),
		"article.poids": dec("2.5"),
	}
	cases := map[string]string{
		"price * 0.9":                      "90",
		"price - 5 * 2":                    "90",
		"(price - 5) * 2":                  "190",
		"-price + 10":                      "-90",
		"--price":                          "100",
		"article.poids * quantity * 4":     "30",
		"min(price, 80, 95)":               "80",
		"max(price * 0.5, 60)":             "60",
		"round(price / 3, 2)":              "33.33",
		"round(article.poids)":             "3",
		"price / 4":                        "25",
		"MIN(price, quantity)":             "3",
		"round(price * 1.2 - quantity, 1)": "117",
	}
	for src, want := range cases {
		t.Run(src, func(t *testing.T) {
			got, err := formula.Eval(src, vars, formula.DefaultLimits())
			require.NoError(t, err)
			require.True(t, dec(want).Equal(got), "want %s got %s", want, got)
		})
	}
}

func TestParseRejectsForeignTokens(t *testing.T) {
	bad := []string{
		"",
		"price ** 2",
		"price; process.exit()",
		"eval(price)",
		"price > 2",
		"price % 2",
		"`price`",
		"'abc'",
		"price[0]",
		"round(price, 2",
		"min()",
		"round(1, 2, 3)",
		"1..2",
		"price.",
		"price =  2",
	}
	for _, src := range bad {
		t.Run(src, func(t *testing.T) {
			_, err := formula.Parse(src, formula.DefaultLimits())
			require.Error(t, err)
		})
	}
}

func TestParseUnknownFunction(t *testing.T) {
	_, err := formula.Parse("sqrt(price)", formula.DefaultLimits())
	require.ErrorIs(t, err, formula.ErrUnknownFunction)
}

func TestEvalUnknownVariable(t *testing.T) {
	_, err := formula.Eval("price * discount", formula.Vars{"price": dec("10")}, formula.DefaultLimits())
	require.ErrorIs(t, err, formula.ErrUnknownVariable)

	_, err = formula.Eval("constructor.prototype", formula.Vars{"price": dec("10")}, formula.DefaultLimits())
	require.ErrorIs(t, err, formula.ErrUnknownVariable)
}

func TestEvalDivisionByZero(t *testing.T) {
	_, err := formula.Eval("price / (quantity - 1)", formula.Vars{"price": dec("10"), "quantity": dec("1")}, formula.DefaultLimits())
	require.ErrorIs(t, err, formula.ErrDivisionByZero)
}

func TestNodeBudget(t *testing.T) {
	src := strings.Repeat("1 + ", 200) + "1"
	_, err := formula.Parse(src, formula.Limits{MaxNodes: 50})
	require.ErrorIs(t, err, formula.ErrBudgetExceeded)

	expr, err := formula.Parse(src, formula.Limits{MaxNodes: 1000, MaxLength: 4096})
	require.NoError(t, err)
	require.Equal(t, 401, expr.Nodes())
}

func TestDepthBudget(t *testing.T) {
	src := strings.Repeat("(", 100) + "1" + strings.Repeat(")", 100)
	_, err := formula.Parse(src, formula.DefaultLimits())
	require.ErrorIs(t, err, formula.ErrBudgetExceeded)

	neg := strings.Repeat("-", 100) + "1"
	_, err = formula.Parse(neg, formula.DefaultLimits())
	require.ErrorIs(t, err, formula.ErrBudgetExceeded)
}

func TestStepBudget(t *testing.T) {
	expr, err := formula.Parse("1 + 2 + 3 + 4", formula.Limits{MaxSteps: 3})
	require.NoError(t, err)
	_, err = expr.Eval(nil)
	require.ErrorIs(t, err, formula.ErrBudgetExceeded)
}

func TestLengthBudget(t *testing.T) {
	_, err := formula.Parse(strings.Repeat("1", 64), formula.Limits{MaxLength: 10})
	require.ErrorIs(t, err, formula.ErrBudgetExceeded)
}

func TestVariables(t *testing.T) {
	expr, err := formula.Parse("price * quantity + min(price, article.volume)", formula.DefaultLimits())
	require.NoError(t, err)
	require.Equal(t, []string{"price", "quantity", "article.volume"}, expr.Variables())
	require.Equal(t, "price * quantity + min(price, article.volume)", expr.String())
}

func TestExprReusable(t *testing.T) {
	expr, err := formula.Parse("price * 2", formula.DefaultLimits())
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		got, err := expr.Eval(formula.Vars{"price": decimal.NewFromInt(int64(i))})
		require.NoError(t, err)
		require.True(t, decimal.NewFromInt(int64(i*2)).Equal(got))
	}
}
