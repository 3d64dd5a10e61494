package pricing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, svc *Service, commit func(http.Handler) http.Handler) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	NewHandler(HandlerConfig{Service: svc, CommitMiddleware: commit}).Routes(r)
	return r
}

func post(t *testing.T, h http.Handler, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandlerCalculateSummary(t *testing.T) {
	svc := newTestService(t, &stubRules{rules: []PriceRule{testRule("promo", 10, AdjustPercentage, "-10")}}, nil, nil)
	rr := post(t, newTestRouter(t, svc, nil), "/pricing/calculate", `{"articleId":"art-1","quantity":1,"channel":"ERP"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, 100.0, body["basePrice"])
	require.Equal(t, 90.0, body["finalPrice"])
	require.Equal(t, -10.0, body["totalAdjustment"])
	require.Equal(t, -10.0, body["adjustmentPercentage"])
	require.Equal(t, 1.0, body["rulesApplied"])
	require.NotContains(t, body, "breakdown")
}

func TestHandlerCalculateDetailed(t *testing.T) {
	skipped := testRule("vip", 20, AdjustPercentage, "-50")
	skipped.Conditions = []Condition{mustCondition(t, `{"field":"customer.group","operator":"eq","value":"VIP"}`)}
	svc := newTestService(t, &stubRules{rules: []PriceRule{skipped, testRule("promo", 10, AdjustPercentage, "-10")}}, nil, nil)
	router := newTestRouter(t, svc, nil)
	payload := `{"articleId":"art-1","quantity":1,"channel":"ERP"}`

	rr := post(t, router, "/pricing/calculate?detailed=true", payload)
	require.Equal(t, http.StatusOK, rr.Code)
	var res DetailedResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	require.Len(t, res.Breakdown.Steps, 1)
	require.Equal(t, "promo", res.Breakdown.Steps[0].RuleID)
	require.Nil(t, res.Breakdown.Margins)
	require.Len(t, res.Breakdown.SkippedRules, 1, "detailed results explain skipped rules by default")
	require.Equal(t, "vip", res.Breakdown.SkippedRules[0].RuleID)
	require.Equal(t, "TUBES", res.Breakdown.Context.Article.Family)

	rr = post(t, router, "/pricing/calculate?detailed=true&includeSkippedRules=false", payload)
	require.Equal(t, http.StatusOK, rr.Code)
	res = DetailedResult{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	require.Empty(t, res.Breakdown.SkippedRules)

	rr = post(t, router, "/pricing/calculate?detailed=1&includeMargins=true&includeSkippedRules=true", payload)
	require.Equal(t, http.StatusOK, rr.Code)
	res = DetailedResult{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	require.NotNil(t, res.Breakdown.Margins)
	require.Equal(t, 60.0, res.Breakdown.Margins.CostPrice)
	require.Equal(t, 90.0, res.Breakdown.Margins.SellingPrice)
	require.Len(t, res.Breakdown.SkippedRules, 1)
	require.Equal(t, SkipFieldMissing, res.Breakdown.SkippedRules[0].Reason)
}

func TestHandlerCalculateErrors(t *testing.T) {
	svc := newTestService(t, &stubRules{}, nil, nil)
	router := newTestRouter(t, svc, nil)

	rr := post(t, router, "/pricing/calculate", `{`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "INVALID_BODY")

	rr = post(t, router, "/pricing/calculate", `{"articleId":"art-1","quantity":0,"channel":"ERP"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "VALIDATION_FAILED")

	rr = post(t, router, "/pricing/calculate", `{"articleId":"nope","quantity":1,"channel":"ERP"}`)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Contains(t, rr.Body.String(), "ARTICLE_NOT_FOUND")
}

func TestHandlerCalculateBulk(t *testing.T) {
	svc := newTestService(t, &stubRules{rules: []PriceRule{testRule("promo", 10, AdjustPercentage, "-10")}}, nil, nil)
	rr := post(t, newTestRouter(t, svc, nil), "/pricing/calculate-bulk",
		`{"contexts":[{"articleId":"art-1","quantity":1,"channel":"ERP"},{"articleId":"art-2","quantity":3,"channel":"API"}]}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]SimulationResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body, 2)
	require.Equal(t, "art-1", body["0"].ArticleID)
	require.Equal(t, 90.0, body["0"].FinalPrice)
	require.Equal(t, "art-2", body["1"].ArticleID)
	require.Equal(t, 45.0, body["1"].FinalPrice)
}

func TestHandlerSimulateScenarios(t *testing.T) {
	svc := newTestService(t, &stubRules{}, nil, nil)
	rr := post(t, newTestRouter(t, svc, nil), "/pricing/simulate-scenarios",
		`{"baseContext":{"articleId":"art-1","quantity":1,"channel":"ERP"},"scenarios":[{},{"articleId":"art-2"}]}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Results []SimulationResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Results, 2)
	require.Equal(t, 100.0, body.Results[0].FinalPrice)
	require.Equal(t, 50.0, body.Results[1].FinalPrice)
}

func TestHandlerCommitUsesMiddleware(t *testing.T) {
	store := newMemoryUsage()
	svc := newTestService(t, &stubRules{rules: []PriceRule{testRule("promo", 10, AdjustPercentage, "-10")}}, nil, store)
	wrapped := 0
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped++
			next.ServeHTTP(w, r)
		})
	}
	rr := post(t, newTestRouter(t, svc, mw), "/pricing/commit", `{"articleId":"art-1","quantity":1,"channel":"ERP"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 1, wrapped)
	require.Equal(t, 1, store.reserveCalls)
}

func TestHandlerInvalidateCache(t *testing.T) {
	cache := newMemoryCache()
	svc := newTestService(t, &stubRules{}, cache, nil)
	rr := post(t, newTestRouter(t, svc, nil), "/pricing/cache/invalidate", "")
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Len(t, cache.tenants, 1)
}

func TestHandlerWithoutService(t *testing.T) {
	rr := post(t, newTestRouter(t, nil, nil), "/pricing/calculate", `{}`)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}
