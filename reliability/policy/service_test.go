//go:build unit

package policy

import (
	"context"
	"testing"

	"github.com/praxislaw/lib-reliability/reliability/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService() *Service {
	return NewService(&log.NopLogger{})
}

func adminActor() *Actor {
	return &Actor{ID: "actor-admin", Role: "ADMIN", Permissions: []string{"clients:write"}}
}

func associateActor() *Actor {
	return &Actor{ID: "actor-associate", Role: "ASSOCIATE"}
}

func TestCanExecute_NilActorDenies(t *testing.T) {
	t.Parallel()

	svc := newTestService()
	svc.RegisterPolicy(Policy{
		Name:  "clients",
		Rules: []Rule{{Resource: "Client", Action: "create"}},
	})

	assert.False(t, svc.CanExecute(context.Background(), "actor-1", "CreateClientCommand", nil, nil))
}

func TestCanExecute_NoMatchingRuleDenies(t *testing.T) {
	t.Parallel()

	svc := newTestService()
	svc.RegisterPolicy(Policy{
		Name:  "clients",
		Rules: []Rule{{Resource: "Client", Action: "create"}},
	})

	assert.False(t, svc.CanExecute(context.Background(), "actor-1", "DeleteClientCommand", adminActor(), nil))
	assert.False(t, svc.CanExecute(context.Background(), "actor-1", "CreateMatterCommand", adminActor(), nil))
}

func TestCanExecute_UnparseableCommandNameDenies(t *testing.T) {
	t.Parallel()

	svc := newTestService()
	svc.RegisterPolicy(Policy{
		Name:  "clients",
		Rules: []Rule{{Resource: "Client", Action: "create"}},
	})

	for _, name := range []string{"", "Command", "createClientCommand", "CreateClient", "CreateCommand"} {
		assert.False(t, svc.CanExecute(context.Background(), "actor-1", name, adminActor(), nil), "name %q", name)
	}
}

func TestCanExecute_AcronymCommandNames(t *testing.T) {
	t.Parallel()

	svc := newTestService()
	svc.RegisterPolicy(Policy{
		Name: "ai-analysis",
		Rules: []Rule{{
			Resource:   "Document",
			Action:     "aianalyze",
			Conditions: []Condition{RoleIn{Roles: []string{"ADMIN", "PARTNER"}}},
		}},
	})

	assert.True(t, svc.CanExecute(context.Background(), "a1", "AIAnalyzeDocumentCommand", adminActor(), nil))
	assert.False(t, svc.CanExecute(context.Background(), "a2", "AIAnalyzeDocumentCommand", associateActor(), nil))
}

func TestCanExecute_RoleCondition(t *testing.T) {
	t.Parallel()

	svc := newTestService()
	svc.RegisterPolicy(Policy{
		Name: "client-management",
		Rules: []Rule{{
			Resource:   "Client",
			Action:     "create",
			Conditions: []Condition{RoleIn{Roles: []string{"ADMIN", "PARTNER"}}},
		}},
	})

	assert.False(t, svc.CanExecute(context.Background(), "a1", "CreateClientCommand", associateActor(), nil))
	assert.True(t, svc.CanExecute(context.Background(), "a2", "CreateClientCommand", adminActor(), nil))
	assert.True(t, svc.CanExecute(context.Background(), "a3", "CreateClientCommand",
		&Actor{ID: "a3", Role: "PARTNER"}, nil))
}

func TestCanExecute_PermissionCondition(t *testing.T) {
	t.Parallel()

	svc := newTestService()
	svc.RegisterPolicy(Policy{
		Name: "document-export",
		Rules: []Rule{{
			Resource:   "Document",
			Action:     "export",
			Conditions: []Condition{PermissionIn{Permissions: []string{"documents:export"}}},
		}},
	})

	holder := &Actor{ID: "a1", Role: "ASSOCIATE", Permissions: []string{"documents:read", "documents:export"}}
	assert.True(t, svc.CanExecute(context.Background(), "a1", "ExportDocumentCommand", holder, nil))

	reader := &Actor{ID: "a2", Role: "ASSOCIATE", Permissions: []string{"documents:read"}}
	assert.False(t, svc.CanExecute(context.Background(), "a2", "ExportDocumentCommand", reader, nil))

	none := &Actor{ID: "a3", Role: "ASSOCIATE"}
	assert.False(t, svc.CanExecute(context.Background(), "a3", "ExportDocumentCommand", none, nil))
}

func TestCanExecute_ContextualCondition(t *testing.T) {
	t.Parallel()

	svc := newTestService()
	svc.RegisterPolicy(Policy{
		Name: "contract-approval",
		Rules: []Rule{
			{
				Resource: "Contract",
				Action:   "approve",
				Conditions: []Condition{
					RoleIn{Roles: []string{"PARTNER"}},
					ContextCompare{Field: "contractValue", Op: OpLess, Value: 100000},
				},
			},
			{
				Resource:   "Contract",
				Action:     "approve",
				Conditions: []Condition{RoleIn{Roles: []string{"ADMIN"}}},
			},
		},
	})

	partner := &Actor{ID: "p1", Role: "PARTNER"}

	// Partner under the limit is allowed, over it is not.
	assert.True(t, svc.CanExecute(context.Background(), "p1", "ApproveContractCommand", partner,
		Context{"contractValue": 50000}))
	assert.False(t, svc.CanExecute(context.Background(), "p1", "ApproveContractCommand", partner,
		Context{"contractValue": 150000}))

	// Admin's rule is unconditional, so the limit does not apply.
	assert.True(t, svc.CanExecute(context.Background(), "a1", "ApproveContractCommand", adminActor(),
		Context{"contractValue": 150000}))
}

func TestCanExecute_AbsentContextFieldDenies(t *testing.T) {
	t.Parallel()

	svc := newTestService()
	svc.RegisterPolicy(Policy{
		Name: "contract-approval",
		Rules: []Rule{{
			Resource: "Contract",
			Action:   "approve",
			Conditions: []Condition{
				ContextCompare{Field: "contractValue", Op: OpLess, Value: 100000},
			},
		}},
	})

	partner := &Actor{ID: "p1", Role: "PARTNER"}

	assert.False(t, svc.CanExecute(context.Background(), "p1", "ApproveContractCommand", partner, nil))
	assert.False(t, svc.CanExecute(context.Background(), "p1", "ApproveContractCommand", partner, Context{}))
	assert.False(t, svc.CanExecute(context.Background(), "p1", "ApproveContractCommand", partner,
		Context{"otherField": 1}))
}

func TestCanExecute_NumericNormalization(t *testing.T) {
	t.Parallel()

	svc := newTestService()
	svc.RegisterPolicy(Policy{
		Name: "contract-approval",
		Rules: []Rule{{
			Resource: "Contract",
			Action:   "approve",
			Conditions: []Condition{
				ContextCompare{Field: "contractValue", Op: OpLessOrEqual, Value: 100000},
			},
		}},
	})

	partner := &Actor{ID: "p1", Role: "PARTNER"}

	// JSON decoding yields float64; form parsing yields strings. Both must
	// compare numerically against the integer threshold.
	assert.True(t, svc.CanExecute(context.Background(), "p1", "ApproveContractCommand", partner,
		Context{"contractValue": float64(100000)}))
	assert.True(t, svc.CanExecute(context.Background(), "p2", "ApproveContractCommand", partner,
		Context{"contractValue": "99999.99"}))
	assert.False(t, svc.CanExecute(context.Background(), "p3", "ApproveContractCommand", partner,
		Context{"contractValue": "100000.01"}))
}

func TestCanExecute_CompareOps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		op    CompareOp
		value any
		want  bool
	}{
		{"less true", OpLess, 100, true},
		{"less false on equal", OpLess, 50, false},
		{"less or equal on equal", OpLessOrEqual, 50, true},
		{"greater true", OpGreater, 10, true},
		{"greater false", OpGreater, 50, false},
		{"greater or equal on equal", OpGreaterOrEqual, 50, true},
		{"equal true", OpEqual, 50, true},
		{"equal false", OpEqual, 51, false},
		{"not equal true", OpNotEqual, 51, true},
		{"not equal false", OpNotEqual, 50, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			condition := ContextCompare{Field: "amount", Op: tt.op, Value: tt.value}
			assert.Equal(t, tt.want, condition.holds(nil, Context{"amount": 50}))
		})
	}
}

func TestCanExecute_NonNumericEquality(t *testing.T) {
	t.Parallel()

	eq := ContextCompare{Field: "jurisdiction", Op: OpEqual, Value: "CA"}
	assert.True(t, eq.holds(nil, Context{"jurisdiction": "CA"}))
	assert.False(t, eq.holds(nil, Context{"jurisdiction": "NY"}))

	// Ordered comparison of non-numeric values never authorizes.
	lt := ContextCompare{Field: "jurisdiction", Op: OpLess, Value: "CA"}
	assert.False(t, lt.holds(nil, Context{"jurisdiction": "AA"}))
}

func TestRegisterPolicy_SameNameReplaces(t *testing.T) {
	t.Parallel()

	svc := newTestService()

	svc.RegisterPolicy(Policy{
		Name: "client-management",
		Rules: []Rule{{
			Resource:   "Client",
			Action:     "create",
			Conditions: []Condition{RoleIn{Roles: []string{"ASSOCIATE"}}},
		}},
	})

	require.True(t, svc.CanExecute(context.Background(), "a1", "CreateClientCommand", associateActor(), nil))

	// Replacing the policy under the same name drops its earlier rules.
	svc.RegisterPolicy(Policy{
		Name: "client-management",
		Rules: []Rule{{
			Resource:   "Client",
			Action:     "create",
			Conditions: []Condition{RoleIn{Roles: []string{"ADMIN"}}},
		}},
	})

	assert.False(t, svc.CanExecute(context.Background(), "a2", "CreateClientCommand", associateActor(), nil))
	assert.True(t, svc.CanExecute(context.Background(), "a3", "CreateClientCommand", adminActor(), nil))
	assert.Equal(t, 1, svc.Stats().RulesCount)
}

func TestRegisterPolicy_DifferentNamesUnion(t *testing.T) {
	t.Parallel()

	svc := newTestService()

	svc.RegisterPolicy(Policy{
		Name: "admin-clients",
		Rules: []Rule{{
			Resource:   "Client",
			Action:     "create",
			Conditions: []Condition{RoleIn{Roles: []string{"ADMIN"}}},
		}},
	})
	svc.RegisterPolicy(Policy{
		Name: "partner-clients",
		Rules: []Rule{{
			Resource:   "Client",
			Action:     "create",
			Conditions: []Condition{RoleIn{Roles: []string{"PARTNER"}}},
		}},
	})

	// Rules from both policies participate in the OR.
	assert.True(t, svc.CanExecute(context.Background(), "a1", "CreateClientCommand", adminActor(), nil))
	assert.True(t, svc.CanExecute(context.Background(), "a2", "CreateClientCommand",
		&Actor{ID: "a2", Role: "PARTNER"}, nil))
	assert.False(t, svc.CanExecute(context.Background(), "a3", "CreateClientCommand", associateActor(), nil))
	assert.Equal(t, 2, svc.Stats().RulesCount)
}

func TestCanExecute_CachesDecisions(t *testing.T) {
	t.Parallel()

	svc := newTestService()
	svc.RegisterPolicy(Policy{
		Name: "clients",
		Rules: []Rule{{
			Resource:   "Client",
			Action:     "create",
			Conditions: []Condition{RoleIn{Roles: []string{"ADMIN"}}},
		}},
	})

	actor := adminActor()

	first := svc.CanExecute(context.Background(), "a1", "CreateClientCommand", actor, nil)
	second := svc.CanExecute(context.Background(), "a1", "CreateClientCommand", actor, nil)

	assert.True(t, first)
	assert.True(t, second)

	stats := svc.Stats()
	assert.Equal(t, uint64(1), stats.EvaluationCount)
	assert.Equal(t, uint64(1), stats.CacheHits)

	// A different context fingerprint is a different cache entry.
	svc.CanExecute(context.Background(), "a1", "CreateClientCommand", actor, Context{"office": "SF"})

	stats = svc.Stats()
	assert.Equal(t, uint64(2), stats.EvaluationCount)
	assert.Equal(t, uint64(1), stats.CacheHits)
}

func TestCanExecute_CacheKeyIgnoresFieldOrder(t *testing.T) {
	t.Parallel()

	a := cacheKey("a1", "CreateClientCommand", Context{"x": 1, "y": 2})
	b := cacheKey("a1", "CreateClientCommand", Context{"y": 2, "x": 1})

	assert.Equal(t, a, b)
}

func TestClearCache(t *testing.T) {
	t.Parallel()

	svc := newTestService()
	svc.RegisterPolicy(Policy{
		Name:  "clients",
		Rules: []Rule{{Resource: "Client", Action: "create"}},
	})

	svc.CanExecute(context.Background(), "a1", "CreateClientCommand", adminActor(), nil)
	svc.CanExecute(context.Background(), "a1", "CreateClientCommand", adminActor(), nil)

	svc.ClearCache()

	stats := svc.Stats()
	assert.Equal(t, uint64(0), stats.EvaluationCount)
	assert.Equal(t, uint64(0), stats.CacheHits)
	assert.Equal(t, 1, stats.RulesCount, "clearing the cache keeps registered policies")

	// The next call re-evaluates instead of hitting a stale cache.
	svc.CanExecute(context.Background(), "a1", "CreateClientCommand", adminActor(), nil)
	assert.Equal(t, uint64(1), svc.Stats().EvaluationCount)
}

func TestParseCommandName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		wantResource string
		wantAction   string
		wantOK       bool
	}{
		{"CreateClientCommand", "Client", "create", true},
		{"UpdateCaseDeadlineCommand", "CaseDeadline", "update", true},
		{"ExportDocumentCommand", "Document", "export", true},
		{"ExportPDFReportCommand", "PDFReport", "export", true},
		{"AIAnalyzeDocumentCommand", "Document", "aianalyze", true},
		{"OCRScanContractCommand", "Contract", "ocrscan", true},
		{"CreateClient", "", "", false},
		{"createClientCommand", "", "", false},
		{"Command", "", "", false},
		{"CreateCommand", "", "", false},
		{"AIDocumentCommand", "", "", false},
		{"", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resource, action, ok := parseCommandName(tt.name)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantResource, resource)
			assert.Equal(t, tt.wantAction, action)
		})
	}
}
