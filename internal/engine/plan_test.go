package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackform-io/stackform/internal/ir"
)

// bootstrapConfig is the remote-state trio: a bucket, a lock table, and a
// policy whose document references both of their ARNs.
func bootstrapConfig() *ir.Config {
	return testConfig(
		testResource("aws:S3.Bucket", "state", map[string]any{
			"bucket":     "state",
			"versioning": true,
		}),
		testResource("aws:DynamoDB.Table", "locks", map[string]any{
			"tableName": "locks",
		}),
		testResource("aws:IAM.Policy", "state", map[string]any{
			"name": "state-access",
			"document": map[string]any{
				"resources": []any{
					"ref://aws:S3.Bucket/state/arn",
					"ref://aws:DynamoDB.Table/locks/arn",
				},
			},
		}),
	)
}

func TestPlanCreatesAllWithPolicyLast(t *testing.T) {
	eng := testEngine(newFakeProvider())
	st := ir.NewState()

	plan, err := eng.CreatePlan(context.Background(), bootstrapConfig(), st)
	require.NoError(t, err)

	require.Len(t, plan.Changes, 3)
	assert.Equal(t, 3, plan.Summary.Create)
	for _, change := range plan.Changes {
		assert.Equal(t, ir.ActionCreate, change.Action)
	}

	// Changes come out in creation order, so the policy is last.
	assert.Equal(t, "aws:IAM.Policy.state", plan.Changes[2].Address)

	// Attributes referencing pending resources are unknown until apply.
	policyDiff := plan.Changes[2].Diff
	require.Contains(t, policyDiff, "document")
	assert.True(t, policyDiff["document"].Unknown)
	require.Contains(t, policyDiff, "name")
	assert.False(t, policyDiff["name"].Unknown)
}

func TestPlanRecordsStateRevision(t *testing.T) {
	eng := testEngine(newFakeProvider())
	st := ir.NewState()
	st.Revision = 9

	plan, err := eng.CreatePlan(context.Background(), bootstrapConfig(), st)
	require.NoError(t, err)
	assert.Equal(t, 9, plan.Metadata.StateRevision)
}

func TestPlanIdempotentAfterApply(t *testing.T) {
	fake := newFakeProvider()
	eng := testEngine(fake)
	st := ir.NewState()
	ctx := context.Background()

	plan, err := eng.CreatePlan(ctx, bootstrapConfig(), st)
	require.NoError(t, err)
	_, err = eng.ApplyPlan(ctx, plan, st, nil)
	require.NoError(t, err)

	second, err := eng.CreatePlan(ctx, bootstrapConfig(), st)
	require.NoError(t, err)
	assert.True(t, second.Empty(), "second plan should be empty, got %+v", second.Changes)
	assert.Equal(t, 3, second.Summary.NoOp)
}

func TestPlanUpdateOnChangedAttribute(t *testing.T) {
	eng := testEngine(newFakeProvider())
	st := ir.NewState()
	st.Put(&ir.ResourceState{
		Type: "aws:S3.Bucket", Name: "state", Provider: "test", RemoteID: "state-1",
		Inputs:  map[string]any{"bucket": "state", "versioning": false},
		Outputs: map[string]any{"arn": "arn:fake:state"},
	})

	cfg := testConfig(testResource("aws:S3.Bucket", "state", map[string]any{
		"bucket":     "state",
		"versioning": true,
	}))

	plan, err := eng.CreatePlan(context.Background(), cfg, st)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)

	change := plan.Changes[0]
	assert.Equal(t, ir.ActionUpdate, change.Action)
	require.Contains(t, change.Diff, "versioning")
	assert.Equal(t, false, change.Diff["versioning"].Before)
	assert.Equal(t, true, change.Diff["versioning"].After)
	assert.NotContains(t, change.Diff, "bucket")
}

func TestPlanDeletesUndeclared(t *testing.T) {
	eng := testEngine(newFakeProvider())
	st := ir.NewState()
	st.Put(&ir.ResourceState{
		Type: "aws:IAM.Policy", Name: "state", Provider: "test", RemoteID: "policy-1",
		Inputs: map[string]any{"name": "state-access"},
	})

	plan, err := eng.CreatePlan(context.Background(), testConfig(), st)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, ir.ActionDelete, plan.Changes[0].Action)
	assert.Equal(t, "aws:IAM.Policy.state", plan.Changes[0].Address)
	assert.Equal(t, 1, plan.Summary.Delete)
}

func TestPlanTaintedForcesReplace(t *testing.T) {
	eng := testEngine(newFakeProvider())
	st := ir.NewState()
	st.Put(&ir.ResourceState{
		Type: "aws:S3.Bucket", Name: "state", Provider: "test", RemoteID: "state-1",
		Inputs:  map[string]any{"bucket": "state"},
		Tainted: true,
	})

	cfg := testConfig(testResource("aws:S3.Bucket", "state", map[string]any{"bucket": "state"}))
	plan, err := eng.CreatePlan(context.Background(), cfg, st)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, ir.ActionReplace, plan.Changes[0].Action)
}

func TestPlanPreventDestroyBlocksReplace(t *testing.T) {
	eng := testEngine(newFakeProvider())
	st := ir.NewState()
	st.Put(&ir.ResourceState{
		Type: "aws:S3.Bucket", Name: "state", Provider: "test", RemoteID: "state-1",
		Inputs:  map[string]any{"bucket": "state"},
		Tainted: true,
	})

	res := testResource("aws:S3.Bucket", "state", map[string]any{"bucket": "state"})
	res.Lifecycle = &ir.Lifecycle{PreventDestroy: true}

	_, err := eng.CreatePlan(context.Background(), testConfig(res), st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "preventDestroy")
}

func TestPlanPreventDestroyBlocksRemoval(t *testing.T) {
	eng := testEngine(newFakeProvider())
	st := ir.NewState()
	st.Put(&ir.ResourceState{
		Type: "aws:S3.Bucket", Name: "state", Provider: "test", RemoteID: "state-1",
		Inputs:         map[string]any{"bucket": "state"},
		PreventDestroy: true,
	})

	_, err := eng.CreatePlan(context.Background(), testConfig(), st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "preventDestroy")
}

func TestPlanIgnoreChanges(t *testing.T) {
	eng := testEngine(newFakeProvider())
	st := ir.NewState()
	st.Put(&ir.ResourceState{
		Type: "aws:S3.Bucket", Name: "state", Provider: "test", RemoteID: "state-1",
		Inputs: map[string]any{"bucket": "state", "versioning": false},
	})

	res := testResource("aws:S3.Bucket", "state", map[string]any{
		"bucket":     "state",
		"versioning": true,
	})
	res.Lifecycle = &ir.Lifecycle{IgnoreChanges: []string{"versioning"}}

	plan, err := eng.CreatePlan(context.Background(), testConfig(res), st)
	require.NoError(t, err)
	assert.True(t, plan.Empty())
	assert.Equal(t, 1, plan.Summary.NoOp)
}
