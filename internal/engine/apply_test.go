package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/provider"
)

func TestApplyCreatesInDependencyOrder(t *testing.T) {
	fake := newFakeProvider()
	eng := testEngine(fake)
	st := ir.NewState()
	sink := &recordingSink{}
	ctx := context.Background()

	plan, err := eng.CreatePlan(ctx, bootstrapConfig(), st)
	require.NoError(t, err)

	result, err := eng.ApplyPlan(ctx, plan, st, sink)
	require.NoError(t, err)
	assert.Equal(t, RunSucceeded, result.Status)
	require.Len(t, result.Nodes, 3)
	for addr, node := range result.Nodes {
		assert.Equal(t, StatusApplied, node.Status, addr)
	}

	// The policy waits for both of its dependencies.
	bucket := fake.opIndex("create:aws:S3.Bucket.state")
	table := fake.opIndex("create:aws:DynamoDB.Table.locks")
	policy := fake.opIndex("create:aws:IAM.Policy.state")
	require.GreaterOrEqual(t, bucket, 0)
	require.GreaterOrEqual(t, table, 0)
	assert.Greater(t, policy, bucket)
	assert.Greater(t, policy, table)

	// References were resolved against real outputs before the create.
	entry := st.Find("aws:IAM.Policy.state")
	require.NotNil(t, entry)
	doc := entry.Inputs["document"].(map[string]any)
	assert.Equal(t, []any{"arn:fake:state", "arn:fake:locks"},
		doc["resources"])

	// Dependencies are recorded for later delete ordering.
	assert.ElementsMatch(t,
		[]string{"aws:S3.Bucket.state", "aws:DynamoDB.Table.locks"},
		entry.Dependencies)

	// One durable commit per applied node.
	assert.Equal(t, 3, sink.commits)
	assert.Equal(t, []int{1, 2, 3}, sink.snapshots)
	assert.Equal(t, 3, st.Revision)
}

func TestApplyFailureBlocksOnlyDependents(t *testing.T) {
	fake := newFakeProvider()
	fake.failCreate["broken"] = &provider.PermanentError{Err: errors.New("invalid parameter")}
	eng := testEngine(fake)
	st := ir.NewState()
	ctx := context.Background()

	cfg := testConfig(
		testResource("kv", "broken", map[string]any{"v": "1"}),
		testResource("kv", "child", map[string]any{"v": "ref://kv/broken/id"}),
		testResource("kv", "independent", map[string]any{"v": "2"}),
	)
	plan, err := eng.CreatePlan(ctx, cfg, st)
	require.NoError(t, err)

	result, err := eng.ApplyPlan(ctx, plan, st, nil)
	require.Error(t, err)
	assert.Equal(t, RunFailed, result.Status)
	assert.Equal(t, StatusFailed, result.Nodes["kv.broken"].Status)
	assert.Equal(t, StatusBlocked, result.Nodes["kv.child"].Status)
	assert.Equal(t, StatusApplied, result.Nodes["kv.independent"].Status)

	// State contains exactly what completed.
	assert.Nil(t, st.Find("kv.broken"))
	assert.Nil(t, st.Find("kv.child"))
	assert.NotNil(t, st.Find("kv.independent"))
}

func TestApplyRetriesTransientFailures(t *testing.T) {
	fake := newFakeProvider()
	fake.transient["flaky"] = 2
	eng := testEngine(fake)
	st := ir.NewState()
	ctx := context.Background()

	plan, err := eng.CreatePlan(ctx, testConfig(
		testResource("kv", "flaky", map[string]any{"v": "1"}),
	), st)
	require.NoError(t, err)

	result, err := eng.ApplyPlan(ctx, plan, st, nil)
	require.NoError(t, err)
	assert.Equal(t, RunSucceeded, result.Status)
	assert.Equal(t, 3, fake.attempts["flaky"])
	assert.NotNil(t, st.Find("kv.flaky"))
}

func TestApplyDoesNotRetryPermanentFailures(t *testing.T) {
	fake := newFakeProvider()
	fake.failCreate["broken"] = &provider.PermanentError{Err: errors.New("bad request")}
	eng := testEngine(fake)
	st := ir.NewState()
	ctx := context.Background()

	plan, err := eng.CreatePlan(ctx, testConfig(
		testResource("kv", "broken", map[string]any{"v": "1"}),
	), st)
	require.NoError(t, err)

	_, err = eng.ApplyPlan(ctx, plan, st, nil)
	require.Error(t, err)
	assert.Equal(t, 1, fake.attempts["broken"])
}

func TestApplyCancelledBeforeDispatch(t *testing.T) {
	fake := newFakeProvider()
	eng := testEngine(fake)
	st := ir.NewState()

	plan, err := eng.CreatePlan(context.Background(), bootstrapConfig(), st)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := eng.ApplyPlan(ctx, plan, st, nil)
	require.NoError(t, err) // no node failed, nothing to report
	assert.Equal(t, RunCancelled, result.Status)
	for addr, node := range result.Nodes {
		assert.Equal(t, StatusCancelled, node.Status, addr)
	}
	assert.Empty(t, fake.ops)
	assert.Empty(t, st.Resources)
}

func TestApplyCancelledMidFlightFinishesInFlightOperation(t *testing.T) {
	fake := newFakeProvider()
	gate := newCreateGate()
	fake.gates["slow"] = gate
	eng := testEngine(fake)
	st := ir.NewState()
	sink := &recordingSink{}

	plan, err := eng.CreatePlan(context.Background(), testConfig(
		testResource("kv", "slow", map[string]any{"v": "1"}),
		testResource("kv", "follower", map[string]any{"v": "ref://kv/slow/id"}),
	), st)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var result *RunResult
	var runErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		result, runErr = eng.ApplyPlan(ctx, plan, st, sink)
	}()

	// Cancel while the create is in flight, then let it finish.
	<-gate.started
	cancel()
	close(gate.release)
	<-done

	require.NoError(t, runErr)
	assert.Equal(t, RunCancelled, result.Status)
	assert.Equal(t, StatusApplied, result.Nodes["kv.slow"].Status)
	assert.Equal(t, StatusCancelled, result.Nodes["kv.follower"].Status)

	// The in-flight create ran to completion and was committed; only the
	// undispatched dependent was dropped.
	assert.Equal(t, []string{"create:kv.slow"}, fake.ops)
	require.NotNil(t, st.Find("kv.slow"))
	assert.Nil(t, st.Find("kv.follower"))
	assert.Equal(t, 1, sink.commits)
}

func TestApplyRejectsStaleState(t *testing.T) {
	eng := testEngine(newFakeProvider())
	st := ir.NewState()
	ctx := context.Background()

	plan, err := eng.CreatePlan(ctx, bootstrapConfig(), st)
	require.NoError(t, err)

	// Another run committed in between.
	st.Revision = 4

	_, err = eng.ApplyPlan(ctx, plan, st, nil)
	require.Error(t, err)

	var stale *StaleStateError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, 0, stale.PlannedRevision)
	assert.Equal(t, 4, stale.CurrentRevision)
}

func TestApplyDeletesInReverseDependencyOrder(t *testing.T) {
	fake := newFakeProvider()
	eng := testEngine(fake)
	ctx := context.Background()

	st := ir.NewState()
	st.Put(&ir.ResourceState{
		Type: "kv", Name: "base", Provider: "test", RemoteID: "base-1",
		Inputs: map[string]any{"v": "1"},
	})
	st.Put(&ir.ResourceState{
		Type: "kv", Name: "dependent", Provider: "test", RemoteID: "dependent-2",
		Inputs:       map[string]any{"v": "2"},
		Dependencies: []string{"kv.base"},
	})

	plan, err := eng.CreatePlan(ctx, testConfig(), st)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 2)

	result, err := eng.ApplyPlan(ctx, plan, st, nil)
	require.NoError(t, err)
	assert.Equal(t, RunSucceeded, result.Status)

	// The dependent goes first; its dependency waits.
	assert.Less(t, fake.opIndex("delete:dependent-2"), fake.opIndex("delete:base-1"))
	assert.Empty(t, st.Resources)
}

func TestApplyReplaceYieldsNewRemoteID(t *testing.T) {
	fake := newFakeProvider()
	eng := testEngine(fake)
	ctx := context.Background()

	st := ir.NewState()
	st.Put(&ir.ResourceState{
		Type: "kv", Name: "a", Provider: "test", RemoteID: "a-old",
		Inputs:  map[string]any{"v": "1"},
		Tainted: true,
	})

	plan, err := eng.CreatePlan(ctx, testConfig(
		testResource("kv", "a", map[string]any{"v": "1"}),
	), st)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	require.Equal(t, ir.ActionReplace, plan.Changes[0].Action)

	result, err := eng.ApplyPlan(ctx, plan, st, nil)
	require.NoError(t, err)
	assert.Equal(t, RunSucceeded, result.Status)

	// Delete old, then create new.
	assert.Less(t, fake.opIndex("delete:a-old"), fake.opIndex("create:kv.a"))

	entry := st.Find("kv.a")
	require.NotNil(t, entry)
	assert.NotEqual(t, "a-old", entry.RemoteID)
	assert.False(t, entry.Tainted)
}

func TestApplyReplaceCreateBeforeDestroy(t *testing.T) {
	fake := newFakeProvider()
	eng := testEngine(fake)
	ctx := context.Background()

	st := ir.NewState()
	st.Put(&ir.ResourceState{
		Type: "kv", Name: "a", Provider: "test", RemoteID: "a-old",
		Inputs:  map[string]any{"v": "1"},
		Tainted: true,
	})

	res := testResource("kv", "a", map[string]any{"v": "1"})
	res.Lifecycle = &ir.Lifecycle{CreateBeforeDestroy: true}

	plan, err := eng.CreatePlan(ctx, testConfig(res), st)
	require.NoError(t, err)

	_, err = eng.ApplyPlan(ctx, plan, st, nil)
	require.NoError(t, err)
	assert.Less(t, fake.opIndex("create:kv.a"), fake.opIndex("delete:a-old"))
}

func TestApplyDeferredUpdateResolvesToNoOp(t *testing.T) {
	fake := newFakeProvider()
	eng := testEngine(fake)
	ctx := context.Background()

	// Bucket gets an update; the policy references its arn, which the
	// update does not change. The policy's provisional update becomes a
	// no-op once the real output is known.
	st := ir.NewState()
	st.Put(&ir.ResourceState{
		Type: "kv", Name: "bucket", Provider: "test", RemoteID: "bucket-1",
		Inputs:  map[string]any{"v": "1"},
		Outputs: map[string]any{"arn": "arn:fake:bucket"},
	})
	st.Put(&ir.ResourceState{
		Type: "kv", Name: "policy", Provider: "test", RemoteID: "policy-2",
		Inputs:       map[string]any{"target": "arn:fake:bucket"},
		Outputs:      map[string]any{"arn": "arn:fake:policy"},
		Dependencies: []string{"kv.bucket"},
	})

	cfg := testConfig(
		testResource("kv", "bucket", map[string]any{"v": "2"}),
		testResource("kv", "policy", map[string]any{"target": "ref://kv/bucket/arn"}),
	)
	plan, err := eng.CreatePlan(ctx, cfg, st)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 2, "policy is provisionally an update")

	result, err := eng.ApplyPlan(ctx, plan, st, nil)
	require.NoError(t, err)
	assert.Equal(t, RunSucceeded, result.Status)

	// Only the bucket was touched.
	assert.Equal(t, 1, len(fake.ops))
	assert.Equal(t, "update:bucket-1", fake.ops[0])
}

func TestApplyCommitFailureStopsDependents(t *testing.T) {
	fake := newFakeProvider()
	eng := testEngine(fake)
	ctx := context.Background()
	st := ir.NewState()

	cfg := testConfig(
		testResource("kv", "a", map[string]any{"v": "1"}),
		testResource("kv", "b", map[string]any{"v": "ref://kv/a/id"}),
	)
	plan, err := eng.CreatePlan(ctx, cfg, st)
	require.NoError(t, err)

	sink := &recordingSink{failAfter: 1}
	result, err := eng.ApplyPlan(ctx, plan, st, sink)
	require.Error(t, err)
	assert.Equal(t, RunFailed, result.Status)

	// a committed durably; b's commit failed so it reports failed and
	// nothing downstream would have seen it.
	assert.Equal(t, 1, sink.commits)
	assert.Equal(t, []int{1}, sink.snapshots)
	assert.Equal(t, StatusApplied, result.Nodes["kv.a"].Status)
	assert.Equal(t, StatusFailed, result.Nodes["kv.b"].Status)
}

func TestApplyVerifyTaintsOnImmediateDrift(t *testing.T) {
	fake := newFakeProvider()
	eng := testEngine(fake)
	eng.VerifyAfterApply = true
	ctx := context.Background()
	st := ir.NewState()

	// The remote will report a different value than declared.
	fake.reads["drifty-1"] = map[string]any{"v": "other"}

	plan, err := eng.CreatePlan(ctx, testConfig(
		testResource("kv", "drifty", map[string]any{"v": "1"}),
	), st)
	require.NoError(t, err)

	_, err = eng.ApplyPlan(ctx, plan, st, nil)
	require.NoError(t, err)

	entry := st.Find("kv.drifty")
	require.NotNil(t, entry)
	assert.True(t, entry.Tainted)
}
