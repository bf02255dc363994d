package tier

import (
	"testing"

	"github.com/Intuity/Gator/common/models"
	"github.com/Intuity/Gator/common/specs"
)

func testChild(ident string, state models.JobState, result models.JobResult,
	onDone []string, onPass []string, onFail []string) *Child {
	return &Child{
		Ident:  ident,
		Spec:   &specs.Job{Ident: ident, Command: "echo", OnDone: onDone, OnPass: onPass, OnFail: onFail},
		State:  state,
		Result: result,
	}
}

func table(children ...*Child) map[string]*Child {
	result := make(map[string]*Child)
	for _, child := range children {
		result[child.Ident] = child
	}
	return result
}

func TestResolveLaunchesIndependentChildren(t *testing.T) {
	resolution := Resolve(table(
		testChild("A", models.JOB_PENDING, models.RESULT_UNKNOWN, nil, nil, nil),
		testChild("B", models.JOB_PENDING, models.RESULT_UNKNOWN, nil, nil, nil),
	))

	if len(resolution.LaunchNow) != 2 {
		t.Fatalf("expected both children eligible, got %v", resolution.LaunchNow)
	}
	// Ident order breaks ties deterministically
	if resolution.LaunchNow[0] != "A" || resolution.LaunchNow[1] != "B" {
		t.Errorf("expected ident-ordered launches, got %v", resolution.LaunchNow)
	}
}

func TestResolveWaitsForIncompleteDependency(t *testing.T) {
	resolution := Resolve(table(
		testChild("A", models.JOB_STARTED, models.RESULT_UNKNOWN, nil, nil, nil),
		testChild("B", models.JOB_PENDING, models.RESULT_UNKNOWN, nil, []string{"A"}, nil),
	))

	if len(resolution.StillWaiting) != 1 || resolution.StillWaiting[0] != "B" {
		t.Errorf("expected B to keep waiting, got %+v", resolution)
	}
}

func TestResolveOnPassSatisfiedBySuccess(t *testing.T) {
	resolution := Resolve(table(
		testChild("A", models.JOB_COMPLETE, models.RESULT_SUCCESS, nil, nil, nil),
		testChild("B", models.JOB_PENDING, models.RESULT_UNKNOWN, nil, []string{"A"}, nil),
	))

	if len(resolution.LaunchNow) != 1 || resolution.LaunchNow[0] != "B" {
		t.Errorf("expected B to launch, got %+v", resolution)
	}
}

func TestResolveOnPassViolatedByFailure(t *testing.T) {
	resolution := Resolve(table(
		testChild("A", models.JOB_COMPLETE, models.RESULT_FAILURE, nil, nil, nil),
		testChild("B", models.JOB_PENDING, models.RESULT_UNKNOWN, nil, []string{"A"}, nil),
	))

	if len(resolution.Abort) != 1 || resolution.Abort[0] != "B" {
		t.Errorf("expected B to abort, got %+v", resolution)
	}
}

func TestResolveOnPassViolatedByAborted(t *testing.T) {
	resolution := Resolve(table(
		testChild("A", models.JOB_COMPLETE, models.RESULT_ABORTED, nil, nil, nil),
		testChild("B", models.JOB_PENDING, models.RESULT_UNKNOWN, nil, []string{"A"}, nil),
	))

	if len(resolution.Abort) != 1 || resolution.Abort[0] != "B" {
		t.Errorf("expected B to abort, got %+v", resolution)
	}
}

func TestResolveOnFailSatisfiedByFailure(t *testing.T) {
	resolution := Resolve(table(
		testChild("A", models.JOB_COMPLETE, models.RESULT_FAILURE, nil, nil, nil),
		testChild("B", models.JOB_PENDING, models.RESULT_UNKNOWN, nil, nil, []string{"A"}),
	))

	if len(resolution.LaunchNow) != 1 || resolution.LaunchNow[0] != "B" {
		t.Errorf("expected B to launch, got %+v", resolution)
	}
}

func TestResolveOnFailViolatedBySuccess(t *testing.T) {
	resolution := Resolve(table(
		testChild("A", models.JOB_COMPLETE, models.RESULT_SUCCESS, nil, nil, nil),
		testChild("B", models.JOB_PENDING, models.RESULT_UNKNOWN, nil, nil, []string{"A"}),
	))

	if len(resolution.Abort) != 1 || resolution.Abort[0] != "B" {
		t.Errorf("expected B to abort, got %+v", resolution)
	}
}

func TestResolveOnDoneSatisfiedByAnyTerminal(t *testing.T) {
	for _, result := range []models.JobResult{
		models.RESULT_SUCCESS, models.RESULT_FAILURE, models.RESULT_ABORTED,
	} {
		resolution := Resolve(table(
			testChild("A", models.JOB_COMPLETE, result, nil, nil, nil),
			testChild("B", models.JOB_PENDING, models.RESULT_UNKNOWN, []string{"A"}, nil, nil),
		))
		if len(resolution.LaunchNow) != 1 || resolution.LaunchNow[0] != "B" {
			t.Errorf("expected B to launch after A ended %s, got %+v", result, resolution)
		}
	}
}

func TestResolveMixedDependencies(t *testing.T) {
	// C needs A to pass and B to fail; A passed but B is still running
	resolution := Resolve(table(
		testChild("A", models.JOB_COMPLETE, models.RESULT_SUCCESS, nil, nil, nil),
		testChild("B", models.JOB_STARTED, models.RESULT_UNKNOWN, nil, nil, nil),
		testChild("C", models.JOB_PENDING, models.RESULT_UNKNOWN, nil, []string{"A"}, []string{"B"}),
	))

	if len(resolution.StillWaiting) != 1 || resolution.StillWaiting[0] != "C" {
		t.Errorf("expected C to keep waiting, got %+v", resolution)
	}
}

func TestResolveIgnoresNonPendingChildren(t *testing.T) {
	resolution := Resolve(table(
		testChild("A", models.JOB_LAUNCHED, models.RESULT_UNKNOWN, nil, nil, nil),
		testChild("B", models.JOB_COMPLETE, models.RESULT_SUCCESS, nil, nil, nil),
	))

	if len(resolution.LaunchNow)+len(resolution.StillWaiting)+len(resolution.Abort) != 0 {
		t.Errorf("expected an empty partition, got %+v", resolution)
	}
}
