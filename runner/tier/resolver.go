package tier

import (
	"sort"

	"github.com/Intuity/Gator/common/models"
)

/**
Partition of the PENDING children produced by a resolver pass
*/
type Resolution struct {
	LaunchNow    []string
	StillWaiting []string
	Abort        []string
}

/**
decide the fate of every PENDING child from the terminal results of its
sibling dependencies. evaluated in ident order so that the outcome is
deterministic under racing completions.

	on_done - satisfied once the sibling reaches any terminal state
	on_pass - satisfied by SUCCESS, violated by FAILURE or ABORTED
	on_fail - satisfied by FAILURE, violated by SUCCESS

A sibling that was ABORTED also satisfies on_fail: the dependant asked to run
on anything other than success, and an aborted sibling can never succeed.
Any violated dependency dooms the child; all dependencies satisfied makes it
eligible; otherwise it keeps waiting.
*/
func Resolve(children map[string]*Child) Resolution {
	idents := make([]string, 0, len(children))
	for ident := range children {
		idents = append(idents, ident)
	}
	sort.Strings(idents)

	var resolution Resolution
	for _, ident := range idents {
		child := children[ident]
		if child.State != models.JOB_PENDING {
			continue
		}

		onDone, onPass, onFail := child.Spec.Dependencies()
		violated := false
		satisfied := true

		for _, dep := range onDone {
			sibling := children[dep]
			if sibling == nil || sibling.State != models.JOB_COMPLETE {
				satisfied = false
			}
		}
		for _, dep := range onPass {
			sibling := children[dep]
			if sibling == nil || sibling.State != models.JOB_COMPLETE {
				satisfied = false
				continue
			}
			switch sibling.Result {
			case models.RESULT_SUCCESS:
			case models.RESULT_FAILURE, models.RESULT_ABORTED:
				violated = true
			default:
				satisfied = false
			}
		}
		for _, dep := range onFail {
			sibling := children[dep]
			if sibling == nil || sibling.State != models.JOB_COMPLETE {
				satisfied = false
				continue
			}
			switch sibling.Result {
			case models.RESULT_FAILURE, models.RESULT_ABORTED:
			case models.RESULT_SUCCESS:
				violated = true
			default:
				satisfied = false
			}
		}

		switch {
		case violated:
			resolution.Abort = append(resolution.Abort, ident)
		case satisfied:
			resolution.LaunchNow = append(resolution.LaunchNow, ident)
		default:
			resolution.StillWaiting = append(resolution.StillWaiting, ident)
		}
	}
	return resolution
}
