package tier

import (
	"time"

	"github.com/Intuity/Gator/common/models"
	"github.com/Intuity/Gator/common/protocol"
	"github.com/Intuity/Gator/common/specs"
	"github.com/Intuity/Gator/runner/scheduler"
)

/**
Child tracks everything a tier knows about one direct child: the expanded
spec, the lifecycle state machine, the last metric snapshot the child
reported and the back-reference used for downward messaging. The record is
owned exclusively by the tier; protocol messages are the only way it mutates.
*/
type Child struct {
	Ident     string
	Spec      specs.Spec
	State     models.JobState
	Result    models.JobResult
	ServerUrl string
	ExitCode  int
	Metrics   map[string]int64
	Started   int64
	Updated   int64
	Completed int64

	conn       *protocol.Conn
	handle     scheduler.Handle
	launchedAt time.Time
	reported   bool
}

func newChild(expansion specs.Expansion) *Child {
	return &Child{
		Ident:   expansion.Ident,
		Spec:    expansion.Spec,
		State:   models.JOB_PENDING,
		Result:  models.RESULT_UNKNOWN,
		Metrics: make(map[string]int64),
	}
}

/**
number of leaf jobs this child accounts for in the tier's totals
*/
func (c *Child) expectedLeaves() int {
	return c.Spec.ExpectedLeaves()
}

func (c *Child) terminal() bool {
	return c.State == models.JOB_COMPLETE
}

func (c *Child) active() bool {
	return c.State == models.JOB_LAUNCHED || c.State == models.JOB_STARTED
}

func (c *Child) summary() protocol.ChildSummary {
	metrics := make(map[string]int64, len(c.Metrics))
	for name, value := range c.Metrics {
		metrics[name] = value
	}
	return protocol.ChildSummary{
		State:     c.State.String(),
		Result:    c.Result.String(),
		Server:    c.ServerUrl,
		Metrics:   metrics,
		ExitCode:  c.ExitCode,
		Started:   c.Started,
		Updated:   c.Updated,
		Completed: c.Completed,
	}
}
