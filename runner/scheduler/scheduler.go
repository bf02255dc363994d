package scheduler

import (
	"github.com/Intuity/Gator/common/specs"
)

/**
A launch request: start a process that will dial back to the parent URL and
register itself under the given ident. SpecRef points at the tracking
directory the child should use; concrete schedulers are free to ignore it.
*/
type Launch struct {
	Ident     string
	ParentUrl string
	Request   specs.ResourceRequest
	SpecRef   string
}

/**
Handle onto a launched child process
*/
type Handle interface {
	Terminate() error
	// Block until the process exits and return its exit code
	WaitForExit() int
}

/**
Scheduler abstracts where child processes actually run: the local adapter
forks this same binary, cluster adapters would submit to an external queue.
A launched process must connect back to its parent within the connect-back
grace period or the tier marks it failed-to-start.
*/
type Scheduler interface {
	Launch(launch Launch) (Handle, error)
}
