package scheduler

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"syscall"

	"github.com/Intuity/Gator/common/specs"
)

/**
LocalScheduler forks the running gator executable on the same machine. The
child re-enters the codebase in wrapper or tier mode, discovers its parent
through GATOR_PARENT and fetches its spec over the websocket.
*/
type LocalScheduler struct {
	executable string
	quiet      bool
}

func NewLocalScheduler() (*LocalScheduler, error) {
	executable, execErr := os.Executable()
	if execErr != nil {
		return nil, fmt.Errorf("could not resolve own executable: %s", execErr)
	}
	return &LocalScheduler{executable: executable, quiet: true}, nil
}

func (s *LocalScheduler) Launch(launch Launch) (Handle, error) {
	cmd := exec.Command(s.executable,
		"-ident", launch.Ident,
		"-parent", launch.ParentUrl,
		"-tracking", launch.SpecRef)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=%s", specs.ENV_PARENT, launch.ParentUrl),
		fmt.Sprintf("%s=%s", specs.ENV_IDENT, launch.Ident))
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	startErr := cmd.Start()
	if startErr != nil {
		log.Printf("Could not launch child '%s': %s", launch.Ident, startErr)
		return nil, startErr
	}
	log.Printf("DEBUG: Launched child '%s' as pid %d", launch.Ident, cmd.Process.Pid)
	return &localHandle{cmd: cmd}, nil
}

type localHandle struct {
	cmd *exec.Cmd
}

func (h *localHandle) Terminate() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Signal(syscall.SIGTERM)
}

func (h *localHandle) WaitForExit() int {
	waitErr := h.cmd.Wait()
	if waitErr == nil {
		return 0
	}
	exitErr, isExitError := waitErr.(*exec.ExitError)
	if isExitError {
		return exitErr.ExitCode()
	}
	log.Printf("Could not wait on child process: %s", waitErr)
	return 255
}
