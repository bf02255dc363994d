package tier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/Intuity/Gator/common/hubapi"
	"github.com/Intuity/Gator/common/logging"
	"github.com/Intuity/Gator/common/logstore"
	"github.com/Intuity/Gator/common/models"
	"github.com/Intuity/Gator/common/protocol"
	"github.com/Intuity/Gator/common/specs"
	"github.com/Intuity/Gator/runner/scheduler"
)

type Options struct {
	Ident          string
	Spec           specs.Spec
	ParentAddr     string
	Client         *protocol.Client
	HubUrl         string
	Tracking       string
	Logger         *logging.Logger
	Scheduler      scheduler.Scheduler
	UpdateInterval time.Duration
	ConnectGrace   time.Duration
	StopGrace      time.Duration
	RequestTimeout time.Duration
}

/**
Tier supervises the children of one JobGroup or JobArray: it expands the
spec, launches children as their dependencies allow, aggregates their metric
reports and mirrors the same websocket protocol towards its own parent.
*/
type Tier struct {
	opts   Options
	store  *logstore.Store
	server *protocol.Server
	client *protocol.Client
	logger *logging.Logger

	hubUid string

	lock     sync.Mutex
	children map[string]*Child
	stopping bool
	changed  chan struct{}
}

func New(opts Options) *Tier {
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 10 * time.Second
	}
	if opts.ConnectGrace == 0 {
		opts.ConnectGrace = 60 * time.Second
	}
	if opts.StopGrace == 0 {
		opts.StopGrace = 30 * time.Second
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 5 * time.Second
	}
	return &Tier{
		opts:     opts,
		logger:   opts.Logger,
		children: make(map[string]*Child),
		changed:  make(chan struct{}, 1),
	}
}

/**
run the full tier lifecycle and return the overall result plus process exit
code. blocks until every child reaches a terminal state.
*/
func (t *Tier) Run(ctx context.Context) (models.JobResult, int) {
	// INIT: local store and server
	store, storeErr := logstore.Open(filepath.Join(t.opts.Tracking, "db.sqlite"))
	if storeErr != nil {
		log.Printf("ERROR: Could not open log store: %s", storeErr)
		return models.RESULT_FAILURE, models.EXIT_FAILURE
	}
	t.store = store
	defer t.store.Close()
	t.logger.SetStore(store)

	router := protocol.NewRouter()
	router.Add("log", t.handleLog)
	router.Add("stop", t.handleStop)
	router.Add("spec", t.handleSpec)
	router.Add("register", t.handleRegister)
	router.Add("update", t.handleUpdate)
	router.Add("complete", t.handleComplete)
	router.Add("children", t.handleChildren)
	router.Add("get_tree", t.handleGetTree)
	router.Add("get_messages", t.handleGetMessages)

	t.server = protocol.NewServer(router)
	serverAddr, serverErr := t.server.Start()
	if serverErr != nil {
		return models.RESULT_FAILURE, models.EXIT_FAILURE
	}
	defer t.server.Stop()

	// CONNECT: register with the parent unless this is the root
	if t.opts.Client != nil || t.opts.ParentAddr != "" {
		if t.opts.Client != nil {
			t.client = t.opts.Client
		} else {
			t.client = protocol.NewClient(t.opts.ParentAddr, protocol.NewRouter())
			connectErr := t.client.ConnectWithRetry(500*time.Millisecond, 5*time.Second, 12)
			if connectErr != nil {
				log.Printf("ERROR: %s", connectErr)
				return models.RESULT_FAILURE, models.EXIT_NO_PARENT
			}
		}
		defer t.client.Close()

		downward := t.client.Router()
		downward.Add("stop", t.handleStop)
		downward.Add("get_tree", t.handleGetTree)
		downward.Add("get_messages", t.handleGetMessages)

		t.logger.SetForward(func(timestamp int64, severity logging.Severity, message string) {
			postErr := t.client.Conn().Post("log", protocol.LogPayload{
				Timestamp: timestamp,
				Severity:  severity.String(),
				Message:   message,
			})
			if postErr != nil {
				log.Printf("WARNING: Could not forward log entry: %s", postErr)
			}
		})

		registerErr := t.request("register", protocol.RegisterPayload{
			Ident:  t.opts.Ident,
			Server: serverAddr,
		}, nil)
		if registerErr != nil {
			log.Printf("ERROR: Could not register with parent: %s", registerErr)
			return models.RESULT_FAILURE, models.EXIT_NO_PARENT
		}
	} else if t.opts.HubUrl != "" {
		// The root of a standalone run may register with a hub for archival
		hubUid, hubErr := hubapi.Register(t.opts.HubUrl, hubapi.Registration{
			Ident: t.opts.Ident,
			Url:   serverAddr,
			Layer: "tier",
			Owner: hubapi.Username(),
		})
		if hubErr != nil {
			t.logger.Warning("Could not register with hub: %s", hubErr)
		} else {
			t.hubUid = hubUid
			t.logger.Info("Registered with hub as %s", hubUid)
		}
	}

	// EXPAND: interpret the spec into the child table
	checkErr := t.opts.Spec.Check()
	if checkErr != nil {
		t.logger.Critical("Specification rejected: %s", checkErr)
		t.completeUpward(models.RESULT_FAILURE, models.EXIT_SPEC_ERROR)
		return models.RESULT_FAILURE, models.EXIT_SPEC_ERROR
	}
	expansions, expandErr := specs.ExpandChildren(t.opts.Spec)
	if expandErr != nil {
		t.logger.Critical("Specification rejected: %s", expandErr)
		t.completeUpward(models.RESULT_FAILURE, models.EXIT_SPEC_ERROR)
		return models.RESULT_FAILURE, models.EXIT_SPEC_ERROR
	}
	for _, expansion := range expansions {
		t.children[expansion.Ident] = newChild(expansion)
	}
	t.store.SetAttribute("ident", t.opts.Ident)
	t.store.SetAttribute("started", strconv.FormatInt(time.Now().Unix(), 10))
	t.logger.Info("Tier '%s' supervising %d children", t.opts.Ident, len(t.children))

	// LAUNCH: children with no dependencies are eligible immediately
	t.lock.Lock()
	t.actOnResolutionLocked(Resolve(t.children))
	t.lock.Unlock()

	// SUPERVISE
	t.supervise(ctx)

	// REPORT / EXIT
	result := t.overallResult()
	code := models.EXIT_SUCCESS
	if result != models.RESULT_SUCCESS {
		code = models.EXIT_FAILURE
	}
	t.store.SetAttribute("stopped", strconv.FormatInt(time.Now().Unix(), 10))
	t.logSummary()
	t.completeUpward(result, code)
	if t.hubUid != "" {
		hubErr := hubapi.Complete(t.opts.HubUrl, t.hubUid, t.store.Path())
		if hubErr != nil {
			t.logger.Warning("Could not report completion to hub: %s", hubErr)
		}
	}
	return result, code
}

func (t *Tier) supervise(ctx context.Context) {
	update := time.NewTicker(t.opts.UpdateInterval)
	defer update.Stop()
	grace := time.NewTicker(time.Second)
	defer grace.Stop()

	for {
		if t.allTerminal() {
			return
		}
		select {
		case <-t.changed:
		case <-update.C:
			t.sendUpdate()
		case <-grace.C:
			t.checkConnectGrace()
		case <-ctx.Done():
			t.beginStop()
			// Keep draining completions until every child terminates
			select {
			case <-t.changed:
			case <-grace.C:
			}
		}
	}
}

func (t *Tier) wake() {
	select {
	case t.changed <- struct{}{}:
	default:
	}
}

func (t *Tier) allTerminal() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	for _, child := range t.children {
		if !child.terminal() {
			return false
		}
	}
	return true
}

func (t *Tier) overallResult() models.JobResult {
	t.lock.Lock()
	defer t.lock.Unlock()
	for _, child := range t.children {
		if child.Result != models.RESULT_SUCCESS {
			return models.RESULT_FAILURE
		}
	}
	return models.RESULT_SUCCESS
}

func (t *Tier) request(action string, payload interface{}, response interface{}) error {
	if t.client == nil || !t.client.Linked() {
		return errors.New("no parent connection")
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.opts.RequestTimeout)
	defer cancel()
	return t.client.Conn().Request(ctx, action, payload, response)
}

/**
launch the eligible set and abort the doomed set from a resolver pass.
called with the table lock held; the actual fork happens with the state
already moved to LAUNCHED so a racing pass cannot launch twice.
*/
func (t *Tier) actOnResolutionLocked(resolution Resolution) {
	for _, ident := range resolution.Abort {
		t.abortChildLocked(t.children[ident], "unmet dependencies")
	}
	if t.stopping {
		for _, ident := range resolution.LaunchNow {
			t.abortChildLocked(t.children[ident], "tier is stopping")
		}
		return
	}
	for _, ident := range resolution.LaunchNow {
		child := t.children[ident]
		child.State = models.JOB_LAUNCHED
		child.launchedAt = time.Now()
		go t.launchChild(child)
	}
}

func (t *Tier) launchChild(child *Child) {
	var request specs.ResourceRequest
	job, isJob := child.Spec.(*specs.Job)
	if isJob {
		request = specs.Normalize(job.Resources)
	}
	handle, launchErr := t.opts.Scheduler.Launch(scheduler.Launch{
		Ident:     child.Ident,
		ParentUrl: t.server.Address(),
		Request:   request,
		SpecRef:   filepath.Join(t.opts.Tracking, child.Ident),
	})

	t.lock.Lock()
	if launchErr != nil {
		t.logger.Error("Could not launch child '%s': %s", child.Ident, launchErr)
		t.abortChildLocked(child, "scheduler launch failed")
		t.actOnResolutionLocked(Resolve(t.children))
		t.lock.Unlock()
		t.wake()
		return
	}
	child.handle = handle
	t.lock.Unlock()

	// Reap the process so a child that dies without reporting is noticed
	code := handle.WaitForExit()
	t.lock.Lock()
	if !child.terminal() {
		t.logger.Error("Child '%s' exited with code %d before completing", child.Ident, code)
		child.State = models.JOB_COMPLETE
		child.Result = models.RESULT_ABORTED
		child.ExitCode = code
		child.Completed = time.Now().Unix()
		t.actOnResolutionLocked(Resolve(t.children))
	}
	t.lock.Unlock()
	t.wake()
}

func (t *Tier) abortChildLocked(child *Child, reason string) {
	t.logger.Warning("Discarding child '%s': %s", child.Ident, reason)
	child.State = models.JOB_COMPLETE
	child.Result = models.RESULT_ABORTED
	child.ExitCode = 255
	child.Completed = time.Now().Unix()
}

/**
children handed to the scheduler must phone home within the grace period or
be treated as failed to start
*/
func (t *Tier) checkConnectGrace() {
	t.lock.Lock()
	expired := false
	for _, child := range t.children {
		if child.State != models.JOB_LAUNCHED {
			continue
		}
		if time.Since(child.launchedAt) < t.opts.ConnectGrace {
			continue
		}
		t.logger.Error("Child '%s' did not connect back within %s", child.Ident, t.opts.ConnectGrace)
		if child.handle != nil {
			child.handle.Terminate()
		}
		t.abortChildLocked(child, "connect-back grace expired")
		expired = true
	}
	if expired {
		t.actOnResolutionLocked(Resolve(t.children))
	}
	t.lock.Unlock()
	if expired {
		t.wake()
	}
}

/**
handle 'stop': no further launches, abort everything pending, forward the
stop to every running child and arm the forced-termination deadline
*/
func (t *Tier) beginStop() {
	t.lock.Lock()
	if t.stopping {
		t.lock.Unlock()
		return
	}
	t.stopping = true
	t.logger.Warning("Stopping all jobs")

	var conns []*protocol.Conn
	var handles []scheduler.Handle
	for _, child := range t.children {
		switch child.State {
		case models.JOB_PENDING:
			t.abortChildLocked(child, "tier is stopping")
		case models.JOB_STARTED:
			if child.conn != nil {
				conns = append(conns, child.conn)
			}
		case models.JOB_LAUNCHED:
			if child.handle != nil {
				handles = append(handles, child.handle)
			}
		}
	}
	t.lock.Unlock()
	t.wake()

	for _, conn := range conns {
		postErr := conn.Post("stop", map[string]string{})
		if postErr != nil {
			log.Printf("WARNING: Could not forward stop: %s", postErr)
		}
	}
	// A launched child that never registered has no connection to signal
	for _, handle := range handles {
		handle.Terminate()
	}

	time.AfterFunc(t.opts.StopGrace, func() {
		t.lock.Lock()
		for _, child := range t.children {
			if !child.terminal() && child.handle != nil {
				t.logger.Warning("Child '%s' ignored stop, terminating", child.Ident)
				child.handle.Terminate()
			}
		}
		t.lock.Unlock()
	})
}

// ============================================================================
// Aggregation
// ============================================================================

/**
fold every child's last metric snapshot into the tier's own counters. the
sub_* counters are computed here and are authoritative; children that were
aborted before reporting contribute their expected leaf count as failures.
*/
func (t *Tier) aggregateLocked() map[string]int64 {
	metrics := make(map[string]int64)
	for name, value := range t.logger.Counters() {
		metrics[name] = value
	}

	var subTotal, subPassed, subFailed, subActive int64
	for _, child := range t.children {
		leaves := int64(child.expectedLeaves())
		reportedTotal := child.Metrics["sub_total"]
		if reportedTotal > leaves {
			subTotal += reportedTotal
		} else {
			subTotal += leaves
		}
		subPassed += child.Metrics["sub_passed"]
		if child.Result == models.RESULT_ABORTED && !child.reported {
			subFailed += leaves
		} else {
			subFailed += child.Metrics["sub_failed"]
		}
		if child.active() {
			subActive += 1
		}
		for name, value := range child.Metrics {
			switch name {
			case "sub_total", "sub_active", "sub_passed", "sub_failed":
			default:
				metrics[name] += value
			}
		}
	}
	metrics["sub_total"] = subTotal
	metrics["sub_active"] = subActive
	metrics["sub_passed"] = subPassed
	metrics["sub_failed"] = subFailed
	return metrics
}

func (t *Tier) snapshotMetrics() map[string]int64 {
	t.lock.Lock()
	defer t.lock.Unlock()
	metrics := t.aggregateLocked()
	for name, value := range metrics {
		t.store.SetMetric(name, value, time.Now().Unix())
	}
	return metrics
}

func (t *Tier) sendUpdate() {
	metrics := t.snapshotMetrics()
	if t.client == nil || !t.client.Linked() {
		return
	}
	updateErr := t.request("update", protocol.UpdatePayload{
		Ident:   t.opts.Ident,
		Metrics: metrics,
	}, nil)
	if updateErr != nil {
		log.Printf("WARNING: Could not send update to parent: %s", updateErr)
	}
}

func (t *Tier) completeUpward(result models.JobResult, code int) {
	if t.client == nil || !t.client.Linked() {
		return
	}
	completeErr := t.request("complete", protocol.CompletePayload{
		Ident:   t.opts.Ident,
		Result:  result.String(),
		Code:    code,
		Metrics: t.snapshotMetrics(),
		DbFile:  t.store.Path(),
	}, nil)
	if completeErr != nil {
		log.Printf("WARNING: Could not report completion to parent: %s", completeErr)
	}
}

func (t *Tier) logSummary() {
	counters := t.logger.Counters()
	t.logger.Info("Recorded %d debug, %d info, %d warning, %d error and %d critical messages",
		counters["msg_debug"], counters["msg_info"], counters["msg_warning"],
		counters["msg_error"], counters["msg_critical"])
}

// ============================================================================
// Protocol handlers
// ============================================================================

func (t *Tier) handleLog(conn *protocol.Conn, payload json.RawMessage) (interface{}, error) {
	var entry protocol.LogPayload
	decodeErr := json.Unmarshal(payload, &entry)
	if decodeErr != nil {
		return nil, decodeErr
	}
	timestamp := entry.Timestamp
	if timestamp == 0 {
		timestamp = time.Now().Unix()
	}
	t.logger.Capture(timestamp, logging.SeverityFromString(entry.Severity), entry.Message, true)
	return map[string]string{}, nil
}

func (t *Tier) handleStop(conn *protocol.Conn, payload json.RawMessage) (interface{}, error) {
	t.beginStop()
	return map[string]string{}, nil
}

func (t *Tier) handleSpec(conn *protocol.Conn, payload json.RawMessage) (interface{}, error) {
	var request protocol.SpecRequest
	decodeErr := json.Unmarshal(payload, &request)
	if decodeErr != nil {
		return nil, decodeErr
	}

	t.lock.Lock()
	child, found := t.children[request.Ident]
	t.lock.Unlock()
	if !found {
		t.logger.Warning("Spec requested for unknown child '%s'", request.Ident)
		return nil, fmt.Errorf("bad child ident '%s'", request.Ident)
	}

	dumped, dumpErr := specs.Dump(child.Spec)
	if dumpErr != nil {
		return nil, dumpErr
	}
	return protocol.SpecResponse{Spec: dumped}, nil
}

func (t *Tier) handleRegister(conn *protocol.Conn, payload json.RawMessage) (interface{}, error) {
	var request protocol.RegisterPayload
	decodeErr := json.Unmarshal(payload, &request)
	if decodeErr != nil {
		return nil, decodeErr
	}

	t.lock.Lock()
	defer t.lock.Unlock()
	child, found := t.children[request.Ident]
	if !found {
		t.logger.Warning("Register received for unknown child '%s'", request.Ident)
		return nil, fmt.Errorf("bad child ident '%s'", request.Ident)
	}
	if child.State != models.JOB_LAUNCHED {
		t.logger.Warning("Register received for child '%s' in state %s", request.Ident, child.State)
		return nil, fmt.Errorf("child '%s' is not awaiting registration", request.Ident)
	}
	t.logger.Debug("Child '%s' has started", request.Ident)
	child.State = models.JOB_STARTED
	child.ServerUrl = request.Server
	child.Started = time.Now().Unix()
	child.Updated = child.Started
	child.conn = conn
	return map[string]string{}, nil
}

func (t *Tier) handleUpdate(conn *protocol.Conn, payload json.RawMessage) (interface{}, error) {
	var request protocol.UpdatePayload
	decodeErr := json.Unmarshal(payload, &request)
	if decodeErr != nil {
		return nil, decodeErr
	}

	t.lock.Lock()
	defer t.lock.Unlock()
	child, found := t.children[request.Ident]
	if !found {
		t.logger.Warning("Update received for unknown child '%s'", request.Ident)
		return nil, fmt.Errorf("bad child ident '%s'", request.Ident)
	}
	switch child.State {
	case models.JOB_PENDING:
		t.logger.Warning("Update received for child '%s' before launch", request.Ident)
		return nil, fmt.Errorf("child '%s' has not been launched", request.Ident)
	case models.JOB_COMPLETE:
		t.logger.Warning("Update received for child '%s' after completion", request.Ident)
		return nil, fmt.Errorf("child '%s' already completed", request.Ident)
	}
	child.Metrics = request.Metrics
	child.reported = true
	child.Updated = time.Now().Unix()
	return map[string]string{}, nil
}

func (t *Tier) handleComplete(conn *protocol.Conn, payload json.RawMessage) (interface{}, error) {
	var request protocol.CompletePayload
	decodeErr := json.Unmarshal(payload, &request)
	if decodeErr != nil {
		return nil, decodeErr
	}

	t.lock.Lock()
	child, found := t.children[request.Ident]
	if !found {
		t.lock.Unlock()
		t.logger.Warning("Completion received for unknown child '%s'", request.Ident)
		return nil, fmt.Errorf("bad child ident '%s'", request.Ident)
	}
	switch child.State {
	case models.JOB_PENDING:
		t.lock.Unlock()
		t.logger.Warning("Completion received for child '%s' before launch", request.Ident)
		return nil, fmt.Errorf("child '%s' has not been launched", request.Ident)
	case models.JOB_COMPLETE:
		t.lock.Unlock()
		t.logger.Warning("Repeated completion received for child '%s'", request.Ident)
		return nil, fmt.Errorf("child '%s' already completed", request.Ident)
	}

	t.logger.Debug("Child '%s' completed with %s (code %d)", request.Ident, request.Result, request.Code)
	child.State = models.JOB_COMPLETE
	child.Result = models.JobResultFromString(request.Result)
	child.ExitCode = request.Code
	if request.Metrics != nil {
		child.Metrics = request.Metrics
		child.reported = true
	}
	child.Completed = time.Now().Unix()
	child.Updated = child.Completed

	// The resolver runs before any further launch so racing completions
	// cannot double-launch a dependant
	t.actOnResolutionLocked(Resolve(t.children))
	t.lock.Unlock()
	t.wake()
	return map[string]string{}, nil
}

func (t *Tier) handleChildren(conn *protocol.Conn, payload json.RawMessage) (interface{}, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	response := make(map[string]protocol.ChildSummary, len(t.children))
	for ident, child := range t.children {
		response[ident] = child.summary()
	}
	return response, nil
}

/**
assemble the recursive state snapshot by fanning get_tree out to every
registered child tier in parallel; a child that cannot answer in time is
represented by its current state string
*/
func (t *Tier) handleGetTree(conn *protocol.Conn, payload json.RawMessage) (interface{}, error) {
	type branch struct {
		ident string
		conn  *protocol.Conn
		state string
		leaf  bool
	}

	t.lock.Lock()
	branches := make([]branch, 0, len(t.children))
	for ident, child := range t.children {
		_, isJob := child.Spec.(*specs.Job)
		branches = append(branches, branch{
			ident: ident,
			conn:  child.conn,
			state: child.State.String(),
			leaf:  isJob || child.conn == nil || child.State != models.JOB_STARTED,
		})
	}
	t.lock.Unlock()

	tree := make(map[string]interface{}, len(branches))
	var treeLock sync.Mutex
	var pending sync.WaitGroup
	for _, entry := range branches {
		if entry.leaf {
			tree[entry.ident] = entry.state
			continue
		}
		pending.Add(1)
		go func(entry branch) {
			defer pending.Done()
			ctx, cancel := context.WithTimeout(context.Background(), t.opts.RequestTimeout)
			defer cancel()
			var subtree map[string]interface{}
			requestErr := entry.conn.Request(ctx, "get_tree", map[string]string{}, &subtree)
			treeLock.Lock()
			if requestErr != nil {
				tree[entry.ident] = entry.state
			} else {
				tree[entry.ident] = subtree
			}
			treeLock.Unlock()
		}(entry)
	}
	pending.Wait()
	return tree, nil
}

func (t *Tier) handleGetMessages(conn *protocol.Conn, payload json.RawMessage) (interface{}, error) {
	var request protocol.GetMessagesRequest
	decodeErr := json.Unmarshal(payload, &request)
	if decodeErr != nil {
		return nil, decodeErr
	}
	if request.Limit == 0 {
		request.Limit = 10
	}

	entries, readErr := t.store.Messages(request.After, request.Limit)
	if readErr != nil {
		return nil, readErr
	}
	total, countErr := t.store.MessageCount()
	if countErr != nil {
		return nil, countErr
	}

	messages := make([]protocol.MessageEntry, 0, len(entries))
	for _, entry := range entries {
		messages = append(messages, protocol.MessageEntry{
			Uid:       entry.Uid,
			Severity:  entry.Severity,
			Message:   entry.Message,
			Timestamp: entry.Timestamp,
		})
	}
	return protocol.GetMessagesResponse{Messages: messages, Total: total, Live: true}, nil
}
