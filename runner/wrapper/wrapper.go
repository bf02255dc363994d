package wrapper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Intuity/Gator/common/hubapi"
	"github.com/Intuity/Gator/common/logging"
	"github.com/Intuity/Gator/common/logstore"
	"github.com/Intuity/Gator/common/models"
	"github.com/Intuity/Gator/common/protocol"
	"github.com/Intuity/Gator/common/specs"
)

type Options struct {
	Ident          string
	Spec           *specs.Job
	ParentAddr     string
	Client         *protocol.Client
	HubUrl         string
	Tracking       string
	Logger         *logging.Logger
	Classifier     *Classifier
	UpdateInterval time.Duration
	SampleInterval time.Duration
	RequestTimeout time.Duration
	SoftStopWait   time.Duration
	TermWait       time.Duration
}

/**
Wrapper supervises exactly one shell task: it spawns the process with piped
output, feeds every captured line through the log pipeline, samples resource
usage and reports metrics and the final result to its parent tier.
*/
type Wrapper struct {
	opts   Options
	store  *logstore.Store
	server *protocol.Server
	client *protocol.Client
	logger *logging.Logger

	hubUid string

	lock    sync.Mutex
	metrics map[string]int64
	usage   *sampler

	stopChan chan struct{}
	stopOnce sync.Once
}

func New(opts Options) *Wrapper {
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 10 * time.Second
	}
	if opts.SampleInterval == 0 {
		opts.SampleInterval = 5 * time.Second
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 5 * time.Second
	}
	if opts.SoftStopWait == 0 {
		opts.SoftStopWait = 10 * time.Second
	}
	if opts.TermWait == 0 {
		opts.TermWait = 5 * time.Second
	}
	return &Wrapper{
		opts:     opts,
		logger:   opts.Logger,
		metrics:  make(map[string]int64),
		stopChan: make(chan struct{}),
	}
}

/**
run the wrapper lifecycle to completion and return the job's result and the
exit code this process should surface
*/
func (w *Wrapper) Run(ctx context.Context) (models.JobResult, int) {
	// INIT: fresh local store and an ephemeral server port
	store, storeErr := logstore.Open(filepath.Join(w.opts.Tracking, "db.sqlite"))
	if storeErr != nil {
		log.Printf("ERROR: Could not open log store: %s", storeErr)
		return models.RESULT_FAILURE, models.EXIT_FAILURE
	}
	w.store = store
	defer w.store.Close()
	w.logger.SetStore(store)

	router := protocol.NewRouter()
	router.Add("log", w.handleLog)
	router.Add("stop", w.handleStop)
	router.Add("metric", w.handleMetric)
	router.Add("get_messages", w.handleGetMessages)

	w.server = protocol.NewServer(router)
	serverAddr, serverErr := w.server.Start()
	if serverErr != nil {
		return models.RESULT_FAILURE, models.EXIT_FAILURE
	}
	defer w.server.Stop()

	// CONNECT: dial upward with bounded backoff
	if w.opts.Client != nil || w.opts.ParentAddr != "" {
		if w.opts.Client != nil {
			w.client = w.opts.Client
		} else {
			w.client = protocol.NewClient(w.opts.ParentAddr, protocol.NewRouter())
			connectErr := w.client.ConnectWithRetry(500*time.Millisecond, 5*time.Second, 12)
			if connectErr != nil {
				log.Printf("ERROR: %s", connectErr)
				return models.RESULT_FAILURE, models.EXIT_NO_PARENT
			}
		}
		defer w.client.Close()

		downward := w.client.Router()
		downward.Add("stop", w.handleStop)
		downward.Add("get_messages", w.handleGetMessages)

		w.logger.SetForward(func(timestamp int64, severity logging.Severity, message string) {
			postErr := w.client.Conn().Post("log", protocol.LogPayload{
				Timestamp: timestamp,
				Severity:  severity.String(),
				Message:   message,
			})
			if postErr != nil {
				log.Printf("WARNING: Could not forward log entry: %s", postErr)
			}
		})

		registerErr := w.request("register", protocol.RegisterPayload{
			Ident:  w.opts.Ident,
			Server: serverAddr,
		}, nil)
		if registerErr != nil {
			log.Printf("ERROR: Could not register with parent: %s", registerErr)
			return models.RESULT_FAILURE, models.EXIT_NO_PARENT
		}
	} else if w.opts.HubUrl != "" {
		hubUid, hubErr := hubapi.Register(w.opts.HubUrl, hubapi.Registration{
			Ident: w.opts.Ident,
			Url:   serverAddr,
			Layer: "wrapper",
			Owner: hubapi.Username(),
		})
		if hubErr != nil {
			w.logger.Warning("Could not register with hub: %s", hubErr)
		} else {
			w.hubUid = hubUid
			w.logger.Info("Registered with hub as %s", hubUid)
		}
	}

	// EXEC / MONITOR / REPORT
	code := w.execute(ctx, serverAddr)

	result := models.RESULT_SUCCESS
	if code != 0 || w.logger.Count(logging.SEVERITY_ERROR, logging.SEVERITY_CRITICAL) > 0 {
		result = models.RESULT_FAILURE
	}

	w.store.SetAttribute("exit", strconv.Itoa(code))
	w.store.SetAttribute("stopped", strconv.FormatInt(time.Now().Unix(), 10))
	w.logSummary()
	w.completeUpward(result, code)
	if w.hubUid != "" {
		hubErr := hubapi.Complete(w.opts.HubUrl, w.hubUid, w.store.Path())
		if hubErr != nil {
			w.logger.Warning("Could not report completion to hub: %s", hubErr)
		}
	}
	return result, code
}

/**
spawn and monitor the job's process, returning its exit code. a synthetic
code of 255 is returned when the process could not be started at all.
*/
func (w *Wrapper) execute(ctx context.Context, serverAddr string) int {
	spec := w.opts.Spec

	// Overlay the spec's environment onto the inherited one, then inject the
	// phone-home variables so nested invocations can find this wrapper
	env := make(map[string]string)
	for _, entry := range os.Environ() {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) == 2 {
			env[parts[0]] = parts[1]
		}
	}
	for key, value := range spec.Env {
		env[key] = value
	}
	env[specs.ENV_PARENT] = serverAddr
	env[specs.ENV_IDENT] = w.opts.Ident

	// Variable references resolve at launch time against the effective
	// environment, so per-expansion values like the array index apply
	command := specs.ExpandVars(spec.Command, env)
	args := make([]string, 0, len(spec.Args))
	for _, arg := range spec.Args {
		args = append(args, specs.ExpandVars(arg, env))
	}

	workingDir := spec.Cwd
	if workingDir == "" {
		workingDir, _ = os.Getwd()
	}

	flat := make([]string, 0, len(env))
	for key, value := range env {
		flat = append(flat, key+"="+value)
	}

	cmd := exec.Command(command, args...)
	cmd.Dir = workingDir
	cmd.Env = flat

	stdin, stdinErr := cmd.StdinPipe()
	stdout, stdoutErr := cmd.StdoutPipe()
	stderr, stderrErr := cmd.StderrPipe()
	if stdinErr != nil || stdoutErr != nil || stderrErr != nil {
		w.logger.Critical("Could not create pipes for task")
		return 255
	}

	hostname, _ := os.Hostname()
	w.store.SetAttribute("ident", w.opts.Ident)
	w.store.SetAttribute("cmd", strings.Join(append([]string{command}, args...), " "))
	w.store.SetAttribute("cwd", workingDir)
	w.store.SetAttribute("host", hostname)
	w.store.SetAttribute("started", strconv.FormatInt(time.Now().Unix(), 10))

	request := specs.Normalize(spec.Resources)
	w.logger.Debug("Task requests %d cores and %d bytes of memory", request.Cores, request.MemoryBytes)
	for name, count := range request.Licenses {
		w.logger.Debug("Task requests %d of license '%s'", count, name)
	}

	w.logger.Info("Launching task: %s", strings.Join(append([]string{command}, args...), " "))
	startErr := cmd.Start()
	if startErr != nil {
		w.logger.Critical("Could not launch task: %s", startErr)
		return 255
	}
	w.store.SetAttribute("pid", strconv.Itoa(cmd.Process.Pid))

	// Drain both output streams concurrently with the process
	var streams sync.WaitGroup
	streams.Add(2)
	go func() {
		defer streams.Done()
		captureStream(stdout, logging.SEVERITY_INFO, w.opts.Classifier, w.logger)
	}()
	go func() {
		defer streams.Done()
		captureStream(stderr, logging.SEVERITY_ERROR, w.opts.Classifier, w.logger)
	}()

	samplerDone := make(chan struct{})
	w.usage = newSampler(int32(cmd.Process.Pid), w.opts.SampleInterval, w.store, w.logger, request)
	go w.usage.run(samplerDone)

	procDone := make(chan int, 1)
	go func() {
		streams.Wait()
		waitErr := cmd.Wait()
		code := 0
		if waitErr != nil {
			var exitErr *exec.ExitError
			if errors.As(waitErr, &exitErr) {
				code = exitErr.ExitCode()
			} else {
				code = 255
			}
		}
		procDone <- code
	}()

	update := time.NewTicker(w.opts.UpdateInterval)
	defer update.Stop()

	code := -1
	terminated := false
monitor:
	for {
		select {
		case code = <-procDone:
			break monitor
		case <-update.C:
			w.sendUpdate()
		case <-ctx.Done():
			terminated = true
			code = w.shutdown(cmd, stdin, procDone)
			break monitor
		case <-w.stopChan:
			terminated = true
			code = w.shutdown(cmd, stdin, procDone)
			break monitor
		}
	}
	close(samplerDone)

	if code < 0 || (terminated && code == 0) {
		code = 255
	}
	w.logger.Info("Task completed with return code %d", code)
	return code
}

/**
graceful-then-forced shutdown ladder: close stdin, wait for a natural exit,
escalate to SIGTERM and finally SIGKILL
*/
func (w *Wrapper) shutdown(cmd *exec.Cmd, stdin io.WriteCloser, procDone chan int) int {
	w.logger.Warning("Stopping leaf job")
	stdin.Close()
	select {
	case code := <-procDone:
		return code
	case <-time.After(w.opts.SoftStopWait):
	}

	w.logger.Warning("Task ignored stdin close, sending SIGTERM")
	cmd.Process.Signal(syscall.SIGTERM)
	select {
	case code := <-procDone:
		return code
	case <-time.After(w.opts.TermWait):
	}

	w.logger.Warning("Task ignored SIGTERM, sending SIGKILL")
	cmd.Process.Kill()
	return <-procDone
}

func (w *Wrapper) request(action string, payload interface{}, response interface{}) error {
	if w.client == nil || !w.client.Linked() {
		return errors.New("no parent connection")
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.opts.RequestTimeout)
	defer cancel()
	return w.client.Conn().Request(ctx, action, payload, response)
}

/**
assemble the wrapper's metric snapshot: message counters, user metrics,
sampler maxima and the leaf's own sub_* contribution
*/
func (w *Wrapper) assembleMetrics(complete bool, passed bool) map[string]int64 {
	metrics := make(map[string]int64)
	for name, value := range w.logger.Counters() {
		metrics[name] = value
	}
	w.lock.Lock()
	for name, value := range w.metrics {
		metrics[name] = value
	}
	w.lock.Unlock()
	if w.usage != nil {
		metrics["cpu_percent_max"] = int64(w.usage.maxCpuPercent)
		metrics["rss_bytes_max"] = w.usage.maxRssBytes
	}
	metrics["sub_total"] = 1
	if complete {
		metrics["sub_active"] = 0
		if passed {
			metrics["sub_passed"] = 1
			metrics["sub_failed"] = 0
		} else {
			metrics["sub_passed"] = 0
			metrics["sub_failed"] = 1
		}
	} else {
		metrics["sub_active"] = 1
		metrics["sub_passed"] = 0
		metrics["sub_failed"] = 0
	}
	return metrics
}

func (w *Wrapper) sendUpdate() {
	metrics := w.assembleMetrics(false, false)
	for name, value := range metrics {
		w.store.SetMetric(name, value, time.Now().Unix())
	}
	if w.client == nil || !w.client.Linked() {
		return
	}
	updateErr := w.request("update", protocol.UpdatePayload{
		Ident:   w.opts.Ident,
		Metrics: metrics,
	}, nil)
	if updateErr != nil {
		log.Printf("WARNING: Could not send update to parent: %s", updateErr)
	}
}

func (w *Wrapper) completeUpward(result models.JobResult, code int) {
	metrics := w.assembleMetrics(true, result == models.RESULT_SUCCESS)
	for name, value := range metrics {
		w.store.SetMetric(name, value, time.Now().Unix())
	}
	if w.client == nil || !w.client.Linked() {
		return
	}
	completeErr := w.request("complete", protocol.CompletePayload{
		Ident:   w.opts.Ident,
		Result:  result.String(),
		Code:    code,
		Metrics: metrics,
		DbFile:  w.store.Path(),
	}, nil)
	if completeErr != nil {
		log.Printf("WARNING: Could not report completion to parent: %s", completeErr)
	}
}

func (w *Wrapper) logSummary() {
	counters := w.logger.Counters()
	w.logger.Info("Recorded %d debug, %d info, %d warning, %d error and %d critical messages",
		counters["msg_debug"], counters["msg_info"], counters["msg_warning"],
		counters["msg_error"], counters["msg_critical"])
}

// ============================================================================
// Protocol handlers
// ============================================================================

func (w *Wrapper) handleLog(conn *protocol.Conn, payload json.RawMessage) (interface{}, error) {
	var entry protocol.LogPayload
	decodeErr := json.Unmarshal(payload, &entry)
	if decodeErr != nil {
		return nil, decodeErr
	}
	timestamp := entry.Timestamp
	if timestamp == 0 {
		timestamp = time.Now().Unix()
	}
	w.logger.Capture(timestamp, logging.SeverityFromString(entry.Severity), entry.Message, true)
	return map[string]string{}, nil
}

func (w *Wrapper) handleStop(conn *protocol.Conn, payload json.RawMessage) (interface{}, error) {
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
	return map[string]string{}, nil
}

/**
record or replace a user metric for this job. the sub_ and msg_ namespaces
are reserved for the runtime's own counters and are rejected.
*/
func (w *Wrapper) handleMetric(conn *protocol.Conn, payload json.RawMessage) (interface{}, error) {
	var request protocol.MetricPayload
	decodeErr := json.Unmarshal(payload, &request)
	if decodeErr != nil {
		return nil, decodeErr
	}
	if request.Name == "" {
		return nil, errors.New("metric name must be provided")
	}
	if strings.HasPrefix(request.Name, "sub_") || strings.HasPrefix(request.Name, "msg_") {
		return nil, fmt.Errorf("reserved metric name '%s'", request.Name)
	}

	w.lock.Lock()
	w.metrics[request.Name] = request.Value
	w.lock.Unlock()
	setErr := w.store.SetMetric(request.Name, request.Value, time.Now().Unix())
	if setErr != nil {
		return nil, setErr
	}
	return map[string]string{}, nil
}

func (w *Wrapper) handleGetMessages(conn *protocol.Conn, payload json.RawMessage) (interface{}, error) {
	var request protocol.GetMessagesRequest
	decodeErr := json.Unmarshal(payload, &request)
	if decodeErr != nil {
		return nil, decodeErr
	}
	if request.Limit == 0 {
		request.Limit = 10
	}

	entries, readErr := w.store.Messages(request.After, request.Limit)
	if readErr != nil {
		return nil, readErr
	}
	total, countErr := w.store.MessageCount()
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
