package wrapper

import (
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/Intuity/Gator/common/logging"
	"github.com/Intuity/Gator/common/logstore"
	"github.com/Intuity/Gator/common/specs"
)

/**
sampler periodically reads CPU and resident memory usage for the supervised
process and its descendants, appending samples to the log store and tracking
the maxima that feed the cpu_percent_max / rss_bytes_max metrics.
*/
type sampler struct {
	pid      int32
	interval time.Duration
	store    *logstore.Store
	logger   *logging.Logger
	request  specs.ResourceRequest

	maxCpuPercent float64
	maxRssBytes   int64
	exceeding     bool
}

func newSampler(pid int32, interval time.Duration, store *logstore.Store,
	logger *logging.Logger, request specs.ResourceRequest) *sampler {
	return &sampler{
		pid:      pid,
		interval: interval,
		store:    store,
		logger:   logger,
		request:  request,
	}
}

/**
tick until the done channel closes, with one final pass afterwards so short
lived processes still record at least one sample attempt
*/
func (s *sampler) run(done chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sample()
		case <-done:
			s.sample()
			return
		}
	}
}

func (s *sampler) sample() {
	proc, procErr := process.NewProcess(s.pid)
	if procErr != nil {
		return
	}

	cpuPercent, cpuErr := proc.Percent(0)
	if cpuErr != nil {
		return
	}
	var rssBytes int64
	memory, memErr := proc.MemoryInfo()
	if memErr == nil {
		rssBytes = int64(memory.RSS)
	}

	// Fold in any descendants the job has forked
	children, childErr := proc.Children()
	if childErr == nil {
		for _, child := range children {
			childCpu, err := child.Percent(0)
			if err == nil {
				cpuPercent += childCpu
			}
			childMem, err := child.MemoryInfo()
			if err == nil {
				rssBytes += int64(childMem.RSS)
			}
		}
	}

	if cpuPercent > s.maxCpuPercent {
		s.maxCpuPercent = cpuPercent
	}
	if rssBytes > s.maxRssBytes {
		s.maxRssBytes = rssBytes
	}

	pushErr := s.store.PushResource(logstore.ResourceSample{
		Timestamp:  time.Now().Unix(),
		CpuPercent: cpuPercent,
		RssBytes:   rssBytes,
	})
	if pushErr != nil {
		s.logger.Debug("Could not record resource sample: %s", pushErr)
	}

	s.checkLimits(cpuPercent, rssBytes)
}

/**
warn once when the job climbs above its requested resources, re-arming only
after it drops back under
*/
func (s *sampler) checkLimits(cpuPercent float64, rssBytes int64) {
	overCores := s.request.Cores > 0 && cpuPercent > float64(s.request.Cores*100)
	overMemory := s.request.MemoryBytes > 0 && rssBytes > s.request.MemoryBytes
	nowExceeding := overCores || overMemory
	if nowExceeding && !s.exceeding {
		s.logger.Warning(
			"Job exceeded its requested resources (%d cores, %d bytes), using %.1f%% CPU and %d bytes",
			s.request.Cores, s.request.MemoryBytes, cpuPercent, rssBytes)
	}
	s.exceeding = nowExceeding
}
