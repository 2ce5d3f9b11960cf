package pg

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

// Metrics are registered in the default VictoriaMetrics set and exposed by
// metrics.WritePrometheus, e.g. on the /metrics endpoint of `dccl serve`.
var (
	commInitTotal         = metrics.NewCounter("dccl_communicator_init_total")
	commInitFailedTotal   = metrics.NewCounter("dccl_communicator_init_failed_total")
	commAbortTotal        = metrics.NewCounter("dccl_communicator_abort_total")
	commSplitTotal        = metrics.NewCounter("dccl_communicator_split_total")
	watchdogTimeoutsTotal = metrics.NewCounter("dccl_watchdog_timeouts_total")
	healthCheckFailed     = metrics.NewCounter("dccl_health_check_failed_total")
)

func collectivesTotal(op OpType) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`dccl_collectives_total{op=%q}`, op))
}

func workFailedTotal(code ErrCode) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`dccl_work_failed_total{code=%q}`, code))
}

func workDuration(op OpType) *metrics.Histogram {
	return metrics.GetOrCreateHistogram(fmt.Sprintf(`dccl_work_duration_seconds{op=%q}`, op))
}
