// Package metrics holds the Prometheus collectors for the manager and
// the default hypervisor backend: package-level vars, registered at
// init time, with label combinations pre-initialized so dashboards
// never show a gap for an outcome that just hasn't happened yet.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ActiveVMs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vmworker_active_vms",
		Help: "Number of VMs currently tracked as running by the Manager.",
	})

	VmCreateDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "vmworker_vm_create_duration_seconds",
		Help:    "Time spent in the Create algorithm, prepare through boot.",
		Buckets: prometheus.DefBuckets,
	})

	VmDeleteDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "vmworker_vm_delete_duration_seconds",
		Help:    "Time spent in the Delete algorithm, shutdown through cleanup.",
		Buckets: prometheus.DefBuckets,
	})

	VmSpawnDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "vmworker_vm_spawn_duration_seconds",
		Help:    "Time spent in Backend.Spawn, from setup through the control socket appearing.",
		Buckets: prometheus.DefBuckets,
	})

	VmLifecycleOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vmworker_vm_lifecycle_outcomes_total",
		Help: "Count of Create/Delete outcomes by command and result kind.",
	}, []string{"command", "outcome"})
)

func init() {
	prometheus.MustRegister(
		ActiveVMs,
		VmCreateDuration,
		VmDeleteDuration,
		VmSpawnDuration,
		VmLifecycleOutcomes,
	)

	for _, command := range []string{"create", "delete"} {
		for _, outcome := range []string{"success", "failure"} {
			VmLifecycleOutcomes.WithLabelValues(command, outcome).Add(0)
		}
	}
}
