package vm

import "github.com/prometheus/client_golang/prometheus"

// vmMetrics bundles the optional Prometheus instrumentation named in
// SPEC_FULL.md's DOMAIN STACK, grounded on the nspcc-dev/neo-go dependency
// manifest (_examples/other_examples/manifests/nspcc-dev-neo-go/go.mod),
// which carries github.com/prometheus/client_golang. All fields are no-op
// collectors when the VM is built without a registry, so instrumentation
// is opt-in and costs nothing when unused.
type vmMetrics struct {
	instructionsExecuted prometheus.Counter
	faultsRaised         prometheus.Counter
	kernelMode           prometheus.Gauge
}

func newNopMetrics() *vmMetrics {
	return &vmMetrics{
		instructionsExecuted: prometheus.NewCounter(prometheus.CounterOpts{Name: "noop_instructions"}),
		faultsRaised:         prometheus.NewCounter(prometheus.CounterOpts{Name: "noop_faults"}),
		kernelMode:           prometheus.NewGauge(prometheus.GaugeOpts{Name: "noop_kernel_mode"}),
	}
}

func newMetrics(reg prometheus.Registerer) *vmMetrics {
	if reg == nil {
		return newNopMetrics()
	}
	m := &vmMetrics{
		instructionsExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jodinvm_instructions_executed_total",
			Help: "Total number of bytecode instructions dispatched.",
		}),
		faultsRaised: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jodinvm_faults_raised_total",
			Help: "Total number of faults raised across all kinds.",
		}),
		kernelMode: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jodinvm_kernel_mode",
			Help: "1 while a fault handler is executing in kernel mode, else 0.",
		}),
	}
	reg.MustRegister(m.instructionsExecuted, m.faultsRaised, m.kernelMode)
	return m
}

func (m *vmMetrics) setKernelMode(on bool) {
	if on {
		m.kernelMode.Set(1)
	} else {
		m.kernelMode.Set(0)
	}
}
