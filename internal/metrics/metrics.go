package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vdcp",
			Subsystem: "serial",
			Name:      "frames_total",
			Help:      "Serial frames read, by decode result.",
		},
		[]string{"port", "result"},
	)
	commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vdcp",
			Subsystem: "serial",
			Name:      "commands_total",
			Help:      "VDCP commands dispatched.",
		},
		[]string{"port", "command"},
	)
	pulses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vdcp",
			Subsystem: "relay",
			Name:      "pulses_total",
			Help:      "Digital output pulses sent, by module and success.",
		},
		[]string{"module", "success"},
	)
	dropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vdcp",
			Subsystem: "relay",
			Name:      "dropped_total",
			Help:      "Play triggers dropped before dispatch.",
		},
		[]string{"reason"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(frames, commands, pulses, dropped)
	})
}

func RecordFrame(port, result string) {
	RegisterMetrics()
	frames.WithLabelValues(port, result).Inc()
}

func RecordCommand(port, command string) {
	RegisterMetrics()
	commands.WithLabelValues(port, command).Inc()
}

func RecordPulse(module uint8, success bool) {
	RegisterMetrics()
	pulses.WithLabelValues(strconv.Itoa(int(module)), strconv.FormatBool(success)).Inc()
}

func RecordDropped(reason string) {
	RegisterMetrics()
	dropped.WithLabelValues(reason).Inc()
}
