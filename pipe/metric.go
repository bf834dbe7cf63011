package pipe

import (
	"fmt"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
)

// Metrics contains atomic counters of a pipe.
type Metrics struct {
	// FrameSendCount indicates the number of requests written.
	FrameSendCount atomic.Uint64
	// FrameRecvCount indicates the number of frames accepted as responses.
	FrameRecvCount atomic.Uint64
	// StrayFrameCount indicates the number of frames discarded by a keep-waiting match.
	StrayFrameCount atomic.Uint64
	// PushFrameCount indicates the number of frames read by the active-push listener.
	PushFrameCount atomic.Uint64

	// SendErrCount indicates the number of failed writes.
	SendErrCount atomic.Uint64
	// RecvErrCount indicates the number of failed receives, timeouts excluded.
	RecvErrCount atomic.Uint64
	// TimeoutCount indicates the number of receive timeouts.
	TimeoutCount atomic.Uint64

	// OpenCount indicates the number of channel handles opened.
	OpenCount atomic.Uint64
	// OpenErrCount indicates the number of failed opens.
	OpenErrCount atomic.Uint64
}

func (m *Metrics) incFrameSendCount()  { m.FrameSendCount.Add(1) }
func (m *Metrics) incFrameRecvCount()  { m.FrameRecvCount.Add(1) }
func (m *Metrics) incStrayFrameCount() { m.StrayFrameCount.Add(1) }
func (m *Metrics) incPushFrameCount()  { m.PushFrameCount.Add(1) }
func (m *Metrics) incSendErrCount()    { m.SendErrCount.Add(1) }
func (m *Metrics) incRecvErrCount()    { m.RecvErrCount.Add(1) }
func (m *Metrics) incTimeoutCount()    { m.TimeoutCount.Add(1) }
func (m *Metrics) incOpenCount()       { m.OpenCount.Add(1) }
func (m *Metrics) incOpenErrCount()    { m.OpenErrCount.Add(1) }

// RegisterMetrics exports the counters and the health of p as gauges of set,
// labelled with pipe="<name>". Registering the same name twice in one set panics,
// as with any VictoriaMetrics metric.
func RegisterMetrics(set *metrics.Set, p *Pipe) {
	m := p.Metrics()
	label := fmt.Sprintf("{pipe=%q}", p.Name())

	counters := []struct {
		name string
		v    *atomic.Uint64
	}{
		{"edgepipe_frames_sent_total", &m.FrameSendCount},
		{"edgepipe_frames_received_total", &m.FrameRecvCount},
		{"edgepipe_frames_stray_total", &m.StrayFrameCount},
		{"edgepipe_frames_push_total", &m.PushFrameCount},
		{"edgepipe_send_errors_total", &m.SendErrCount},
		{"edgepipe_receive_errors_total", &m.RecvErrCount},
		{"edgepipe_timeouts_total", &m.TimeoutCount},
		{"edgepipe_opens_total", &m.OpenCount},
		{"edgepipe_open_errors_total", &m.OpenErrCount},
	}

	for _, c := range counters {
		v := c.v
		set.NewGauge(c.name+label, func() float64 { return float64(v.Load()) })
	}

	set.NewGauge("edgepipe_error_count"+label, func() float64 { return float64(p.ErrorCount()) })
	set.NewGauge("edgepipe_faulted"+label, func() float64 {
		if p.IsFaulted() {
			return 1
		}
		return 0
	})
}
