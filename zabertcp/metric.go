package zabertcp

import (
	"sync/atomic"
)

// ConnectionMetrics contains atomic metrics for a connection.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type ConnectionMetrics struct {
	// CmdSendCount indicates the number of commands sent.
	CmdSendCount atomic.Uint64
	// ReplyRecvCount indicates the number of replies received and routed.
	ReplyRecvCount atomic.Uint64
	// RejectRecvCount indicates the number of RJ replies received.
	RejectRecvCount atomic.Uint64
	// OrphanReplyCount indicates the number of replies that arrived after
	// their request timed out.
	OrphanReplyCount atomic.Uint64
	// DiscardedLineCount indicates the number of received lines discarded
	// as alerts, info lines or malformed frames.
	DiscardedLineCount atomic.Uint64

	// ConnRetryGauge indicates the number of dial retries in the current
	// connect cycle.
	ConnRetryGauge atomic.Uint32
}

func (m *ConnectionMetrics) incCmdSendCount() {
	m.CmdSendCount.Add(1)
}

func (m *ConnectionMetrics) incReplyRecvCount() {
	m.ReplyRecvCount.Add(1)
}

func (m *ConnectionMetrics) incRejectRecvCount() {
	m.RejectRecvCount.Add(1)
}

func (m *ConnectionMetrics) incOrphanReplyCount() {
	m.OrphanReplyCount.Add(1)
}

func (m *ConnectionMetrics) incDiscardedLineCount() {
	m.DiscardedLineCount.Add(1)
}

func (m *ConnectionMetrics) incConnRetryGauge() {
	m.ConnRetryGauge.Add(1)
}

func (m *ConnectionMetrics) resetConnRetryGauge() {
	m.ConnRetryGauge.Store(0)
}
