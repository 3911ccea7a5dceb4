package domain

import (
	"sync/atomic"
	"time"
)

// LogMessage is one decoded datagram on its way to the sink. Ownership passes
// from the producing handler to the sink consumer.
type LogMessage struct {
	Text      string
	From      string
	Timestamp time.Time
}

// SinkStats holds processing counters. Handlers increment concurrently, so all
// fields are atomics.
type SinkStats struct {
	DatagramsReceived atomic.Int64
	DecodeErrors      atomic.Int64
	MessagesDropped   atomic.Int64
	MessagesWritten   atomic.Int64
	BytesReceived     atomic.Int64
	BytesWritten      atomic.Int64
	Rotations         atomic.Int64
	ArchivesUploaded  atomic.Int64
	UploadErrors      atomic.Int64

	lastActivity atomic.Int64 // unix nanos
}

func (s *SinkStats) Touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *SinkStats) LastActivity() time.Time {
	ns := s.lastActivity.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// StatsSnapshot is a point-in-time copy of SinkStats for the API layer.
type StatsSnapshot struct {
	DatagramsReceived int64
	DecodeErrors      int64
	MessagesDropped   int64
	MessagesWritten   int64
	BytesReceived     int64
	BytesWritten      int64
	Rotations         int64
	ArchivesUploaded  int64
	UploadErrors      int64
	LastActivity      time.Time
}

func (s *SinkStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		DatagramsReceived: s.DatagramsReceived.Load(),
		DecodeErrors:      s.DecodeErrors.Load(),
		MessagesDropped:   s.MessagesDropped.Load(),
		MessagesWritten:   s.MessagesWritten.Load(),
		BytesReceived:     s.BytesReceived.Load(),
		BytesWritten:      s.BytesWritten.Load(),
		Rotations:         s.Rotations.Load(),
		ArchivesUploaded:  s.ArchivesUploaded.Load(),
		UploadErrors:      s.UploadErrors.Load(),
		LastActivity:      s.LastActivity(),
	}
}
