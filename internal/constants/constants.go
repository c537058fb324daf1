package constants

import "time"

// Network defaults
const (
	MinPort        = 1
	MaxPort        = 65535
	RecvChunkSize  = 4096 // per-read drain size into the session buffer
	MaxEpollEvents = 1024
)

// Agent settings
const (
	MinPeriodSec = 0
	MaxPeriodSec = 86400
	StopPollStep = time.Second // granularity of the inter-tick stop check
)

// Persistence
const (
	ScreenshotDir   = "screenshots"
	TimestampFormat = "20060102_150405"
)

// Registry settings
const (
	RegistryKeyPrefix = "screenspool:agent:"
	RegistryEntryTTL  = time.Hour
	RecorderQueueSize = 256
)

// Messages
const (
	MsgCollectorUsage = "Usage: collector --port <listen port>"
	MsgAgentUsage     = "Usage: agent --srv <host>:<port> --period <timeout secs>"
	MsgInvalidPort    = "Invalid port"
	MsgInvalidHost    = "Invalid host"
	MsgInvalidPeriod  = "Invalid period"
)
