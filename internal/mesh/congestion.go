package mesh

// CongestionLevel classifies a node's current mailbox depth.
type CongestionLevel string

const (
	CongestionLow    CongestionLevel = "LOW"
	CongestionMedium CongestionLevel = "MEDIUM"
	CongestionHigh   CongestionLevel = "HIGH"
)

const (
	lowCongestionMax    = 10
	mediumCongestionMax = 30
)

// ClassifyCongestion maps a mailbox depth to a level: LOW up to 10,
// MEDIUM up to 30, HIGH above.
func ClassifyCongestion(depth int) CongestionLevel {
	switch {
	case depth > mediumCongestionMax:
		return CongestionHigh
	case depth > lowCongestionMax:
		return CongestionMedium
	default:
		return CongestionLow
	}
}
