package gateway

import "time"

// HealthStatus is reported by the status endpoint.
type HealthStatus struct {
	Status       string `json:"status"`
	Sessions     int    `json:"sessions"`
	LocksHeld    int    `json:"locksHeld"`
	LockExpiries int64  `json:"lockExpiries"`
	Uptime       int64  `json:"uptimeSeconds"`
}

// Health returns the gateway health status.
func (g *Gateway) Health() HealthStatus {
	st := g.guard.Stats()
	return HealthStatus{
		Status:       "ok",
		Sessions:     g.sessions.Count(),
		LocksHeld:    st.Held,
		LockExpiries: st.Expired,
		Uptime:       int64(time.Since(g.startTime).Seconds()),
	}
}

// SweepIdle evicts sessions idle for longer than idle.
func (g *Gateway) SweepIdle(idle time.Duration) int {
	return g.sessions.Sweep(idle)
}
