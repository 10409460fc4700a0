// pkg/sensors/host.go
package sensors

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	gopsnet "github.com/shirou/gopsutil/v3/net"

	"github.com/lucid-vigil/aegis/pkg/events"
)

// highCPUThreshold marks the load percentage above which samples carry the
// high_cpu feature.
const highCPUThreshold = 90.0

// HostSensor observes the local host: established TCP connections become
// network traffic events, annotated with the current CPU pressure so the
// scorer can weigh resource exhaustion alongside the connection itself.
type HostSensor struct {
	source string
}

// NewHostSensor creates a host sensor.
func NewHostSensor() *HostSensor {
	return &HostSensor{source: "host_sensor"}
}

// Name returns the sensor name used in configuration.
func (h *HostSensor) Name() string {
	return "host"
}

// Sample reads the host's TCP connection table and emits one network
// traffic event per established connection with a resolvable remote end.
func (h *HostSensor) Sample(ctx context.Context) ([]events.Event, error) {
	conns, err := gopsnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return nil, fmt.Errorf("reading connection table: %w", err)
	}

	highCPU := false
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		highCPU = percents[0] > highCPUThreshold
	}

	var sampled []events.Event
	for _, conn := range conns {
		if conn.Status != "ESTABLISHED" || conn.Raddr.IP == "" {
			continue
		}
		attrs := map[string]string{
			"protocol":    "tcp",
			"source_ip":   conn.Raddr.IP,
			"remote_port": fmt.Sprintf("%d", conn.Raddr.Port),
			"local_port":  fmt.Sprintf("%d", conn.Laddr.Port),
		}
		if highCPU {
			attrs["high_cpu"] = "true"
		}
		sampled = append(sampled, events.New("", events.KindNetworkTraffic, h.source, time.Now(), attrs, map[string]interface{}{
			"pid": conn.Pid,
		}))
	}
	return sampled, nil
}
