// Package discovery announces the board server on the local network so
// player devices can find it without typing an address. The beacon is a
// small JSON record broadcast over UDP once per interval.
package discovery

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"go.uber.org/zap"
)

const (
	// ServiceType identifies the announced service.
	ServiceType = "_boardgo._tcp"
	// InstanceName is the human-readable name shown in client pickers.
	InstanceName = "Board Go"
	// BeaconPort is the UDP port clients listen on for announcements.
	BeaconPort = 5355

	announceInterval = 2 * time.Second
)

// Beacon is the broadcast payload.
type Beacon struct {
	Service   string `json:"service"`
	Instance  string `json:"instance"`
	SessionID string `json:"sessionId"`
	Port      int    `json:"port"`
}

// Announcer periodically broadcasts a Beacon for the given server port.
type Announcer struct {
	beacon Beacon
	log    *zap.Logger
}

func NewAnnouncer(sessionID string, port int, log *zap.Logger) *Announcer {
	return &Announcer{
		beacon: Beacon{
			Service:   ServiceType,
			Instance:  InstanceName,
			SessionID: sessionID,
			Port:      port,
		},
		log: log,
	}
}

// Run broadcasts until the context is cancelled. A socket failure stops
// the announcer without affecting the game server.
func (a *Announcer) Run(ctx context.Context) error {
	addr := &net.UDPAddr{IP: net.IPv4bcast, Port: BeaconPort}
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		a.log.Warn("discovery disabled", zap.Error(err))
		return nil
	}
	defer conn.Close()

	payload, err := json.Marshal(a.beacon)
	if err != nil {
		return err
	}

	a.log.Info("announcing on lan",
		zap.String("service", ServiceType),
		zap.Int("port", a.beacon.Port))

	ticker := time.NewTicker(announceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := conn.Write(payload); err != nil {
				a.log.Debug("beacon write failed", zap.Error(err))
			}
		}
	}
}
