package gateway

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/mcdev12/pokerclock/go/internal/timer"
	"github.com/rs/zerolog/log"
)

// MessageType tags frames sent to clock displays.
type MessageType string

const MessageTimerState MessageType = "timer_state"

// Message is one frame on the wire.
type Message struct {
	Type         MessageType       `json:"type"`
	TournamentID string            `json:"tournamentId"`
	Timestamp    time.Time         `json:"timestamp"`
	State        models.TimerState `json:"state"`
}

// ConnectionConfig holds websocket limits and keepalive timing.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    5 * time.Second,
		PongTimeout:     45 * time.Second,
		PingInterval:    20 * time.Second,
		MaxMessageSize:  512,
		ReadBufferSize:  512,
		WriteBufferSize: 2048,
		// displays run on the tournament LAN
		CheckOrigin: func(*http.Request) bool { return true },
	}
}

// ConnectionManager tracks the displays attached to each tournament. Every
// display owns a timer subscription and is sent each state it delivers.
type ConnectionManager struct {
	mu       sync.RWMutex
	displays map[uuid.UUID]map[*display]struct{}

	upgrader websocket.Upgrader
	config   ConnectionConfig
}

type display struct {
	id           string
	clientID     string
	tournamentID uuid.UUID
	ws           *websocket.Conn
	sub          *timer.Subscription
	since        time.Time
	closeOnce    sync.Once
}

func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		displays: make(map[uuid.UUID]map[*display]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
	}
}

// UpgradeConnection upgrades the request and starts streaming sub. The
// subscription is closed when the connection goes away.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, clientID string, tournamentID uuid.UUID, sub *timer.Subscription) error {
	ws, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		return fmt.Errorf("websocket upgrade: %w", err)
	}

	d := &display{
		id:           uuid.NewString(),
		clientID:     clientID,
		tournamentID: tournamentID,
		ws:           ws,
		sub:          sub,
		since:        time.Now(),
	}

	cm.mu.Lock()
	set := cm.displays[tournamentID]
	if set == nil {
		set = make(map[*display]struct{})
		cm.displays[tournamentID] = set
	}
	set[d] = struct{}{}
	attached := len(set)
	cm.mu.Unlock()

	log.Info().
		Str("connection_id", d.id).
		Str("client_id", clientID).
		Str("tournament_id", tournamentID.String()).
		Int("displays", attached).
		Msg("display attached")

	go cm.send(d)
	go cm.receive(d)
	return nil
}

// drop detaches d and releases its subscription and socket. Safe to call
// from both pumps.
func (cm *ConnectionManager) drop(d *display) {
	d.closeOnce.Do(func() {
		cm.mu.Lock()
		if set := cm.displays[d.tournamentID]; set != nil {
			delete(set, d)
			if len(set) == 0 {
				delete(cm.displays, d.tournamentID)
			}
		}
		cm.mu.Unlock()

		d.sub.Close()
		d.ws.Close()

		log.Info().
			Str("connection_id", d.id).
			Str("tournament_id", d.tournamentID.String()).
			Dur("connected_for", time.Since(d.since)).
			Msg("display detached")
	})
}

// CloseAll drops every connection, used on shutdown.
func (cm *ConnectionManager) CloseAll() {
	cm.mu.RLock()
	var all []*display
	for _, set := range cm.displays {
		for d := range set {
			all = append(all, d)
		}
	}
	cm.mu.RUnlock()

	for _, d := range all {
		cm.drop(d)
	}
}

// ConnectionStats summarizes active connections.
type ConnectionStats struct {
	TotalConnections      int            `json:"totalConnections"`
	ActiveTournaments     int            `json:"activeTournaments"`
	TournamentConnections map[string]int `json:"tournamentConnections"`
}

func (cm *ConnectionManager) Stats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{
		ActiveTournaments:     len(cm.displays),
		TournamentConnections: make(map[string]int, len(cm.displays)),
	}
	for id, set := range cm.displays {
		stats.TotalConnections += len(set)
		stats.TournamentConnections[id.String()] = len(set)
	}
	return stats
}

// send writes every subscription state and keeps the socket alive with pings.
// It ends when the engine unloads the tournament or a write fails.
func (cm *ConnectionManager) send(d *display) {
	ping := time.NewTicker(cm.config.PingInterval)
	defer ping.Stop()
	defer cm.drop(d)

	for {
		select {
		case state, ok := <-d.sub.C:
			_ = d.ws.SetWriteDeadline(time.Now().Add(cm.config.WriteTimeout))
			if !ok {
				_ = d.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "timer unloaded"))
				return
			}
			if err := d.ws.WriteJSON(Message{
				Type:         MessageTimerState,
				TournamentID: d.tournamentID.String(),
				Timestamp:    time.Now().UTC(),
				State:        state,
			}); err != nil {
				log.Debug().Err(err).Str("connection_id", d.id).Msg("display write failed")
				return
			}

		case <-ping.C:
			if err := d.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(cm.config.WriteTimeout)); err != nil {
				log.Debug().Err(err).Str("connection_id", d.id).Msg("display ping failed")
				return
			}
		}
	}
}

// receive discards anything a display sends. Reading is still required for
// pongs and close frames to be handled.
func (cm *ConnectionManager) receive(d *display) {
	defer cm.drop(d)

	extend := func() { _ = d.ws.SetReadDeadline(time.Now().Add(cm.config.PongTimeout)) }
	d.ws.SetReadLimit(cm.config.MaxMessageSize)
	extend()
	d.ws.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		if _, _, err := d.ws.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Warn().Err(err).Str("connection_id", d.id).Msg("display closed unexpectedly")
			}
			return
		}
	}
}
