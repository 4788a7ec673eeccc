package sfu

import (
	"context"
	"sync"

	"github.com/wolftown-io/canis-server/internal/metrics"
)

// Manager owns one Room per active voice channel, creating rooms lazily on
// first join and tearing them down once the last peer leaves.
type Manager struct {
	config *Config
	signal SignalingFunc

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewManager builds a Manager that signals clients via signal.
func NewManager(config *Config, signal SignalingFunc) *Manager {
	return &Manager{config: config, signal: signal, rooms: make(map[string]*Room)}
}

// Join admits userID to channelID's room, creating the room if this is the
// first participant.
func (m *Manager) Join(ctx context.Context, channelID, userID string) (*Peer, error) {
	room, err := m.roomFor(channelID)
	if err != nil {
		return nil, err
	}
	return room.Join(ctx, userID)
}

// Leave removes userID from channelID's room, dropping the room entirely
// once it is empty.
func (m *Manager) Leave(channelID, userID string) {
	m.mu.Lock()
	room, ok := m.rooms[channelID]
	m.mu.Unlock()
	if !ok {
		return
	}

	room.Leave(userID)

	if room.PeerCount() == 0 {
		m.mu.Lock()
		if r, ok := m.rooms[channelID]; ok && r == room && room.PeerCount() == 0 {
			delete(m.rooms, channelID)
			metrics.ActiveVoiceRooms.Dec()
		}
		m.mu.Unlock()
	}
}

// Room returns the room for channelID if one is active.
func (m *Manager) Room(channelID string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[channelID]
}

func (m *Manager) roomFor(channelID string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if room, ok := m.rooms[channelID]; ok {
		return room, nil
	}

	room, err := NewRoom(channelID, m.config, m.signal)
	if err != nil {
		return nil, err
	}
	m.rooms[channelID] = room
	metrics.ActiveVoiceRooms.Inc()
	return room, nil
}

// RecordHealth updates the rolling SFU health gauge from a fresh sample,
// used by the gateway's periodic stats report from clients.
func (m *Manager) RecordHealth(sample HealthSample) {
	metrics.VoiceHealthScore.Set(HealthScore(sample))
}

// Close tears down every active room, used on server shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for id, r := range m.rooms {
		rooms = append(rooms, r)
		delete(m.rooms, id)
	}
	m.mu.Unlock()

	for _, r := range rooms {
		r.Close()
		metrics.ActiveVoiceRooms.Dec()
	}
}
