package webrtc

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/dj-oyu/face-detector/detection-bridge/internal/logger"
	"github.com/dj-oyu/face-detector/detection-bridge/internal/metrics"
)

const (
	// ChannelLabel is the data channel the browser opens for UI traffic.
	ChannelLabel = "ui"

	sendBuffer = 16
)

// MessageHandler receives text sent by a client on its UI channel.
type MessageHandler func(clientID string, data []byte)

// textSender is the part of a data channel the sender loop needs.
type textSender interface {
	SendText(s string) error
}

// Client represents a connected WebRTC client
type Client struct {
	id       string
	peerConn *webrtc.PeerConnection
	sendChan chan []byte
	once     sync.Once

	mu     sync.RWMutex
	sender textSender

	sent    atomic.Uint64
	dropped atomic.Uint64
}

func newClient(id string, pc *webrtc.PeerConnection) *Client {
	return &Client{
		id:       id,
		peerConn: pc,
		sendChan: make(chan []byte, sendBuffer),
	}
}

// ready reports whether the UI channel is open.
func (c *Client) ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sender != nil
}

func (c *Client) attach(s textSender) {
	c.mu.Lock()
	c.sender = s
	c.mu.Unlock()
}

// Server manages WebRTC connections
type Server struct {
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API
	metrics    *metrics.Metrics

	handlerMu sync.RWMutex
	onMessage MessageHandler
}

// NewServer creates a new WebRTC server. An empty stunServers list gathers
// host candidates only.
func NewServer(stunServers []string, maxClients int, m *metrics.Metrics) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: []string{url},
		})
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	// Data channels only, no media codecs.
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine))

	return &Server{
		clients: make(map[string]*Client),
		config: webrtc.Configuration{
			ICEServers: iceServers,
		},
		maxClients: maxClients,
		api:        api,
		metrics:    m,
	}
}

// OnMessage sets the handler for inbound UI channel messages.
func (s *Server) OnMessage(h MessageHandler) {
	s.handlerMu.Lock()
	s.onMessage = h
	s.handlerMu.Unlock()
}

func (s *Server) deliver(clientID string, data []byte) {
	s.handlerMu.RLock()
	h := s.onMessage
	s.handlerMu.RUnlock()

	if h != nil {
		h(clientID, data)
	}
}

// HandleOffer handles a WebRTC offer and returns an answer
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		return nil, fmt.Errorf("invalid offer: type=%q", offer.Type.String())
	}

	if s.maxClients > 0 && s.GetClientCount() >= s.maxClients {
		return nil, fmt.Errorf("maximum clients reached (%d)", s.maxClients)
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	client := newClient(uuid.NewString(), peerConn)

	peerConn.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != ChannelLabel {
			logger.Warn("WebRTC", "Client %s opened unexpected channel %q, ignoring", client.id, dc.Label())
			return
		}

		dc.OnOpen(func() {
			logger.Debug("WebRTC", "Client %s UI channel open", client.id)
			client.attach(dc)
		})
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			s.deliver(client.id, msg.Data)
		})
		dc.OnClose(func() {
			s.RemoveClient(client.id)
		})
	})

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("WebRTC", "Client %s connection state: %s", client.id, state.String())

		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			logger.Info("WebRTC", "Client %s connection lost (Peer: %s), removing...", client.id, state.String())
			s.RemoveClient(client.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)

	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	<-gatherComplete
	logger.Debug("WebRTC", "ICE gathering complete for client %s", client.id)

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		peerConn.Close()
		return nil, fmt.Errorf("no local description available")
	}

	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}

	s.addClient(client)
	logger.Info("WebRTC", "Client %s connected", client.id)

	return answerJSON, nil
}

func (s *Server) addClient(client *Client) {
	s.clientsMu.Lock()
	s.clients[client.id] = client
	s.clientsMu.Unlock()

	if s.metrics != nil {
		s.metrics.WebRTCClients.Add(1)
		s.metrics.TotalClients.Add(1)
	}

	go s.sendMessages(client)
}

// Broadcast queues data for every client with an open UI channel. It never
// blocks; clients with a full queue miss the message. Returns the number of
// clients that missed it.
func (s *Server) Broadcast(data []byte) int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	dropped := 0
	for _, client := range s.clients {
		if !client.ready() {
			continue
		}
		select {
		case client.sendChan <- data:
			client.sent.Add(1)
		default:
			client.dropped.Add(1)
			dropped++
		}
	}
	return dropped
}

// sendMessages drains the client's queue onto its data channel
func (s *Server) sendMessages(client *Client) {
	for data := range client.sendChan {
		client.mu.RLock()
		sender := client.sender
		client.mu.RUnlock()
		if sender == nil {
			continue
		}

		if err := sender.SendText(string(data)); err != nil {
			logger.Debug("WebRTC", "Send to client %s failed: %v", client.id, err)
		}
	}
}

// RemoveClient removes a client by ID
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if exists {
		delete(s.clients, clientID)
	}
	s.clientsMu.Unlock()

	if !exists {
		return
	}
	s.closeClient(client)

	logger.Info("WebRTC", "Client %s disconnected (sent: %d, dropped: %d)",
		clientID, client.sent.Load(), client.dropped.Load())
}

func (s *Server) closeClient(client *Client) {
	client.once.Do(func() {
		close(client.sendChan)
		if client.peerConn != nil {
			// Close fires the state callbacks, which find the client already gone.
			go client.peerConn.Close()
		}
		if s.metrics != nil {
			s.metrics.WebRTCClients.Add(-1)
		}
	})
}

// GetClientCount returns the number of connected clients
func (s *Server) GetClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// ClientStats is the per-client delivery tally.
type ClientStats struct {
	MessagesSent    uint64 `json:"messages_sent"`
	MessagesDropped uint64 `json:"messages_dropped"`
}

// GetClientStats returns stats for all clients
func (s *Server) GetClientStats() map[string]ClientStats {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	stats := make(map[string]ClientStats, len(s.clients))
	for id, client := range s.clients {
		stats[id] = ClientStats{
			MessagesSent:    client.sent.Load(),
			MessagesDropped: client.dropped.Load(),
		}
	}
	return stats
}

// Close closes all client connections
func (s *Server) Close() error {
	s.clientsMu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for id, client := range s.clients {
		clients = append(clients, client)
		delete(s.clients, id)
	}
	s.clientsMu.Unlock()

	for _, client := range clients {
		s.closeClient(client)
	}
	return nil
}
