package peer

import (
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/pion/webrtc/v4"
)

const dataChannelLabel = "signconnect"

// PionFactory creates pion/webrtc peer connections.
type PionFactory struct {
	config webrtc.Configuration
	logger hclog.Logger
}

// NewPionFactory uses the given STUN/TURN URLs, none meaning host candidates only.
func NewPionFactory(iceURLs []string, logger hclog.Logger) *PionFactory {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	var cfg webrtc.Configuration
	if len(iceURLs) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceURLs}}
	}
	return &PionFactory{config: cfg, logger: logger.Named("webrtc")}
}

func (f *PionFactory) NewPeer(remoteID string, onCandidate func(json.RawMessage)) (PeerConnector, error) {
	pc, err := webrtc.NewPeerConnection(f.config)
	if err != nil {
		return nil, err
	}
	logger := f.logger.With("peer", remoteID)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			logger.Warn("failed to encode candidate", "error", err)
			return
		}
		onCandidate(raw)
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		logger.Info("connection state", "state", s.String())
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnOpen(func() {
			logger.Info("data channel open", "label", dc.Label())
		})
	})
	return &pionPeer{pc: pc}, nil
}

type pionPeer struct {
	pc *webrtc.PeerConnection
}

// CreateOffer opens a data channel so the offer carries an application
// section to gather candidates for.
func (p *pionPeer) CreateOffer() (json.RawMessage, error) {
	if _, err := p.pc.CreateDataChannel(dataChannelLabel, nil); err != nil {
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	return json.Marshal(offer)
}

func (p *pionPeer) AcceptOffer(raw json.RawMessage) (json.RawMessage, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &offer); err != nil {
		return nil, fmt.Errorf("invalid offer: %w", err)
	}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	return json.Marshal(answer)
}

func (p *pionPeer) AcceptAnswer(raw json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &answer); err != nil {
		return fmt.Errorf("invalid answer: %w", err)
	}
	return p.pc.SetRemoteDescription(answer)
}

func (p *pionPeer) AddCandidate(raw json.RawMessage) error {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &candidate); err != nil {
		return fmt.Errorf("invalid candidate: %w", err)
	}
	return p.pc.AddICECandidate(candidate)
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}

// State reports the pion connection state, for diagnostics.
func (p *pionPeer) State() webrtc.PeerConnectionState {
	return p.pc.ConnectionState()
}
