package server

import (
	"motionduel/duel"
)

// DirectionView is a Direction as presentation sees it.
type DirectionView struct {
	Type      string  `json:"type"`
	Strength  float64 `json:"strength"`
	Degrees   float64 `json:"degrees"`
	Placement string  `json:"placement"`
}

// StateView is the JSON form of a duel.Snapshot.
type StateView struct {
	Version           uint64         `json:"version"`
	Phase             string         `json:"phase"`
	Round             int            `json:"round"`
	MaxRounds         int            `json:"maxRounds"`
	PlayerScore       int            `json:"playerScore"`
	EnemyScore        int            `json:"enemyScore"`
	LocalAttacks      bool           `json:"localAttacks"`
	PendingSelf       *DirectionView `json:"pendingSelf,omitempty"`
	PendingPeer       *DirectionView `json:"pendingPeer,omitempty"`
	LastResolution    string         `json:"lastResolution,omitempty"`
	Result            string         `json:"result,omitempty"`
	CooldownProgress  float64        `json:"cooldownProgress"`
	DeadlineRemaining float64        `json:"deadlineRemainingSec"`
	Threshold         float64        `json:"threshold"`
	PeerHealth        *float64       `json:"peerHealth,omitempty"`
	Connected         bool           `json:"connected"`
	LastSendError     string         `json:"lastSendError,omitempty"`
}

func directionView(d *duel.Direction) *DirectionView {
	if d == nil {
		return nil
	}
	return &DirectionView{Type: d.Kind.String(), Strength: d.Strength, Degrees: d.Degrees(), Placement: d.Placement()}
}

func NewStateView(s duel.Snapshot) StateView {
	v := StateView{
		Version:           s.Version,
		Phase:             s.Phase.String(),
		Round:             s.Round,
		MaxRounds:         s.MaxRounds,
		PlayerScore:       s.PlayerScore,
		EnemyScore:        s.EnemyScore,
		LocalAttacks:      s.LocalAttacks,
		PendingSelf:       directionView(s.PendingSelf),
		PendingPeer:       directionView(s.PendingPeer),
		CooldownProgress:  s.CooldownProgress,
		DeadlineRemaining: s.DeadlineRemaining.Seconds(),
		Threshold:         s.Threshold,
		PeerHealth:        s.PeerHealth,
		Connected:         s.Connected,
		LastSendError:     s.LastSendError,
	}
	if s.LastResolution != nil {
		v.LastResolution = s.LastResolution.String()
	}
	if s.Result != nil {
		v.Result = s.Result.String()
	}
	return v
}
