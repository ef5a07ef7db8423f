package models

import "gorm.io/gorm"

// Phase is the state of a game's round machine.
type Phase string

const (
	PhaseWaiting        Phase = "WAITING"
	PhaseWordSubmission Phase = "WORD_SUBMISSION"
	PhaseDiscussion     Phase = "DISCUSSION"
	PhaseVoting         Phase = "VOTING"
	PhaseResults        Phase = "RESULTS"
	PhaseCompleted      Phase = "COMPLETED"
)

func (p Phase) String() string { return string(p) }

// Terminal reports whether the game is over.
func (p Phase) Terminal() bool { return p == PhaseCompleted }

// CanTransitionTo checks whether moving from p to target is a legal step.
// COMPLETED is reachable from any non-terminal phase (host force-end).
func (p Phase) CanTransitionTo(target Phase) bool {
	if target == PhaseCompleted {
		return !p.Terminal()
	}

	valid := map[Phase][]Phase{
		PhaseWaiting:        {PhaseWordSubmission},
		PhaseWordSubmission: {PhaseDiscussion},
		PhaseDiscussion:     {PhaseVoting},
		PhaseVoting:         {PhaseResults},
		PhaseResults:        {PhaseWordSubmission},
	}

	for _, next := range valid[p] {
		if next == target {
			return true
		}
	}
	return false
}

// Winner values for a finished round.
const (
	WinnerPlayers  = "players"
	WinnerImposter = "imposter"
)

// Vote records a single ballot. Votes are kept as an ordered slice rather
// than a map so that tie-breaking by earliest cast is reproducible.
type Vote struct {
	VoterID  uint `json:"voter_id"`
	TargetID uint `json:"target_id"`
}

// Game represents the single active game of a room. At most one non-terminal
// Game exists per room.
type Game struct {
	gorm.Model
	RoomID      uint   `gorm:"not null;index"`
	Phase       Phase  `gorm:"size:30;not null;default:'WAITING'"`
	RoundNumber int    `gorm:"not null;default:1"`
	WordGiverID uint   `gorm:"not null"`
	ImposterID  *uint  // set only once the round's word has been submitted
	CurrentWord string `gorm:"size:255"`
	// Remaining players awaiting their turn as word giver, in draw order.
	WordGiverQueue []uint `gorm:"serializer:json;type:text"`
	Votes          []Vote `gorm:"serializer:json;type:text"`
	Winner         string `gorm:"size:20"`
}

// HasVoted reports whether the player already cast a ballot this round.
func (g *Game) HasVoted(playerID uint) bool {
	for _, v := range g.Votes {
		if v.VoterID == playerID {
			return true
		}
	}
	return false
}
