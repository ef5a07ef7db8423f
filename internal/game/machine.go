package game

import (
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"wordimposter/backend/internal/apperr"
	"wordimposter/backend/internal/hub"
	"wordimposter/backend/internal/models"
	"wordimposter/backend/internal/store"
)

// Word length bounds for submissions, after trimming.
const (
	wordMinLen = 2
	wordMaxLen = 64
)

// wordPlaceholder is what the imposter sees instead of the round's word.
const wordPlaceholder = "???"

// Serializer provides the per-room serialization point. All state machine
// transitions for a room run inside it, so game mutations are ordered with
// the room's membership mutations.
type Serializer interface {
	WithRoom(roomID uint, fn func() error) error
}

// Config carries the tunables the machine consumes.
type Config struct {
	MinPlayers         int
	DiscussionDuration time.Duration
	VotingDuration     time.Duration
}

// Machine drives a room's game through its phases: word submission,
// discussion, voting, results and rotation, with correct randomness and
// deterministic vote tallying.
type Machine struct {
	store      store.Store
	hub        *hub.Hub
	serializer Serializer
	logger     *slog.Logger
	cfg        Config

	rngMu sync.Mutex
	rng   *rand.Rand

	timerMu sync.Mutex
	timers  map[uint]*time.Timer // gameID -> pending phase timer
}

// NewMachine creates a game state machine. rng may be nil, in which case a
// time-seeded source is used; tests inject a fixed seed for reproducibility.
func NewMachine(st store.Store, h *hub.Hub, ser Serializer, cfg Config, logger *slog.Logger, rng *rand.Rand) *Machine {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Machine{
		store:      st,
		hub:        h,
		serializer: ser,
		logger:     logger,
		cfg:        cfg,
		rng:        rng,
		timers:     make(map[uint]*time.Timer),
	}
}

// Start begins a game for the room. The requester must be the room's host,
// at least MinPlayers players must be online, and no non-terminal game may
// exist. The rotation queue is a shuffle of the online players; its first
// entry becomes the opening word giver.
func (m *Machine) Start(roomID, requesterID uint) (*models.Game, error) {
	var game *models.Game
	err := m.serializer.WithRoom(roomID, func() error {
		requester, err := m.store.GetPlayer(requesterID)
		if err != nil {
			return err
		}
		if requester.RoomID != roomID || !requester.IsHost {
			return apperr.NotAuthorized("only the host can start the game")
		}

		if _, err := m.store.GetActiveGameForRoom(roomID); err == nil {
			return apperr.Conflict("room already has an active game")
		} else if !apperr.Is(err, apperr.CodeNotFound) {
			return err
		}

		online, err := m.store.ListOnlinePlayersInRoom(roomID)
		if err != nil {
			return err
		}
		if len(online) < m.cfg.MinPlayers {
			return apperr.Validation("need at least %d online players, have %d",
				m.cfg.MinPlayers, len(online))
		}

		queue := make([]uint, len(online))
		for i, p := range online {
			queue[i] = p.ID
		}
		m.shuffle(queue)

		game = &models.Game{
			RoomID:         roomID,
			Phase:          models.PhaseWordSubmission,
			RoundNumber:    1,
			WordGiverID:    queue[0],
			WordGiverQueue: queue[1:],
		}
		if err := m.store.CreateGame(game); err != nil {
			return err
		}

		m.logger.Info("game started",
			"game_id", game.ID,
			"room_id", roomID,
			"players", len(online),
			"word_giver", game.WordGiverID)

		m.hub.Broadcast(roomID, hub.Event{
			Type: hub.EventGameStarted,
			Payload: map[string]any{
				"game_id":       game.ID,
				"round":         game.RoundNumber,
				"phase":         game.Phase,
				"word_giver_id": game.WordGiverID,
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return game, nil
}

// SubmitWord records the round's word. Only the current word giver may
// submit, exactly once per round. The imposter is drawn uniformly from the
// currently-online players; the word giver is eligible. Everyone except the
// imposter sees the word, the imposter gets a placeholder.
func (m *Machine) SubmitWord(gameID, playerID uint, word string) error {
	return m.withGame(gameID, func(game *models.Game) error {
		if game.Phase != models.PhaseWordSubmission {
			return apperr.InvalidPhase("cannot submit a word in phase %s", game.Phase)
		}
		if playerID != game.WordGiverID {
			return apperr.NotAuthorized("only the word giver can submit the word")
		}
		if game.CurrentWord != "" {
			return apperr.Conflict("word already submitted this round")
		}

		word = strings.TrimSpace(word)
		if len(word) < wordMinLen || len(word) > wordMaxLen {
			return apperr.Validation("word length must be between %d and %d characters",
				wordMinLen, wordMaxLen)
		}

		online, err := m.store.ListOnlinePlayersInRoom(game.RoomID)
		if err != nil {
			return err
		}
		if len(online) == 0 {
			return apperr.Conflict("no online players left")
		}

		imposter := online[m.intn(len(online))].ID
		game.CurrentWord = word
		game.ImposterID = &imposter
		game.Phase = models.PhaseDiscussion
		if err := m.store.UpdateGame(game); err != nil {
			return err
		}

		m.logger.Info("word submitted, discussion begins",
			"game_id", game.ID,
			"round", game.RoundNumber)

		m.hub.BroadcastPersonalized(game.RoomID, func(pid uint) hub.Event {
			revealed := word
			if pid == imposter {
				revealed = wordPlaceholder
			}
			return hub.Event{
				Type: hub.EventWordRevealed,
				Payload: map[string]any{
					"game_id": game.ID,
					"round":   game.RoundNumber,
					"phase":   game.Phase,
					"word":    revealed,
				},
			}
		})

		m.armTimer(game.ID, game.RoomID, m.cfg.DiscussionDuration, func() {
			if err := m.StartVoting(game.ID); err != nil {
				m.logger.Warn("auto-advance to voting failed", "game_id", game.ID, "error", err)
			}
		})
		return nil
	})
}

// StartVoting moves the game from discussion into the voting phase. It is
// also invoked by the discussion countdown.
func (m *Machine) StartVoting(gameID uint) error {
	return m.withGame(gameID, func(game *models.Game) error {
		if game.Phase != models.PhaseDiscussion {
			return apperr.InvalidPhase("cannot start voting in phase %s", game.Phase)
		}

		game.Phase = models.PhaseVoting
		if err := m.store.UpdateGame(game); err != nil {
			return err
		}

		m.hub.Broadcast(game.RoomID, hub.Event{
			Type: hub.EventRoundAdvanced,
			Payload: map[string]any{
				"game_id": game.ID,
				"round":   game.RoundNumber,
				"phase":   game.Phase,
			},
		})

		m.armTimer(game.ID, game.RoomID, m.cfg.VotingDuration, func() {
			if err := m.forceTally(game.ID); err != nil {
				m.logger.Warn("voting timeout tally failed", "game_id", game.ID, "error", err)
			}
		})
		return nil
	})
}

// SubmitVote records one ballot. Voter and target must both be online
// members of the room, self-votes are rejected, and each player votes at
// most once. Once every online player has voted, tallying runs
// automatically.
func (m *Machine) SubmitVote(gameID, voterID, targetID uint) error {
	return m.withGame(gameID, func(game *models.Game) error {
		if game.Phase != models.PhaseVoting {
			return apperr.InvalidPhase("cannot vote in phase %s", game.Phase)
		}
		if voterID == targetID {
			return apperr.Validation("cannot vote for yourself")
		}

		online, err := m.store.ListOnlinePlayersInRoom(game.RoomID)
		if err != nil {
			return err
		}
		var voterOK, targetOK bool
		for _, p := range online {
			if p.ID == voterID {
				voterOK = true
			}
			if p.ID == targetID {
				targetOK = true
			}
		}
		if !voterOK {
			return apperr.NotAuthorized("voter is not an online player of this room")
		}
		if !targetOK {
			return apperr.Validation("vote target is not an online player of this room")
		}
		if game.HasVoted(voterID) {
			return apperr.Conflict("player has already voted this round")
		}

		game.Votes = append(game.Votes, models.Vote{VoterID: voterID, TargetID: targetID})
		if err := m.store.UpdateGame(game); err != nil {
			return err
		}

		m.hub.Broadcast(game.RoomID, hub.Event{
			Type: hub.EventVoteRecorded,
			Payload: map[string]any{
				"game_id":     game.ID,
				"voter_id":    voterID,
				"votes_cast":  len(game.Votes),
				"votes_total": len(online),
			},
		})

		if len(game.Votes) >= len(online) {
			return m.tally(game)
		}
		return nil
	})
}

// forceTally closes the voting phase with whatever ballots were cast; used
// by the voting countdown.
func (m *Machine) forceTally(gameID uint) error {
	return m.withGame(gameID, func(game *models.Game) error {
		if game.Phase != models.PhaseVoting {
			return nil // already advanced, stale timer
		}
		return m.tally(game)
	})
}

// tally determines the eliminated player and the round winner. The target
// with the most votes is eliminated; ties break toward the target whose
// earliest vote was cast first, so an identical vote sequence always
// reproduces the same outcome. With no ballots at all the imposter wins by
// default. Caller holds the room's serialization point.
func (m *Machine) tally(game *models.Game) error {
	counts := make(map[uint]int)
	firstCast := make(map[uint]int) // targetID -> index of its earliest vote
	for i, v := range game.Votes {
		counts[v.TargetID]++
		if _, seen := firstCast[v.TargetID]; !seen {
			firstCast[v.TargetID] = i
		}
	}

	var eliminated uint
	var eliminatedSet bool
	for target, n := range counts {
		if !eliminatedSet {
			eliminated, eliminatedSet = target, true
			continue
		}
		switch {
		case n > counts[eliminated]:
			eliminated = target
		case n == counts[eliminated] && firstCast[target] < firstCast[eliminated]:
			eliminated = target
		}
	}

	winner := models.WinnerImposter
	if eliminatedSet && game.ImposterID != nil && eliminated == *game.ImposterID {
		winner = models.WinnerPlayers
	}

	game.Phase = models.PhaseResults
	game.Winner = winner
	if err := m.store.UpdateGame(game); err != nil {
		return err
	}

	m.cancelTimer(game.ID)

	m.logger.Info("round tallied",
		"game_id", game.ID,
		"round", game.RoundNumber,
		"eliminated", eliminated,
		"winner", winner)

	payload := map[string]any{
		"game_id": game.ID,
		"round":   game.RoundNumber,
		"phase":   game.Phase,
		"winner":  winner,
	}
	if eliminatedSet {
		payload["eliminated_id"] = eliminated
	}
	if game.ImposterID != nil {
		payload["imposter_id"] = *game.ImposterID
	}
	m.hub.Broadcast(game.RoomID, hub.Event{
		Type:    hub.EventRoundAdvanced,
		Payload: payload,
	})
	return nil
}

// NextRound advances past the results: the next queued player becomes word
// giver and per-round state is cleared, or the game completes once the
// rotation queue is exhausted.
func (m *Machine) NextRound(gameID, requesterID uint) error {
	return m.withGame(gameID, func(game *models.Game) error {
		if game.Phase != models.PhaseResults {
			return apperr.InvalidPhase("cannot advance the round in phase %s", game.Phase)
		}
		requester, err := m.store.GetPlayer(requesterID)
		if err != nil {
			return err
		}
		if requester.RoomID != game.RoomID {
			return apperr.NotAuthorized("player is not in this room")
		}

		if len(game.WordGiverQueue) == 0 {
			return m.complete(game, "rotation complete")
		}

		game.WordGiverID = game.WordGiverQueue[0]
		game.WordGiverQueue = game.WordGiverQueue[1:]
		game.RoundNumber++
		game.CurrentWord = ""
		game.ImposterID = nil
		game.Votes = nil
		game.Winner = ""
		game.Phase = models.PhaseWordSubmission
		if err := m.store.UpdateGame(game); err != nil {
			return err
		}

		m.cancelTimer(game.ID)

		m.hub.Broadcast(game.RoomID, hub.Event{
			Type: hub.EventRoundAdvanced,
			Payload: map[string]any{
				"game_id":       game.ID,
				"round":         game.RoundNumber,
				"phase":         game.Phase,
				"word_giver_id": game.WordGiverID,
			},
		})
		return nil
	})
}

// End force-completes the game from any non-terminal phase. Only the host
// may end a game by hand; system teardown passes system=true. Ending an
// already-completed game is a no-op, no duplicate game_ended fires.
func (m *Machine) End(gameID, requesterID uint, system bool) error {
	return m.withGame(gameID, func(game *models.Game) error {
		if game.Phase.Terminal() {
			return nil
		}
		if !system {
			requester, err := m.store.GetPlayer(requesterID)
			if err != nil {
				return err
			}
			if requester.RoomID != game.RoomID || !requester.IsHost {
				return apperr.NotAuthorized("only the host can end the game")
			}
		}
		return m.complete(game, "ended")
	})
}

// complete marks the game terminal. Caller holds the serialization point.
func (m *Machine) complete(game *models.Game, reason string) error {
	game.Phase = models.PhaseCompleted
	if err := m.store.UpdateGame(game); err != nil {
		return err
	}

	m.cancelTimer(game.ID)

	m.logger.Info("game completed", "game_id", game.ID, "reason", reason)

	m.hub.Broadcast(game.RoomID, hub.Event{
		Type: hub.EventGameEnded,
		Payload: map[string]any{
			"game_id": game.ID,
			"reason":  reason,
		},
	})
	return nil
}

// withGame loads the game, then re-loads and runs fn under its room's
// serialization point. The first load only resolves the room id; fn sees
// the serialized, current row.
func (m *Machine) withGame(gameID uint, fn func(*models.Game) error) error {
	peek, err := m.store.GetGame(gameID)
	if err != nil {
		return err
	}
	return m.serializer.WithRoom(peek.RoomID, func() error {
		game, err := m.store.GetGame(gameID)
		if err != nil {
			return err
		}
		return fn(game)
	})
}

// armTimer schedules a phase countdown for the game, replacing any timer
// left over from the previous phase so a stale timeout can never fire
// against a phase that has already advanced.
func (m *Machine) armTimer(gameID, roomID uint, d time.Duration, fire func()) {
	if d <= 0 {
		return
	}

	m.timerMu.Lock()
	defer m.timerMu.Unlock()

	if old, ok := m.timers[gameID]; ok {
		old.Stop()
	}
	m.timers[gameID] = time.AfterFunc(d, fire)
}

func (m *Machine) cancelTimer(gameID uint) {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()

	if t, ok := m.timers[gameID]; ok {
		t.Stop()
		delete(m.timers, gameID)
	}
}

// Stop cancels all pending phase timers.
func (m *Machine) Stop() {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()

	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
}

func (m *Machine) shuffle(ids []uint) {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	m.rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
}

func (m *Machine) intn(n int) int {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return m.rng.Intn(n)
}
