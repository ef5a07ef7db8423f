package ws

import "wordimposter/backend/internal/models"

// CommandType enumerates every client command. The dispatcher switches over
// this closed set exhaustively; an unlisted type is a validation error, not
// a silent no-op.
type CommandType string

const (
	CmdJoinRoom    CommandType = "join_room"
	CmdLeaveRoom   CommandType = "leave_room"
	CmdUpdateRoom  CommandType = "update_room"
	CmdStartGame   CommandType = "start_game"
	CmdSubmitWord  CommandType = "submit_word"
	CmdStartVoting CommandType = "start_voting"
	CmdSubmitVote  CommandType = "submit_vote"
	CmdNextRound   CommandType = "next_round"
	CmdEndGame     CommandType = "end_game"
	CmdChat        CommandType = "chat"
)

// Command is the tagged union of client messages: exactly one payload field
// is set, matching Type.
type Command struct {
	Type CommandType `json:"type"`

	JoinRoom   *JoinRoomPayload   `json:"join_room,omitempty"`
	UpdateRoom *UpdateRoomPayload `json:"update_room,omitempty"`
	SubmitWord *SubmitWordPayload `json:"submit_word,omitempty"`
	SubmitVote *SubmitVotePayload `json:"submit_vote,omitempty"`
	Chat       *ChatPayload       `json:"chat,omitempty"`
}

type JoinRoomPayload struct {
	Code string `json:"code"`
}

type UpdateRoomPayload struct {
	Name       *string            `json:"name,omitempty"`
	Visibility *models.Visibility `json:"visibility,omitempty"`
	Capacity   *int               `json:"capacity,omitempty"`
}

type SubmitWordPayload struct {
	Word string `json:"word"`
}

type SubmitVotePayload struct {
	TargetID uint `json:"target_id"`
}

type ChatPayload struct {
	Text string `json:"text"`
}
