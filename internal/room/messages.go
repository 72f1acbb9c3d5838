package room

// ClientMessage is the single tagged-union struct every inbound WebSocket
// frame decodes into, the same shape as the teacher's ClientMessage in
// celebrity.go: one struct, one discriminating Type field, every
// variant-specific field marked omitempty.
type ClientMessage struct {
	Type string `json:"type"`

	// JoinRoom
	RoomID string `json:"room_id,omitempty"`
	Name   string `json:"name,omitempty"`
	Token  string `json:"token,omitempty"`

	// KickPlayer / SetModerator / SetObserver target
	Player string `json:"player,omitempty"`

	// SetModerator.enabled / SetObserver.enabled / SetAllowMidgameJoin.enabled
	Enabled *bool `json:"enabled,omitempty"`

	// ActivePlayerChooseCard / PlayerChooseCard / Vote
	Card        Card   `json:"card,omitempty"`
	Description string `json:"description,omitempty"`
}

// Client message type discriminators.
const (
	MsgJoinRoom                = "JoinRoom"
	MsgReady                   = "Ready"
	MsgStartGame                = "StartGame"
	MsgLeaveRoom                = "LeaveRoom"
	MsgPing                     = "Ping"
	MsgKickPlayer               = "KickPlayer"
	MsgSetModerator             = "SetModerator"
	MsgSetObserver              = "SetObserver"
	MsgSetAllowMidgameJoin      = "SetAllowMidgameJoin"
	MsgResumeGame               = "ResumeGame"
	MsgRequestJoinFromObserver  = "RequestJoinFromObserver"
	MsgActivePlayerChooseCard   = "ActivePlayerChooseCard"
	MsgPlayerChooseCard         = "PlayerChooseCard"
	MsgVote                     = "Vote"
)

// ServerMessage is any outbound message placed on a mailbox, mirroring the
// teacher's `send chan any`: each concrete message struct below carries its
// own Type field and is encoded as-is by the session layer's WriteJSON.
type ServerMessage = any

// RoomStateMsg is the full broadcast snapshot: self-sufficient so a client
// can always recover after a missed broadcast.
type RoomStateMsg struct {
	Type                   string          `json:"type"`
	RoomID                 string          `json:"room_id"`
	Players                map[string]Player   `json:"players"`
	Observers              map[string]Observer `json:"observers"`
	Creator                string          `json:"creator,omitempty"`
	Moderators             []string        `json:"moderators"`
	Stage                  Stage           `json:"stage"`
	ActivePlayer           int             `json:"active_player"`
	PlayerOrder            []string        `json:"player_order"`
	Round                  uint16          `json:"round"`
	CardsRemaining         int             `json:"cards_remaining"`
	DeckRefillCount        uint32          `json:"deck_refill_count"`
	WinCondition           WinCondition    `json:"win_condition"`
	AllowNewPlayersMidgame bool            `json:"allow_new_players_midgame"`
	PausedReason           string          `json:"paused_reason,omitempty"`
}

const MsgTypeRoomState = "RoomState"

type StartRoundMsg struct {
	Type string `json:"type"`
	Hand []Card `json:"hand"`
}

const MsgTypeStartRound = "StartRound"

type PlayersChooseMsg struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Hand        []Card `json:"hand"`
}

const MsgTypePlayersChoose = "PlayersChoose"

type BeginVotingMsg struct {
	Type         string `json:"type"`
	CenterCards  []Card `json:"center_cards"`
	Description  string `json:"description"`
	DisabledCard *Card  `json:"disabled_card,omitempty"`
}

const MsgTypeBeginVoting = "BeginVoting"

type ResultsMsg struct {
	Type                string            `json:"type"`
	PlayerToVote        map[string]Card   `json:"player_to_vote"`
	PlayerToCurrentCard map[string]Card   `json:"player_to_current_card"`
	ActiveCard          Card              `json:"active_card"`
	PointChange         map[string]uint16 `json:"point_change"`
}

const MsgTypeResults = "Results"

type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewErrorMsg(message string) ErrorMsg {
	return ErrorMsg{Type: "ErrorMsg", Message: message}
}

type LeftRoomMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func NewLeftRoomMsg(reason string) LeftRoomMsg {
	return LeftRoomMsg{Type: "LeftRoom", Reason: reason}
}

type KickedMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func NewKickedMsg(reason string) KickedMsg {
	return KickedMsg{Type: "Kicked", Reason: reason}
}

type InvalidRoomIDMsg struct {
	Type string `json:"type"`
}

func NewInvalidRoomIDMsg() InvalidRoomIDMsg {
	return InvalidRoomIDMsg{Type: "InvalidRoomId"}
}

type EndGameMsg struct {
	Type string `json:"type"`
}

func NewEndGameMsg() EndGameMsg {
	return EndGameMsg{Type: "EndGame"}
}
