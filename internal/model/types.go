package model

import "time"

type Referral string

const (
	ReferralNone    Referral = ""
	ReferralGold    Referral = "gold"
	ReferralRegular Referral = "regular"
)

// IdentityState is the persisted per-identity record. It is always written
// whole; loops only ever touch their own subset of fields.
type IdentityState struct {
	Referred                     Referral `json:"referred"`
	Acknowledged                 bool     `json:"acknowledged"`
	RegisteredInCompanionChannel bool     `json:"registeredInCompanionChannel"`
	SquadName                    string   `json:"squadName,omitempty"`
	InSquad                      bool     `json:"inSquad"`

	LastClickTime    time.Time `json:"lastClickTime"`
	LastSleepTime    time.Time `json:"lastSleepTime"`
	SleepTimeSeconds int64     `json:"sleepTimeSeconds"`

	LastBetTime         time.Time `json:"lastBetTime"`
	BetSleepTimeSeconds float64   `json:"betSleepTimeSeconds"`

	CompletedTasks []string `json:"completedTasks"`

	Balance         float64   `json:"balance"`
	Streak          int       `json:"streak"`
	FlappyScore     int       `json:"flappyScore"`
	DinoScore       int       `json:"dinoScore"`
	WalletConnected bool      `json:"walletConnected"`
	Banned          bool      `json:"banned"`
	UpgradedEmpire  bool      `json:"upgradedEmpire"`
	ReferralCode    string    `json:"referralCode,omitempty"`
	LastLoginTime   time.Time `json:"lastLoginTime"`
	UserAgent       string    `json:"userAgent,omitempty"`
}

func (s *IdentityState) HasCompleted(id string) bool {
	for _, t := range s.CompletedTasks {
		if t == id {
			return true
		}
	}
	return false
}

// MarkCompleted appends id unless it is already present.
func (s *IdentityState) MarkCompleted(id string) bool {
	if s.HasCompleted(id) {
		return false
	}
	s.CompletedTasks = append(s.CompletedTasks, id)
	return true
}

func (s IdentityState) Clone() IdentityState {
	out := s
	if s.CompletedTasks != nil {
		out.CompletedTasks = append([]string(nil), s.CompletedTasks...)
	}
	return out
}

// TokenSet is issued by a single login exchange. The four opaque fields are
// only valid together.
type TokenSet struct {
	BearerToken       string
	SubscribeToken    string
	SubSubscribeToken string
	ChannelUserID     string
	ExpiresAt         time.Time
}

func (t TokenSet) Complete() bool {
	return t.BearerToken != "" && t.SubscribeToken != "" && t.SubSubscribeToken != "" && t.ChannelUserID != ""
}
