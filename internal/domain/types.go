package domain

import (
	"errors"
	"strings"
	"time"
)

type RecipientKind string

const (
	KindUser    RecipientKind = "user"
	KindContact RecipientKind = "contact"
)

// Recipient is a platform contact eligible to receive a message. ID is the identity;
// everything else is informational.
type Recipient struct {
	ID           string        `json:"id"`
	Kind         RecipientKind `json:"kind"`
	Email        string        `json:"email,omitempty"`
	DisplayName  string        `json:"displayName,omitempty"`
	LastActiveAt *time.Time    `json:"lastActiveAt,omitempty"`
}

type Segment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type SendStatus string

const (
	SendSuccess SendStatus = "success"
	SendFailure SendStatus = "failure"
)

type SendOutcome struct {
	RecipientID string     `json:"recipientId"`
	Status      SendStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
}

type Mode string

const (
	ModeAllUsers    Mode = "all"
	ModeActiveUsers Mode = "active"
	ModeTestUsers   Mode = "test"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAllUsers:
		return ModeAllUsers, nil
	case ModeActiveUsers:
		return ModeActiveUsers, nil
	case ModeTestUsers:
		return ModeTestUsers, nil
	}
	return "", &ConfigError{Field: "RUN_MODE", Reason: "unknown run mode " + s}
}

// Token is one trending market entry shown in the image and the summary table.
type Token struct {
	Name           string  `json:"name"`
	Symbol         string  `json:"symbol"`
	PriceUSD       float64 `json:"priceUsd"`
	MarketCapUSD   float64 `json:"marketCapUsd"`
	Volume24hUSD   float64 `json:"volume24hUsd"`
	PriceChange24h float64 `json:"priceChange24h"`
	LiquidityUSD   float64 `json:"liquidityUsd"`
	DexName        string  `json:"dexName"`
	Address        string  `json:"address"`
	ImageURL       string  `json:"imageUrl"`
	Holders        int     `json:"holders"`
}

// ErrRunInProgress means another run holds the run lock; the caller skips this run.
var ErrRunInProgress = errors.New("run already in progress")
