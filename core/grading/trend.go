package grading

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ErrInsufficientHistory is returned instead of inventing prior-term figures.
var ErrInsufficientHistory = errors.New("insufficient historical data")

type Direction string

const (
	DirectionUp     Direction = "up"
	DirectionDown   Direction = "down"
	DirectionSteady Direction = "steady"
)

type Trend struct {
	Previous  decimal.Decimal `json:"previous"`
	Current   decimal.Decimal `json:"current"`
	Delta     decimal.Decimal `json:"delta"`
	Direction Direction       `json:"direction"`
}

// CompareTerms compares a score with the same score of the previous term.
func CompareTerms(previous *decimal.Decimal, current decimal.Decimal) (Trend, error) {
	if previous == nil {
		return Trend{}, ErrInsufficientHistory
	}
	t := Trend{Previous: *previous, Current: current, Delta: current.Sub(*previous), Direction: DirectionSteady}
	switch t.Delta.Sign() {
	case 1:
		t.Direction = DirectionUp
	case -1:
		t.Direction = DirectionDown
	}
	return t, nil
}
