package service

import "errors"

var (
	ErrGeneration  = errors.New("generation failed")
	ErrDelivery    = errors.New("delivery failed")
	ErrPersistence = errors.New("commit failed")
)

// Stage names the step of a run that failed.
type Stage string

const (
	StageGeneration  Stage = "generation"
	StageDelivery    Stage = "delivery"
	StagePersistence Stage = "persistence"
)
