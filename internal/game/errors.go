package game

import "errors"

// Action and registry errors surfaced to the offending connection as an
// error event. None of them alter state. A mine hit is not an error; it
// is a scored game outcome.
var (
	ErrNotFound      = errors.New("game not found")
	ErrAlreadyExists = errors.New("game already exists")
	ErrNotInGame     = errors.New("player not in game")
	ErrGameOver      = errors.New("game is over")
	ErrLockedOut     = errors.New("player is locked out")
	ErrInvalidInput  = errors.New("invalid input")
)

// CodeFor maps an error to its wire code.
func CodeFor(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrAlreadyExists):
		return "AlreadyExists"
	case errors.Is(err, ErrNotInGame):
		return "NotInGame"
	case errors.Is(err, ErrGameOver):
		return "GameOver"
	case errors.Is(err, ErrLockedOut):
		return "LockedOut"
	case errors.Is(err, ErrInvalidInput):
		return "InvalidInput"
	default:
		return "Internal"
	}
}
