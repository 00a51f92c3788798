package ledger

import "github.com/rotisserie/eris"

var (
	// ErrInvalidPrediction marks a prediction that fails input validation.
	ErrInvalidPrediction = eris.New("invalid prediction")
	// ErrAlreadyValidated marks an attempt to re-resolve a terminal prediction.
	ErrAlreadyValidated = eris.New("prediction already validated")
	// ErrNotFound marks a lookup for a prediction that does not exist.
	ErrNotFound = eris.New("prediction not found")
)
