package billing

import "errors"

// Error kinds crossing the engine boundary. Gateway and persistence failures
// are converted to one of these (or to mercadopago.ErrUnavailable /
// mercadopago.ErrRejected / secrets.ErrDecryption) before ProcessEvent
// returns; raw I/O errors never escape.
var (
	// ErrSignatureInvalid marks an event that failed webhook authentication.
	// Such events are stored for audit but never processed automatically.
	ErrSignatureInvalid = errors.New("billing: webhook signature invalid")

	// ErrConcurrentModification means the per-user lock could not be acquired
	// within the bound. The event is left unprocessed for the scheduler
	// instead of retrying inline.
	ErrConcurrentModification = errors.New("billing: concurrent modification, processing deferred")

	// ErrUnknownPaymentReference marks an event referencing a payment that was
	// not initiated through this system. A stub payment row is created so the
	// money is not silently dropped.
	ErrUnknownPaymentReference = errors.New("billing: unknown payment reference")
)
