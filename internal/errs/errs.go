package errs

import "errors"

// Kind classifies a ledger failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuthorization
	KindState
	KindResource
	KindReentrancy
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindState:
		return "state"
	case KindResource:
		return "resource"
	case KindReentrancy:
		return "reentrancy"
	default:
		return "unknown"
	}
}

// Error is a sentinel ledger error tagged with its Kind.
type Error struct {
	kind Kind
	msg  string
}

func newError(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string { return e.msg }

// Kind returns the category of the error.
func (e *Error) Kind() Kind { return e.kind }

var (
	ErrZeroAmount      = newError(KindValidation, "zero amount")
	ErrInvalidReceiver = newError(KindValidation, "invalid receiver")
	ErrInvalidArgument = newError(KindValidation, "invalid argument")
	ErrFeeTooHigh      = newError(KindValidation, "fee too high")
	ErrZeroShares      = newError(KindValidation, "zero shares")
	ErrOverflow        = newError(KindValidation, "arithmetic overflow")

	ErrUnauthorized = newError(KindAuthorization, "unauthorized")

	ErrPaused             = newError(KindState, "paused")
	ErrNotPaused          = newError(KindState, "not paused")
	ErrAlreadyInitialized = newError(KindState, "already initialized")
	ErrNotInitialized     = newError(KindState, "not initialized")
	ErrAlreadyRegistered  = newError(KindState, "strategy already registered")
	ErrUnknownStrategy    = newError(KindState, "unknown strategy")
	ErrUnknownPool        = newError(KindState, "unknown pool")
	ErrNonzeroDebt        = newError(KindState, "strategy has nonzero debt")
	ErrExceedsCeiling     = newError(KindState, "target debt exceeds ceiling")
	ErrReportTooSoon      = newError(KindState, "report too soon")
	ErrShutdown           = newError(KindState, "shut down")
	ErrNotShutdown        = newError(KindState, "not shut down")
	ErrAddressCollision   = newError(KindState, "address collision")
	ErrNoBackingAssets    = newError(KindState, "shares outstanding with no backing assets")

	ErrInsufficientIdle      = newError(KindResource, "insufficient idle")
	ErrInsufficientLiquidity = newError(KindResource, "insufficient liquidity")
	ErrInsufficientBalance   = newError(KindResource, "insufficient balance")
	ErrInsufficientAllowance = newError(KindResource, "insufficient allowance")
	ErrInsufficientAssets    = newError(KindResource, "insufficient assets")

	ErrReentrant = newError(KindReentrancy, "reentrant call")
)

// KindOf reports the category of the first ledger error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindUnknown
}
