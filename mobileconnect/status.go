package mobileconnect

// Kind tags a Status variant.
type Kind string

const (
	KindError                 Kind = "error"
	KindOperatorSelection     Kind = "operator_selection"
	KindStartDiscovery        Kind = "start_discovery"
	KindReadyToAuthenticate   Kind = "ready_to_authenticate"
	KindAuthorizationRedirect Kind = "authorization"
	KindComplete              Kind = "complete"
)

// Status is the result of every flow step. It is implemented only by the
// variants in this package; switch on the concrete type.
type Status interface {
	Kind() Kind
	isStatus()
}

// ErrorStatus ends the current step. Err keeps the underlying cause for
// logging and is nil for operator-reported errors.
type ErrorStatus struct {
	Code        string
	Description string
	Err         error
}

// OperatorSelectionStatus asks the host to send the user to URL to pick an
// operator.
type OperatorSelectionStatus struct {
	URL string
}

// StartDiscoveryStatus asks the host to begin discovery again, typically
// because the stored discovery result expired.
type StartDiscoveryStatus struct{}

// ReadyToAuthenticateStatus carries an identified discovery result.
type ReadyToAuthenticateStatus struct {
	DiscoveryResponse *DiscoveryResponse
	EncryptedMSISDN   string
	// SessionToken is set by Sessions.
	SessionToken string
}

// AuthorizationRedirectStatus asks the host to send the user agent to URL.
type AuthorizationRedirectStatus struct {
	URL        string
	ScreenMode string
	State      string
	Nonce      string
	// SessionToken is set by Sessions.
	SessionToken string
}

// CompleteStatus carries the validated token exchange.
type CompleteStatus struct {
	Authorization RedirectParams
	Token         *TokenResponse
	IDTokenClaims Document
	// SessionToken is set by Sessions.
	SessionToken string
}

func (ErrorStatus) Kind() Kind                 { return KindError }
func (OperatorSelectionStatus) Kind() Kind     { return KindOperatorSelection }
func (StartDiscoveryStatus) Kind() Kind        { return KindStartDiscovery }
func (ReadyToAuthenticateStatus) Kind() Kind   { return KindReadyToAuthenticate }
func (AuthorizationRedirectStatus) Kind() Kind { return KindAuthorizationRedirect }
func (CompleteStatus) Kind() Kind              { return KindComplete }

func (ErrorStatus) isStatus()                 {}
func (OperatorSelectionStatus) isStatus()     {}
func (StartDiscoveryStatus) isStatus()        {}
func (ReadyToAuthenticateStatus) isStatus()   {}
func (AuthorizationRedirectStatus) isStatus() {}
func (CompleteStatus) isStatus()              {}

func (e ErrorStatus) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

func (e ErrorStatus) Unwrap() error { return e.Err }

func errorStatus(err error) ErrorStatus {
	return ErrorStatus{Code: errorCode(err), Description: err.Error(), Err: err}
}
