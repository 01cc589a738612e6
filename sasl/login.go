package sasl

// Login state constants
const (
	loginStateUsername = iota
	loginStatePassword
	loginStateDone
)

// Login implements the LOGIN SASL mechanism.
// DEPRECATED: Use PLAIN instead. Only for legacy server compatibility.
type Login struct {
	state int
	creds *Credentials
}

// NewLogin creates a LOGIN mechanism for creds.
func NewLogin(creds *Credentials) *Login {
	return &Login{creds: creds}
}

// Name returns "LOGIN".
func (l *Login) Name() string {
	return "LOGIN"
}

// Start sends no initial response; LOGIN waits for the "Username:" prompt.
func (l *Login) Start() ([]byte, error) {
	if l.creds == nil || l.creds.AuthenticationID == "" {
		return nil, ErrMissingCredentials
	}
	l.state = loginStateUsername
	return nil, nil
}

// Next answers the username prompt, then the password prompt. The prompt
// text is not checked since servers word it differently.
func (l *Login) Next(challenge []byte) ([]byte, error) {
	switch l.state {
	case loginStateUsername:
		l.state = loginStatePassword
		return []byte(l.creds.AuthenticationID), nil
	case loginStatePassword:
		l.state = loginStateDone
		return []byte(l.creds.Password), nil
	default:
		return nil, ErrUnexpectedChallenge
	}
}
