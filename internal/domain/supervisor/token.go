package supervisor

import "context"

// Token proves the process was ready for one generation. Tokens are meant to
// be used immediately and not kept across requests.
type Token struct {
	s          *Supervisor
	Generation uint64
}

// Valid reports whether the token still names the running generation.
func (t Token) Valid() bool {
	if t.s == nil {
		return false
	}
	_, err := t.s.process(t.Generation)
	return err == nil
}

// Call hands requestText to the process of the token's generation.
func (t Token) Call(ctx context.Context, requestText string) (string, error) {
	if t.s == nil {
		return "", ErrStaleToken
	}
	proc, err := t.s.process(t.Generation)
	if err != nil {
		return "", err
	}
	return proc.Call(ctx, requestText)
}
