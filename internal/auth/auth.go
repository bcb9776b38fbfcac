// Package auth decides whether an HTTP caller is an authenticated operator.
// Session issuance lives elsewhere; here we only check an opaque bearer token.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var ErrUnauthenticated = errors.New("auth: caller is not an authenticated operator")

// Authenticator returns the operator identity behind r.
type Authenticator interface {
	Operator(r *http.Request) (string, error)
}

type tokenEntry struct {
	operator string
	token    []byte
}

// TokenAuthenticator accepts "Authorization: Bearer <token>" for a fixed set of operators.
type TokenAuthenticator struct {
	entries []tokenEntry
}

// ParseTokens reads "alice=tok1,bob=tok2".
func ParseTokens(mapStr string) (*TokenAuthenticator, error) {
	ta := &TokenAuthenticator{}
	seen := map[string]bool{}
	for _, p := range strings.Split(mapStr, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid OPERATOR_TOKENS entry: %q", p)
		}
		op, tok := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		if op == "" || tok == "" {
			return nil, fmt.Errorf("invalid OPERATOR_TOKENS entry: %q", p)
		}
		if seen[tok] {
			return nil, fmt.Errorf("OPERATOR_TOKENS: token for %q already assigned", op)
		}
		seen[tok] = true
		ta.entries = append(ta.entries, tokenEntry{operator: op, token: []byte(tok)})
	}
	return ta, nil
}

// Operators is the number of configured operators.
func (a *TokenAuthenticator) Operators() int { return len(a.entries) }

func (a *TokenAuthenticator) Operator(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrUnauthenticated
	}
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return "", ErrUnauthenticated
	}
	found := ""
	for _, e := range a.entries {
		// confronto a tempo costante su tutte le voci
		if subtle.ConstantTimeCompare(e.token, []byte(tok)) == 1 {
			found = e.operator
		}
	}
	if found == "" {
		return "", ErrUnauthenticated
	}
	return found, nil
}

// Func adapts a plain function, e.g. a trusted upstream proxy header check.
type Func func(r *http.Request) (string, error)

func (f Func) Operator(r *http.Request) (string, error) { return f(r) }
