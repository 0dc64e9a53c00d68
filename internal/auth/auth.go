// Package auth carries caller identity through a context.Context.
//
// Three kinds of authority exist:
//   - signers: identities that authenticated at the edge (bearer token);
//   - the invoker: the component that made the current in-process call;
//   - grants: single-use, amount-scoped permissions one component hands to
//     another for exactly one ledger debit.
//
// Argument authorizations narrow an invoker's authority to a specific set
// of call arguments, identified by a BLAKE2b fingerprint.
package auth

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

var (
	// ErrUnauthorized is returned when an identity has not authorized the call.
	ErrUnauthorized = errors.New("auth: caller has not authorized this call")

	// ErrArgsMismatch is returned when an argument authorization exists but
	// covers different arguments.
	ErrArgsMismatch = errors.New("auth: authorization does not cover these arguments")
)

// Verifier checks whether an identity authorized the current call.
type Verifier interface {
	RequireAuth(ctx context.Context, id string) error
	RequireAuthForArgs(ctx context.Context, id string, args ...any) error
}

type (
	signersKey struct{}
	invokerKey struct{}
	argsKey    struct{}
)

// WithSigner adds ids to the context's signer set.
func WithSigner(ctx context.Context, ids ...string) context.Context {
	prev, _ := ctx.Value(signersKey{}).(map[string]bool)
	next := make(map[string]bool, len(prev)+len(ids))
	for id := range prev {
		next[id] = true
	}
	for _, id := range ids {
		next[id] = true
	}
	return context.WithValue(ctx, signersKey{}, next)
}

// IsSigner reports whether id signed the request carried by ctx.
func IsSigner(ctx context.Context, id string) bool {
	signers, _ := ctx.Value(signersKey{}).(map[string]bool)
	return signers[id]
}

// Signers returns the signer set in no particular order.
func Signers(ctx context.Context) []string {
	signers, _ := ctx.Value(signersKey{}).(map[string]bool)
	out := make([]string, 0, len(signers))
	for id := range signers {
		out = append(out, id)
	}
	return out
}

// WithInvoker records id as the direct caller of whatever ctx is passed to.
// It also drops argument authorizations made by the previous invoker.
func WithInvoker(ctx context.Context, id string) context.Context {
	ctx = context.WithValue(ctx, argsKey{}, argAuth{})
	return context.WithValue(ctx, invokerKey{}, id)
}

// Invoker returns the direct caller, or "" at the edge.
func Invoker(ctx context.Context) string {
	id, _ := ctx.Value(invokerKey{}).(string)
	return id
}

type argAuth struct {
	id          string
	fingerprint string
}

// WithArgs records that id authorizes the next call only for args.
func WithArgs(ctx context.Context, id string, args ...any) context.Context {
	return context.WithValue(ctx, argsKey{}, argAuth{id: id, fingerprint: Fingerprint(args...)})
}

// Fingerprint hashes a call's arguments.
func Fingerprint(args ...any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprintf("%T=%v", a, a)
	}
	sum := blake2b.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// ContextVerifier authorizes from the signers, invoker and argument
// authorizations carried in the context.
type ContextVerifier struct{}

// RequireAuth passes if id is a signer or the direct invoker.
func (ContextVerifier) RequireAuth(ctx context.Context, id string) error {
	if id != "" && (IsSigner(ctx, id) || Invoker(ctx) == id) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnauthorized, id)
}

// RequireAuthForArgs passes if id signed the request, or if id recorded an
// argument authorization matching args.
func (ContextVerifier) RequireAuthForArgs(ctx context.Context, id string, args ...any) error {
	if IsSigner(ctx, id) {
		return nil
	}
	a, _ := ctx.Value(argsKey{}).(argAuth)
	if a.id != id {
		return fmt.Errorf("%w: %s", ErrUnauthorized, id)
	}
	if a.fingerprint != Fingerprint(args...) {
		return fmt.Errorf("%w: %s", ErrArgsMismatch, id)
	}
	return nil
}
