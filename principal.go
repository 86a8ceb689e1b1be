package orbit

import (
	"context"
	"fmt"

	"github.com/creachadair/mds/mapset"
)

// A UserPrincipal identifies the caller of an RPC, resolved from the
// broker-validated user header of an ingress message.
type UserPrincipal struct {
	Name        string
	Permissions mapset.Set[string]
}

// Can reports whether p holds the named permission.
func (p UserPrincipal) Can(permission string) bool { return p.Permissions.Has(permission) }

// String implements fmt.Stringer.
func (p UserPrincipal) String() string { return p.Name }

// NodePrincipal is the special principal substituted when the validated
// user name equals the server's own legal identity and no RPC user record
// exists for it. It carries no permissions beyond what dispatch grants it
// implicitly; host methods that need to distinguish node calls should check
// for it explicitly by name.
var NodePrincipal = UserPrincipal{Name: "NODE"}

// ErrUnknownUser is returned by a UserResolver when the validated user name
// does not correspond to any known RPC user.
var ErrUnknownUser = fmt.Errorf("unknown user")

// A UserResolver resolves a broker-validated user name to a UserPrincipal.
// The server's own legal name is supplied separately so the resolver (or
// the caller of Resolve) can recognize the NodePrincipal case; Resolve
// itself only needs to report ErrUnknownUser for names it does not
// recognize as ordinary RPC users.
type UserResolver interface {
	Resolve(ctx context.Context, validatedUser string) (UserPrincipal, error)
}

// ResolveFunc adapts a function to the UserResolver interface.
type ResolveFunc func(ctx context.Context, validatedUser string) (UserPrincipal, error)

// Resolve implements the UserResolver interface.
func (f ResolveFunc) Resolve(ctx context.Context, validatedUser string) (UserPrincipal, error) {
	return f(ctx, validatedUser)
}
