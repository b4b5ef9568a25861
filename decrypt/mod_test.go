package decrypt

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/sondage/core/access"
	"go.dedis.ch/sondage/core/access/acl"
	"go.dedis.ch/sondage/fhe"
	"go.dedis.ch/sondage/fhe/naive"
	"go.dedis.ch/sondage/internal/testing/fake"
)

func TestService_Reveal(t *testing.T) {
	actor, err := naive.NewCapability().Listen("deadbeef")
	require.NoError(t, err)

	x, err := actor.Constant(3)
	require.NoError(t, err)

	y, err := actor.Constant(4)
	require.NoError(t, err)

	aclSrvc := acl.NewService()
	snap := fake.NewSnapshot()

	alice := access.TextIdentity("alice")
	bob := access.TextIdentity("bob")

	for _, h := range []fhe.Handle{x, y} {
		err = aclSrvc.Grant(snap, makeCreds(h), alice)
		require.NoError(t, err)
	}

	srvc := NewService(aclSrvc, actor, makeCreds)

	values, err := srvc.Reveal(snap, alice, x, y)
	require.NoError(t, err)
	require.Equal(t, []uint64{3, 4}, values)

	// A requester without a grant is refused before anything is decrypted.
	_, err = srvc.Reveal(snap, bob, x, y)
	require.EqualError(t, err, "handle '"+x.String()+"' refused: "+
		"identity 'bob' is not authorized for rule 'contract:decrypt'")

	// A single missing grant refuses the whole request.
	z, err := actor.Constant(5)
	require.NoError(t, err)

	_, err = srvc.Reveal(snap, alice, x, z)
	require.Regexp(t, "^handle '"+z.String()+"' refused: credential", err.Error())
}

func TestService_BadActor_Reveal(t *testing.T) {
	actor, err := naive.NewCapability().Listen("deadbeef")
	require.NoError(t, err)

	aclSrvc := acl.NewService()
	snap := fake.NewSnapshot()

	alice := access.TextIdentity("alice")

	unknown := fhe.Handle("nope")

	err = aclSrvc.Grant(snap, makeCreds(unknown), alice)
	require.NoError(t, err)

	srvc := NewService(aclSrvc, actor, makeCreds)

	_, err = srvc.Reveal(snap, alice, unknown)
	require.EqualError(t, err,
		"failed to reveal handle '6e6f7065': unknown handle '6e6f7065'")
}

func makeCreds(h fhe.Handle) access.Credential {
	return access.NewContractCreds(h.Bytes(), "contract", "decrypt")
}
