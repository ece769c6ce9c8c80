package reconcile

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	vaulterrors "evovault/core/errors"
	"evovault/core/identity"
	"evovault/core/wallet"
	"evovault/crypto"
	"evovault/storage"
)

func newTestReconciler(t *testing.T, opts ...Option) (*Reconciler, *storage.Store) {
	t.Helper()
	store, err := storage.Open(storage.MemoryDSN(uuid.NewString()), storage.WithMetrics(nil))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	opts = append([]Option{WithMetrics(nil)}, opts...)
	r, err := New(store, opts...)
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}
	return r, store
}

func testIdentity(b byte, kind identity.IdentityType) *identity.QualifiedIdentity {
	qi := identity.NewQualifiedIdentity(identity.Identifier{b}, kind)
	qi.Balance = 1000 * uint64(b)
	qi.Revision = 1
	qi.AddPublicKey(identity.PublicKey{
		ID:            0,
		Purpose:       identity.PurposeAuthentication,
		SecurityLevel: identity.SecurityMaster,
		Type:          identity.KeyECDSASecp256k1,
		Data:          bytes.Repeat([]byte{b}, 33),
	})
	return qi
}

var identityFields = cmp.Options{
	cmpopts.EquateEmpty(),
}

func TestCreateLocalIdempotent(t *testing.T) {
	r, store := newTestReconciler(t)
	ctx := context.Background()
	qi := testIdentity(1, identity.User)
	for i := 0; i < 2; i++ {
		if err := r.CreateLocal(ctx, identity.Testnet, qi); err != nil {
			t.Fatalf("create local %d: %v", i, err)
		}
	}
	count, err := store.CountIdentities(ctx, identity.Testnet)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one row, got %d", count)
	}
}

func TestLocalIdentitiesScenarioNoWallet(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()
	i1 := testIdentity(2, identity.User)
	require.NoError(t, r.CreateLocal(ctx, identity.Testnet, i1))
	_, err := r.ObserveRemote(ctx, identity.Testnet, identity.Identifier{0x77}, nil)
	require.NoError(t, err)

	got, err := r.LocalIdentities(ctx, identity.Testnet, identity.TypeAny, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	if diff := cmp.Diff(i1, got[0], identityFields); diff != "" {
		t.Fatalf("listed identity mismatch (-want +got):\n%s", diff)
	}
	require.Empty(t, got[0].TopUps)
	require.Nil(t, got[0].Wallet)
}

func TestLocalIdentitiesScenarioWalletAndTopUps(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()
	w := &wallet.Wallet{SeedHash: wallet.SeedHash{0xa1}, Alias: "W"}
	i1 := testIdentity(3, identity.User)
	require.NoError(t, r.CreateLocalWithWallet(ctx, identity.Testnet, i1, w.SeedHash, 3))
	for index, amount := range map[uint32]uint32{0: 1000, 1: 2000} {
		recorded, err := r.RecordTopUp(ctx, i1.ID, index, amount)
		require.NoError(t, err)
		require.True(t, recorded)
	}
	recorded, err := r.RecordTopUp(ctx, i1.ID, 1, 5)
	require.NoError(t, err)
	require.False(t, recorded)

	got, err := r.LocalIdentities(ctx, identity.Testnet, identity.TypeAny, wallet.NewSet(w))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, map[uint32]uint32{0: 1000, 1: 2000}, got[0].TopUps)
	require.NotNil(t, got[0].WalletIndex)
	require.Equal(t, uint32(3), *got[0].WalletIndex)
	require.Same(t, w, got[0].Wallet)
}

func TestCreateLocalInCreationMarksRow(t *testing.T) {
	r, store := newTestReconciler(t)
	ctx := context.Background()
	qi := testIdentity(4, identity.User)
	require.NoError(t, r.CreateLocalInCreation(ctx, identity.Devnet, qi, wallet.SeedHash{0x01}, 0))

	row, err := store.GetIdentity(ctx, qi.ID, identity.Devnet)
	require.NoError(t, err)
	require.True(t, row.IsInCreation)
	require.True(t, row.IsLocal)
	require.NotNil(t, row.WalletIndex)
	require.Zero(t, *row.WalletIndex)

	require.NoError(t, r.CreateLocalWithWallet(ctx, identity.Devnet, qi, wallet.SeedHash{0x01}, 0))
	row, err = store.GetIdentity(ctx, qi.ID, identity.Devnet)
	require.NoError(t, err)
	require.False(t, row.IsInCreation, "replace clears the in-creation flag")
}

func TestUpdateLocalMissingRecord(t *testing.T) {
	r, store := newTestReconciler(t)
	ctx := context.Background()
	qi := testIdentity(5, identity.User)

	err := r.UpdateLocal(ctx, identity.Testnet, qi)
	if !errors.Is(err, vaulterrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	lenient, _ := newTestReconciler(t, WithLenientUpdates())
	if err := lenient.UpdateLocal(ctx, identity.Testnet, qi); err != nil {
		t.Fatalf("lenient update should be a no-op, got %v", err)
	}
	if count, _ := store.CountIdentities(ctx, identity.Testnet); count != 0 {
		t.Fatalf("update must not create records, got %d", count)
	}
}

func TestUpdateLocalPromotesRemoteRecord(t *testing.T) {
	r, store := newTestReconciler(t)
	ctx := context.Background()
	qi := testIdentity(6, identity.Masternode)
	inserted, err := r.ObserveRemote(ctx, identity.Testnet, qi.ID, nil)
	require.NoError(t, err)
	require.True(t, inserted)

	alias := "node"
	qi.Alias = &alias
	qi.Revision = 7
	require.NoError(t, r.UpdateLocal(ctx, identity.Testnet, qi))

	row, err := store.GetIdentity(ctx, qi.ID, identity.Testnet)
	require.NoError(t, err)
	require.True(t, row.IsLocal)
	require.Equal(t, identity.Masternode, row.Type)

	voting, err := r.LocalVotingIdentities(ctx, identity.Testnet, nil)
	require.NoError(t, err)
	require.Len(t, voting, 1)
	require.EqualValues(t, 7, voting[0].Revision)
	require.Equal(t, "node", voting[0].DisplayName())
}

func TestObserveRemoteDoesNotClobberLocal(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()
	local := testIdentity(7, identity.User)
	require.NoError(t, r.CreateLocal(ctx, identity.Testnet, local))

	remote := testIdentity(7, identity.User)
	remote.Balance = 1
	inserted, err := r.ObserveRemote(ctx, identity.Testnet, remote.ID, remote)
	require.NoError(t, err)
	require.False(t, inserted)

	got, err := r.LocalIdentity(ctx, identity.Testnet, local.ID, nil)
	require.NoError(t, err)
	require.Equal(t, local.Balance, got.Balance)

	_, err = r.ObserveRemote(ctx, identity.Testnet, identity.Identifier{0x01}, remote)
	require.ErrorIs(t, err, vaulterrors.ErrValidation)
}

func TestLocalIdentityIgnoresRemoteStub(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()
	remote := testIdentity(8, identity.User)
	_, err := r.ObserveRemote(ctx, identity.Mainnet, remote.ID, remote)
	require.NoError(t, err)

	_, err = r.LocalIdentity(ctx, identity.Mainnet, remote.ID, nil)
	require.ErrorIs(t, err, vaulterrors.ErrNotFound)

	listed, err := r.LocalIdentities(ctx, identity.Mainnet, identity.TypeAny, nil)
	require.NoError(t, err)
	require.Empty(t, listed)
}

func TestSetAlias(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()
	qi := testIdentity(9, identity.User)
	require.NoError(t, r.CreateLocal(ctx, identity.Testnet, qi))

	require.NoError(t, r.SetAlias(ctx, qi.ID, "  savings "))
	got, err := r.LocalIdentity(ctx, identity.Testnet, qi.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, got.Alias)
	require.Equal(t, "savings", *got.Alias)

	require.NoError(t, r.SetAlias(ctx, qi.ID, ""))
	got, err = r.LocalIdentity(ctx, identity.Testnet, qi.ID, nil)
	require.NoError(t, err)
	require.Nil(t, got.Alias)

	err = r.SetAlias(ctx, identity.Identifier{0xee}, "nobody")
	require.ErrorIs(t, err, vaulterrors.ErrNotFound)

	err = r.SetAlias(ctx, qi.ID, string([]byte{0x07}))
	require.ErrorIs(t, err, identity.ErrInvalidAlias)
}

func TestRemoveLocal(t *testing.T) {
	r, store := newTestReconciler(t)
	ctx := context.Background()
	qi := testIdentity(10, identity.User)
	require.NoError(t, r.CreateLocal(ctx, identity.Testnet, qi))
	_, err := r.ObserveRemote(ctx, identity.Testnet, identity.Identifier{0x0b}, nil)
	require.NoError(t, err)

	removed, err := r.RemoveLocal(ctx, identity.Testnet, identity.Identifier{0x0b})
	require.NoError(t, err)
	require.False(t, removed)

	removed, err = r.RemoveLocal(ctx, identity.Testnet, qi.ID)
	require.NoError(t, err)
	require.True(t, removed)

	count, err := store.CountIdentities(ctx, identity.Testnet)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestUserAndVotingSplit(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()
	require.NoError(t, r.CreateLocal(ctx, identity.Testnet, testIdentity(11, identity.User)))
	require.NoError(t, r.CreateLocal(ctx, identity.Testnet, testIdentity(12, identity.Masternode)))
	require.NoError(t, r.CreateLocal(ctx, identity.Testnet, testIdentity(13, identity.Evonode)))

	users, err := r.LocalUserIdentities(ctx, identity.Testnet, nil)
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, identity.User, users[0].Type)

	voting, err := r.LocalVotingIdentities(ctx, identity.Testnet, nil)
	require.NoError(t, err)
	require.Len(t, voting, 2)
	for _, qi := range voting {
		require.NotEqual(t, identity.User, qi.Type)
	}
}

func TestUntypedIdentityRejected(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()

	untyped := testIdentity(30, identity.TypeUnknown)
	require.ErrorIs(t, r.CreateLocal(ctx, identity.Testnet, untyped), vaulterrors.ErrValidation)

	typed := testIdentity(31, identity.Masternode)
	require.NoError(t, r.CreateLocal(ctx, identity.Testnet, typed))
	demoted := typed.Clone()
	demoted.Type = identity.TypeUnknown
	require.ErrorIs(t, r.UpdateLocal(ctx, identity.Testnet, demoted), vaulterrors.ErrValidation)

	_, err := r.ObserveRemote(ctx, identity.Testnet, identity.Identifier{32}, testIdentity(32, identity.TypeUnknown))
	require.ErrorIs(t, err, vaulterrors.ErrValidation)
	inserted, err := r.ObserveRemote(ctx, identity.Testnet, identity.Identifier{33}, nil)
	require.NoError(t, err)
	require.True(t, inserted, "bare stubs stay untyped")

	voting, err := r.LocalVotingIdentities(ctx, identity.Testnet, nil)
	require.NoError(t, err)
	require.Len(t, voting, 1)
	require.Equal(t, identity.Masternode, voting[0].Type)
}

func TestCorruptPayloadAbortsListing(t *testing.T) {
	r, store := newTestReconciler(t)
	ctx := context.Background()
	require.NoError(t, r.CreateLocal(ctx, identity.Testnet, testIdentity(14, identity.User)))
	bad := identity.Identifier{15}
	require.NoError(t, store.UpsertIdentity(ctx, storage.Row{
		ID:      bad,
		Network: identity.Testnet,
		Data:    []byte{0x01, 0x02, 0x03},
		IsLocal: true,
		Type:    identity.User,
	}))

	listed, err := r.LocalIdentities(ctx, identity.Testnet, identity.TypeAny, nil)
	require.Nil(t, listed)
	require.ErrorIs(t, err, vaulterrors.ErrCodec)
	var decodeErr *vaulterrors.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	require.Equal(t, bad.String(), decodeErr.ID)
	require.Equal(t, vaulterrors.KindCodec, vaulterrors.Kind(err))
}

func TestAttachPrivateKey(t *testing.T) {
	r, store := newTestReconciler(t)
	ctx := context.Background()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	qi := identity.NewQualifiedIdentity(identity.Identifier{16}, identity.User)
	pub := identity.PublicKey{
		ID:            1,
		Purpose:       identity.PurposeTransfer,
		SecurityLevel: identity.SecurityCritical,
		Type:          identity.KeyECDSASecp256k1,
		Data:          key.CompressedPublicKey(),
	}
	qi.AddPublicKey(pub)
	require.NoError(t, r.CreateLocalWithWallet(ctx, identity.Testnet, qi, wallet.SeedHash{0x33}, 2))

	updated, err := r.AttachPrivateKey(ctx, identity.Testnet, qi, 1, key.Bytes())
	require.NoError(t, err)
	ref := identity.KeyRef{Purpose: identity.PurposeTransfer, KeyID: 1}
	require.True(t, updated.HasPrivateKey(ref))
	require.False(t, qi.HasPrivateKey(ref), "caller identity is left untouched")

	stored, err := r.LocalIdentity(ctx, identity.Testnet, qi.ID, nil)
	require.NoError(t, err)
	require.True(t, stored.HasPrivateKey(ref))
	require.Equal(t, key.Bytes(), stored.PrivateKeys[ref].Private)

	row, err := store.GetIdentity(ctx, qi.ID, identity.Testnet)
	require.NoError(t, err)
	require.NotNil(t, row.WalletIndex)
	require.Equal(t, uint32(2), *row.WalletIndex, "wallet linkage survives key attachment")
}

func TestAttachPrivateKeyRejections(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	other, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	qi := identity.NewQualifiedIdentity(identity.Identifier{17}, identity.User)
	qi.AddPublicKey(identity.PublicKey{ID: 0, Type: identity.KeyECDSASecp256k1, Data: key.CompressedPublicKey()})
	qi.AddPublicKey(identity.PublicKey{ID: 1, Type: identity.KeyECDSASecp256k1, Data: key.CompressedPublicKey(), DisabledAt: 99})
	require.NoError(t, r.CreateLocal(ctx, identity.Testnet, qi))

	_, err = r.AttachPrivateKey(ctx, identity.Testnet, qi, 0, other.Bytes())
	require.ErrorIs(t, err, ErrKeyMismatch)
	require.Equal(t, vaulterrors.KindValidation, vaulterrors.Kind(err))

	_, err = r.AttachPrivateKey(ctx, identity.Testnet, qi, 9, key.Bytes())
	require.ErrorIs(t, err, vaulterrors.ErrValidation)

	_, err = r.AttachPrivateKey(ctx, identity.Testnet, qi, 1, key.Bytes())
	require.ErrorIs(t, err, vaulterrors.ErrValidation)

	stored, err := r.LocalIdentity(ctx, identity.Testnet, qi.ID, nil)
	require.NoError(t, err)
	require.Empty(t, stored.PrivateKeys)
}

type failingValidator struct{ err error }

func (f failingValidator) ValidatePrivateKey(identity.PublicKey, []byte, identity.Network) (bool, error) {
	return false, f.err
}

func TestAttachPrivateKeyValidatorErrorsAreValidation(t *testing.T) {
	r, _ := newTestReconciler(t, WithValidator(failingValidator{err: errors.New("hsm offline")}))
	qi := testIdentity(18, identity.User)
	_, err := r.AttachPrivateKey(context.Background(), identity.Testnet, qi, 0, make([]byte, 32))
	require.ErrorIs(t, err, vaulterrors.ErrValidation)
	require.ErrorContains(t, err, "hsm offline")
}

type brokenStore struct {
	Store
}

func (brokenStore) UpsertIdentity(context.Context, storage.Row) error {
	return vaulterrors.Storage("upsert identity", errors.New("disk full"))
}

func TestStorageErrorsSurfaceVerbatim(t *testing.T) {
	r, err := New(brokenStore{}, WithMetrics(nil))
	require.NoError(t, err)
	err = r.CreateLocal(context.Background(), identity.Testnet, testIdentity(19, identity.User))
	require.ErrorIs(t, err, vaulterrors.ErrStorage)
	require.ErrorContains(t, err, "disk full")
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatalf("expected error for nil store")
	}
}
