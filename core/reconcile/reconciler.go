// Package reconcile applies the identity update policies on top of the record
// store: local creation, local updates, remote observation, alias changes,
// removal, top-ups and private key attachment.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	vaulterrors "evovault/core/errors"
	"evovault/core/identity"
	"evovault/core/wallet"
	"evovault/crypto"
	"evovault/observability"
	"evovault/observability/logging"
	"evovault/storage"
)

var (
	// ErrKeyMismatch is returned when supplied private key material does not
	// belong to the addressed public key.
	ErrKeyMismatch = fmt.Errorf("%w: private key does not match the public key", vaulterrors.ErrValidation)

	errNilIdentity = fmt.Errorf("%w: identity is required", vaulterrors.ErrValidation)
)

// Store is the persistence surface the reconciler drives. *storage.Store
// implements it.
type Store interface {
	UpsertIdentity(ctx context.Context, row storage.Row) error
	UpdateIdentityFields(ctx context.Context, id identity.Identifier, network identity.Network, data []byte, alias *string, kind identity.IdentityType) (bool, error)
	InsertIfAbsent(ctx context.Context, row storage.Row) (bool, error)
	SetAlias(ctx context.Context, id identity.Identifier, alias *string) error
	DeleteLocal(ctx context.Context, id identity.Identifier, network identity.Network) (bool, error)
	AddTopUp(ctx context.Context, id identity.Identifier, index, amount uint32) (bool, error)
	GetIdentity(ctx context.Context, id identity.Identifier, network identity.Network) (storage.Row, error)
	ListIdentities(ctx context.Context, network identity.Network, filter storage.Filter, resolver wallet.Resolver) ([]storage.Row, error)
}

// Reconciler applies update policies to the store.
type Reconciler struct {
	store     Store
	validator crypto.KeyValidator
	lenient   bool
	logger    *slog.Logger
	metrics   *observability.VaultMetrics
}

// Option customises a Reconciler.
type Option func(*Reconciler)

// WithLenientUpdates makes UpdateLocal succeed silently when the record does
// not exist instead of failing with ErrNotFound.
func WithLenientUpdates() Option {
	return func(r *Reconciler) { r.lenient = true }
}

// WithValidator overrides the private key validator.
func WithValidator(v crypto.KeyValidator) Option {
	return func(r *Reconciler) {
		if v != nil {
			r.validator = v
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics overrides the metrics registry. nil disables recording.
func WithMetrics(m *observability.VaultMetrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// New constructs a reconciler over store.
func New(store Store, opts ...Option) (*Reconciler, error) {
	if store == nil {
		return nil, errors.New("reconcile: store is required")
	}
	r := &Reconciler{
		store:     store,
		validator: crypto.Secp256k1Validator{},
		logger:    slog.Default(),
		metrics:   observability.Vault(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// CreateLocal inserts or replaces qi as a local identity without wallet linkage.
func (r *Reconciler) CreateLocal(ctx context.Context, network identity.Network, qi *identity.QualifiedIdentity) error {
	return r.createLocal(ctx, "create_local", network, qi, nil, 0, false)
}

// CreateLocalWithWallet inserts or replaces qi and records the wallet and
// derivation index that produced it.
func (r *Reconciler) CreateLocalWithWallet(ctx context.Context, network identity.Network, qi *identity.QualifiedIdentity, seed wallet.SeedHash, index uint32) error {
	return r.createLocal(ctx, "create_local_with_wallet", network, qi, &seed, index, false)
}

// CreateLocalInCreation is CreateLocalWithWallet for an identity whose
// registration has not completed yet.
func (r *Reconciler) CreateLocalInCreation(ctx context.Context, network identity.Network, qi *identity.QualifiedIdentity, seed wallet.SeedHash, index uint32) error {
	return r.createLocal(ctx, "create_local_in_creation", network, qi, &seed, index, true)
}

func (r *Reconciler) createLocal(ctx context.Context, policy string, network identity.Network, qi *identity.QualifiedIdentity, seed *wallet.SeedHash, index uint32, inCreation bool) (err error) {
	defer func() { r.metrics.RecordReconcile(policy, err) }()
	if qi == nil {
		return errNilIdentity
	}
	data, err := identity.Encode(qi)
	if err != nil {
		return err
	}
	row := storage.Row{
		ID:           qi.ID,
		Network:      network,
		Data:         data,
		IsLocal:      true,
		Alias:        qi.Alias,
		Type:         qi.Type,
		IsInCreation: inCreation,
	}
	if seed != nil {
		row.Wallet = seed
		row.WalletIndex = &index
	}
	if err := r.store.UpsertIdentity(ctx, row); err != nil {
		return err
	}
	r.logger.Info("local identity stored",
		slog.String("policy", policy),
		slog.String("identity", qi.ID.String()),
		slog.String("network", network.String()),
		slog.String("type", qi.Type.String()))
	return nil
}

// UpdateLocal rewrites the payload, alias and type of an existing record on
// network and marks it local. A missing record fails with ErrNotFound unless
// the reconciler was built WithLenientUpdates.
func (r *Reconciler) UpdateLocal(ctx context.Context, network identity.Network, qi *identity.QualifiedIdentity) (err error) {
	defer func() { r.metrics.RecordReconcile("update_local", err) }()
	if qi == nil {
		return errNilIdentity
	}
	data, err := identity.Encode(qi)
	if err != nil {
		return err
	}
	updated, err := r.store.UpdateIdentityFields(ctx, qi.ID, network, data, qi.Alias, qi.Type)
	if err != nil {
		return err
	}
	if updated {
		return nil
	}
	if r.lenient {
		r.logger.Warn("update for unknown identity ignored",
			slog.String("identity", qi.ID.String()),
			slog.String("network", network.String()))
		return nil
	}
	return fmt.Errorf("update local identity %s on %s: %w", qi.ID, network, vaulterrors.ErrNotFound)
}

// ObserveRemote records an identity seen on the platform unless a record for
// id already exists on network. qi may be nil when only the identifier is
// known. It reports whether a record was inserted.
func (r *Reconciler) ObserveRemote(ctx context.Context, network identity.Network, id identity.Identifier, qi *identity.QualifiedIdentity) (inserted bool, err error) {
	defer func() { r.metrics.RecordReconcile("observe_remote", err) }()
	row := storage.Row{ID: id, Network: network}
	if qi != nil {
		if qi.ID != id {
			return false, vaulterrors.Validation("identity payload %s does not match identifier %s", qi.ID, id)
		}
		data, err := identity.Encode(qi)
		if err != nil {
			return false, err
		}
		row.Data = data
		row.Alias = qi.Alias
		row.Type = qi.Type
	}
	inserted, err = r.store.InsertIfAbsent(ctx, row)
	if err != nil {
		return false, err
	}
	r.logger.Debug("remote identity observed",
		slog.String("identity", id.String()),
		slog.String("network", network.String()),
		slog.Bool("inserted", inserted))
	return inserted, nil
}

// SetAlias normalises alias and applies it to every record carrying id. An
// empty alias clears the label.
func (r *Reconciler) SetAlias(ctx context.Context, id identity.Identifier, alias string) (err error) {
	defer func() { r.metrics.RecordReconcile("set_alias", err) }()
	normalized, err := identity.NormalizeAlias(alias)
	if err != nil {
		return err
	}
	if err := r.store.SetAlias(ctx, id, normalized); err != nil {
		return err
	}
	var label string
	if normalized != nil {
		label = *normalized
	}
	r.logger.Info("identity alias updated",
		slog.String("identity", id.String()),
		logging.MaskField("alias", label))
	return nil
}

// RemoveLocal deletes the local record for id on network. Remote records are
// never removed; it reports whether anything was deleted.
func (r *Reconciler) RemoveLocal(ctx context.Context, network identity.Network, id identity.Identifier) (removed bool, err error) {
	defer func() { r.metrics.RecordReconcile("remove_local", err) }()
	return r.store.DeleteLocal(ctx, id, network)
}

// RecordTopUp appends a top-up for id. Repeating an index is ignored and
// reported as not recorded.
func (r *Reconciler) RecordTopUp(ctx context.Context, id identity.Identifier, index, amount uint32) (recorded bool, err error) {
	defer func() { r.metrics.RecordReconcile("record_top_up", err) }()
	return r.store.AddTopUp(ctx, id, index, amount)
}

// LocalIdentities decodes every local identity on network matching filter and
// reattaches alias, wallet index, top-ups and the resolved wallet handle. The
// first payload that fails to decode aborts the listing with a
// *errors.DecodeError naming the identifier.
func (r *Reconciler) LocalIdentities(ctx context.Context, network identity.Network, filter identity.TypeFilter, resolver wallet.Resolver) ([]*identity.QualifiedIdentity, error) {
	rows, err := r.store.ListIdentities(ctx, network, storage.Filter{LocalOnly: true, Type: filter, RequireData: true}, resolver)
	if err != nil {
		return nil, err
	}
	out := make([]*identity.QualifiedIdentity, 0, len(rows))
	for _, row := range rows {
		qi, err := r.hydrate(row)
		if err != nil {
			return nil, err
		}
		out = append(out, qi)
	}
	return out, nil
}

// LocalVotingIdentities lists local masternode and evonode identities.
func (r *Reconciler) LocalVotingIdentities(ctx context.Context, network identity.Network, resolver wallet.Resolver) ([]*identity.QualifiedIdentity, error) {
	return r.LocalIdentities(ctx, network, identity.TypeOther, resolver)
}

// LocalUserIdentities lists local user identities.
func (r *Reconciler) LocalUserIdentities(ctx context.Context, network identity.Network, resolver wallet.Resolver) ([]*identity.QualifiedIdentity, error) {
	return r.LocalIdentities(ctx, network, identity.TypeUser, resolver)
}

// LocalIdentity loads one local identity. Remote stubs are reported as
// ErrNotFound.
func (r *Reconciler) LocalIdentity(ctx context.Context, network identity.Network, id identity.Identifier, resolver wallet.Resolver) (*identity.QualifiedIdentity, error) {
	row, err := r.store.GetIdentity(ctx, id, network)
	if err != nil {
		return nil, err
	}
	if !row.IsLocal || len(row.Data) == 0 {
		return nil, fmt.Errorf("local identity %s on %s: %w", id, network, vaulterrors.ErrNotFound)
	}
	if row.Wallet != nil {
		row.ResolvedWallet = wallet.Resolve(resolver, *row.Wallet)
	}
	return r.hydrate(row)
}

func (r *Reconciler) hydrate(row storage.Row) (*identity.QualifiedIdentity, error) {
	qi, err := identity.Decode(row.Data)
	if err != nil {
		r.metrics.RecordDecodeFailure()
		r.logger.Error("stored identity payload is corrupt",
			slog.String("identity", row.ID.String()),
			slog.String("network", row.Network.String()),
			slog.Any("error", err))
		return nil, &vaulterrors.DecodeError{ID: row.ID.String(), Err: err}
	}
	if qi.ID != row.ID {
		r.metrics.RecordDecodeFailure()
		return nil, &vaulterrors.DecodeError{ID: row.ID.String(), Err: fmt.Errorf("payload carries identifier %s", qi.ID)}
	}
	qi.Alias = row.Alias
	qi.WalletIndex = row.WalletIndex
	qi.TopUps = row.TopUps
	if qi.TopUps == nil {
		qi.TopUps = map[uint32]uint32{}
	}
	qi.Wallet = row.ResolvedWallet
	return qi, nil
}

// AttachPrivateKey validates private against the public key keyID of qi and,
// on a match, stores it and persists the identity through the update-local
// policy so wallet linkage is kept. qi itself is not modified; the updated
// identity is returned.
func (r *Reconciler) AttachPrivateKey(ctx context.Context, network identity.Network, qi *identity.QualifiedIdentity, keyID uint32, private []byte) (_ *identity.QualifiedIdentity, err error) {
	defer func() { r.metrics.RecordReconcile("attach_private_key", err) }()
	if qi == nil {
		return nil, errNilIdentity
	}
	pub, ok := qi.PublicKey(keyID)
	if !ok {
		return nil, vaulterrors.Validation("identity %s has no public key %d", qi.ID, keyID)
	}
	if pub.Disabled() {
		return nil, vaulterrors.Validation("public key %d of %s is disabled", keyID, qi.ID)
	}
	match, err := r.validator.ValidatePrivateKey(pub, private, network)
	if err != nil {
		if !errors.Is(err, vaulterrors.ErrValidation) {
			err = fmt.Errorf("%w: %w", vaulterrors.ErrValidation, err)
		}
		return nil, err
	}
	if !match {
		return nil, ErrKeyMismatch
	}

	updated := qi.Clone()
	updated.SetPrivateKey(pub, private)
	if err := r.UpdateLocal(ctx, network, updated); err != nil {
		return nil, err
	}
	r.logger.Info("private key attached",
		slog.String("identity", qi.ID.String()),
		slog.Uint64("key_id", uint64(keyID)),
		slog.String("purpose", pub.Purpose.String()))
	return updated, nil
}
