package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	vaulterrors "evovault/core/errors"
	"evovault/core/identity"
	"evovault/core/wallet"
)

// Row is one identity record as persisted, with its top-ups attached.
type Row struct {
	ID           identity.Identifier
	Network      identity.Network
	Data         []byte
	IsLocal      bool
	Alias        *string
	Type         identity.IdentityType
	IsInCreation bool
	Wallet       *wallet.SeedHash
	WalletIndex  *uint32

	// TopUps is populated on reads only.
	TopUps map[uint32]uint32
	// ResolvedWallet is the caller's handle for Wallet, when the resolver
	// passed to ListIdentities knows it.
	ResolvedWallet *wallet.Wallet
}

// Filter narrows ListIdentities.
type Filter struct {
	LocalOnly   bool
	Type        identity.TypeFilter
	RequireData bool
}

var identityKey = []clause.Column{{Name: "id"}, {Name: "network"}}

// UpsertIdentity inserts row or replaces the existing record for the same
// identifier and network.
func (s *Store) UpsertIdentity(ctx context.Context, row Row) (err error) {
	if s == nil {
		return errNotConfigured
	}
	if err := validateRow(row); err != nil {
		return err
	}
	rec := toRecord(row)
	done := s.lock("upsert_identity")
	defer done(&err)

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{Columns: identityKey, UpdateAll: true}).Create(&rec)
	if res.Error != nil {
		return vaulterrors.Storage("upsert identity", res.Error)
	}
	s.logger.Debug("identity upserted",
		slog.String("identity", row.ID.String()),
		slog.String("network", row.Network.String()),
		slog.Bool("local", row.IsLocal))
	return nil
}

// UpdateIdentityFields rewrites the payload, alias and type of an existing
// record and marks it local. It reports false when no record matched; that is
// not an error at this layer.
func (s *Store) UpdateIdentityFields(ctx context.Context, id identity.Identifier, network identity.Network, data []byte, alias *string, kind identity.IdentityType) (updated bool, err error) {
	if s == nil {
		return false, errNotConfigured
	}
	if len(data) == 0 {
		return false, vaulterrors.Validation("local identity %s requires a payload", id)
	}
	if kind == identity.TypeUnknown {
		return false, vaulterrors.Validation("local identity %s requires a type", id)
	}
	done := s.lock("update_identity_fields")
	defer done(&err)

	res := s.db.WithContext(ctx).Model(&identityRow{}).
		Where("id = ? AND network = ?", id.Bytes(), network.String()).
		Updates(map[string]any{
			"data":          data,
			"alias":         nullableString(alias),
			"identity_type": kind.String(),
			"is_local":      true,
		})
	if res.Error != nil {
		return false, vaulterrors.Storage("update identity", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// InsertIfAbsent records a remotely observed identity unless a record for its
// identifier already exists on its network. The row is always stored as
// remote. The existence check and the insert run in one transaction under the
// store lock. Data may be nil for a stub.
func (s *Store) InsertIfAbsent(ctx context.Context, row Row) (inserted bool, err error) {
	if s == nil {
		return false, errNotConfigured
	}
	row.IsLocal = false
	row.IsInCreation = false
	if err := validateRow(row); err != nil {
		return false, err
	}
	rec := toRecord(row)
	done := s.lock("insert_if_absent")
	defer done(&err)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&identityRow{}).
			Where("id = ? AND network = ?", rec.ID, rec.Network).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, vaulterrors.Storage("insert identity if absent", err)
	}
	return inserted, nil
}

// SetAlias sets or clears the alias of every record carrying id. It fails with
// ErrNotFound when no record matches.
func (s *Store) SetAlias(ctx context.Context, id identity.Identifier, alias *string) (err error) {
	if s == nil {
		return errNotConfigured
	}
	done := s.lock("set_alias")
	defer done(&err)

	res := s.db.WithContext(ctx).Model(&identityRow{}).
		Where("id = ?", id.Bytes()).
		Update("alias", nullableString(alias))
	if res.Error != nil {
		return vaulterrors.Storage("set alias", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("set alias for %s: %w", id, vaulterrors.ErrNotFound)
	}
	return nil
}

// DeleteLocal removes the local record for id on network. Remote stubs and
// missing records are left alone and reported as not deleted. Top-ups are
// dropped once no record for the identifier remains on any network.
func (s *Store) DeleteLocal(ctx context.Context, id identity.Identifier, network identity.Network) (deleted bool, err error) {
	if s == nil {
		return false, errNotConfigured
	}
	done := s.lock("delete_local")
	defer done(&err)

	raw := id.Bytes()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND network = ? AND is_local = ?", raw, network.String(), true).Delete(&identityRow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		deleted = true
		var remaining int64
		if err := tx.Model(&identityRow{}).Where("id = ?", raw).Count(&remaining).Error; err != nil {
			return err
		}
		if remaining > 0 {
			return nil
		}
		return tx.Where("identity_id = ?", raw).Delete(&topUpRow{}).Error
	})
	if err != nil {
		return false, vaulterrors.Storage("delete identity", err)
	}
	if deleted {
		s.logger.Info("local identity removed",
			slog.String("identity", id.String()),
			slog.String("network", network.String()))
	}
	return deleted, nil
}

// AddTopUp records amount under index for id. A top-up index is accepted at
// most once; a repeat is ignored and reported as not added.
func (s *Store) AddTopUp(ctx context.Context, id identity.Identifier, index, amount uint32) (added bool, err error) {
	if s == nil {
		return false, errNotConfigured
	}
	done := s.lock("add_top_up")
	defer done(&err)

	rec := topUpRow{IdentityID: id.Bytes(), TopUpIndex: index, Amount: amount}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity_id"}, {Name: "top_up_index"}},
		DoNothing: true,
	}).Create(&rec)
	if res.Error != nil {
		return false, vaulterrors.Storage("add top-up", res.Error)
	}
	if res.RowsAffected == 0 {
		s.logger.Warn("duplicate top-up ignored",
			slog.String("identity", id.String()),
			slog.Uint64("index", uint64(index)))
		return false, nil
	}
	return true, nil
}

// TopUps returns the top-ups recorded for id keyed by index.
func (s *Store) TopUps(ctx context.Context, id identity.Identifier) (topUps map[uint32]uint32, err error) {
	if s == nil {
		return nil, errNotConfigured
	}
	done := s.lock("top_ups")
	defer done(&err)

	var recs []topUpRow
	if err := s.db.WithContext(ctx).Where("identity_id = ?", id.Bytes()).Order("top_up_index").Find(&recs).Error; err != nil {
		return nil, vaulterrors.Storage("load top-ups", err)
	}
	topUps = make(map[uint32]uint32, len(recs))
	for _, rec := range recs {
		topUps[rec.TopUpIndex] = rec.Amount
	}
	return topUps, nil
}

// GetIdentity loads a single record with its top-ups.
func (s *Store) GetIdentity(ctx context.Context, id identity.Identifier, network identity.Network) (row Row, err error) {
	if s == nil {
		return Row{}, errNotConfigured
	}
	done := s.lock("get_identity")
	defer done(&err)

	var rec identityRow
	err = s.db.WithContext(ctx).Where("id = ? AND network = ?", id.Bytes(), network.String()).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Row{}, fmt.Errorf("identity %s on %s: %w", id, network, vaulterrors.ErrNotFound)
	}
	if err != nil {
		return Row{}, vaulterrors.Storage("load identity", err)
	}
	topUps, err := s.loadTopUps(ctx, [][]byte{rec.ID})
	if err != nil {
		return Row{}, err
	}
	row, err = fromRecord(rec)
	if err != nil {
		return Row{}, err
	}
	row.TopUps = topUps[string(rec.ID)]
	if row.TopUps == nil {
		row.TopUps = map[uint32]uint32{}
	}
	return row, nil
}

// ListIdentities returns the records on network matching filter, each with its
// top-ups attached and its wallet reference resolved through resolver. The
// store never owns wallets; an unknown seed hash leaves ResolvedWallet nil.
func (s *Store) ListIdentities(ctx context.Context, network identity.Network, filter Filter, resolver wallet.Resolver) ([]Row, error) {
	if s == nil {
		return nil, errNotConfigured
	}
	recs, topUps, err := s.listRecords(ctx, network, filter)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(recs))
	for _, rec := range recs {
		row, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		row.TopUps = topUps[string(rec.ID)]
		if row.TopUps == nil {
			row.TopUps = map[uint32]uint32{}
		}
		if row.Wallet != nil {
			row.ResolvedWallet = wallet.Resolve(resolver, *row.Wallet)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *Store) listRecords(ctx context.Context, network identity.Network, filter Filter) (recs []identityRow, topUps map[string]map[uint32]uint32, err error) {
	done := s.lock("list_identities")
	defer done(&err)

	query := s.db.WithContext(ctx).Where("network = ?", network.String())
	if filter.LocalOnly {
		query = query.Where("is_local = ?", true)
	}
	switch filter.Type {
	case identity.TypeUser:
		query = query.Where("identity_type = ?", identity.User.String())
	case identity.TypeOther:
		query = query.Where("identity_type <> ?", identity.User.String())
	}
	if filter.RequireData {
		query = query.Where("data IS NOT NULL")
	}
	if err := query.Order("id").Find(&recs).Error; err != nil {
		return nil, nil, vaulterrors.Storage("list identities", err)
	}
	ids := make([][]byte, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.ID)
	}
	topUps, err = s.loadTopUps(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	return recs, topUps, nil
}

// loadTopUps fetches top-ups for ids grouped by raw identifier. The caller
// must hold the store lock.
func (s *Store) loadTopUps(ctx context.Context, ids [][]byte) (map[string]map[uint32]uint32, error) {
	out := make(map[string]map[uint32]uint32, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var recs []topUpRow
	if err := s.db.WithContext(ctx).Where("identity_id IN ?", ids).Find(&recs).Error; err != nil {
		return nil, vaulterrors.Storage("load top-ups", err)
	}
	for _, rec := range recs {
		key := string(rec.IdentityID)
		if out[key] == nil {
			out[key] = make(map[uint32]uint32)
		}
		out[key][rec.TopUpIndex] = rec.Amount
	}
	return out, nil
}

// CountIdentities returns the number of records on network, local or not.
func (s *Store) CountIdentities(ctx context.Context, network identity.Network) (count int64, err error) {
	if s == nil {
		return 0, errNotConfigured
	}
	done := s.lock("count_identities")
	defer done(&err)

	if err := s.db.WithContext(ctx).Model(&identityRow{}).Where("network = ?", network.String()).Count(&count).Error; err != nil {
		return 0, vaulterrors.Storage("count identities", err)
	}
	return count, nil
}

func validateRow(row Row) error {
	if row.ID.IsZero() {
		return vaulterrors.Validation("identity id is required")
	}
	if !row.Network.Valid() {
		return vaulterrors.Validation("unknown network %q", row.Network)
	}
	if row.IsLocal && len(row.Data) == 0 {
		return vaulterrors.Validation("local identity %s requires a payload", row.ID)
	}
	// An empty type column is reserved for remote stubs without a payload.
	if row.Type == identity.TypeUnknown && (row.IsLocal || len(row.Data) > 0) {
		return vaulterrors.Validation("identity %s with a payload requires a type", row.ID)
	}
	return nil
}

func toRecord(row Row) identityRow {
	rec := identityRow{
		ID:           row.ID.Bytes(),
		Network:      row.Network.String(),
		Data:         row.Data,
		IsLocal:      row.IsLocal,
		IdentityType: row.Type.String(),
		IsInCreation: row.IsInCreation,
		WalletIndex:  row.WalletIndex,
	}
	if row.Alias != nil {
		alias := *row.Alias
		rec.Alias = &alias
	}
	if row.Wallet != nil {
		rec.Wallet = row.Wallet.Bytes()
	}
	return rec
}

func fromRecord(rec identityRow) (Row, error) {
	id, err := identity.IdentifierFromBytes(rec.ID)
	if err != nil {
		return Row{}, &vaulterrors.DecodeError{ID: fmt.Sprintf("%x", rec.ID), Err: err}
	}
	kind, err := identity.ParseIdentityType(rec.IdentityType)
	if err != nil {
		return Row{}, &vaulterrors.DecodeError{ID: id.String(), Err: err}
	}
	row := Row{
		ID:           id,
		Network:      identity.Network(rec.Network),
		Data:         rec.Data,
		IsLocal:      rec.IsLocal,
		Alias:        rec.Alias,
		Type:         kind,
		IsInCreation: rec.IsInCreation,
		WalletIndex:  rec.WalletIndex,
	}
	if len(rec.Wallet) > 0 {
		seed, err := wallet.SeedHashFromBytes(rec.Wallet)
		if err != nil {
			return Row{}, &vaulterrors.DecodeError{ID: id.String(), Err: err}
		}
		row.Wallet = &seed
	}
	return row, nil
}

func nullableString(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}
