package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"evovault/core/identity"
	"evovault/core/wallet"
	"evovault/crypto"
)

func newIdentitiesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "identities",
		Aliases: []string{"identity", "id"},
		Short:   "Manage local identities",
	}
	cmd.AddCommand(
		newIdentitiesListCmd(a),
		newIdentitiesAliasCmd(a),
		newIdentitiesRemoveCmd(a),
		newIdentitiesTopUpCmd(a),
		newIdentitiesAddKeyCmd(a),
	)
	return cmd
}

type identityRow struct {
	ID       string   `json:"id"`
	Alias    string   `json:"alias,omitempty"`
	Type     string   `json:"type"`
	Balance  uint64   `json:"balance"`
	Keys     int      `json:"keys"`
	Private  int      `json:"private_keys"`
	Wallet   string   `json:"wallet,omitempty"`
	Index    *uint32  `json:"wallet_index,omitempty"`
	TopUps   []uint32 `json:"top_up_indexes,omitempty"`
	TopUpSum uint64   `json:"top_up_total"`
}

func newIdentityRow(qi *identity.QualifiedIdentity) identityRow {
	row := identityRow{
		ID:      qi.ID.String(),
		Type:    qi.Type.String(),
		Balance: qi.Balance,
		Keys:    len(qi.PublicKeys),
		Private: len(qi.PrivateKeys),
		Index:   qi.WalletIndex,
	}
	if qi.Alias != nil {
		row.Alias = *qi.Alias
	}
	if qi.Wallet != nil {
		row.Wallet = qi.Wallet.SeedHash.String()
	}
	for index, amount := range qi.TopUps {
		row.TopUps = append(row.TopUps, index)
		row.TopUpSum += uint64(amount)
	}
	sort.Slice(row.TopUps, func(i, j int) bool { return row.TopUps[i] < row.TopUps[j] })
	return row
}

func newIdentitiesListCmd(a *app) *cobra.Command {
	var typeFilter string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List local identities on the configured network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := identity.ParseTypeFilter(typeFilter)
			if err != nil {
				return err
			}
			rec, err := a.openReconciler()
			if err != nil {
				return err
			}
			identities, err := rec.LocalIdentities(cmd.Context(), a.networkID(), filter, wallet.NewSet())
			if err != nil {
				return err
			}
			rows := make([]identityRow, 0, len(identities))
			for _, qi := range identities {
				rows = append(rows, newIdentityRow(qi))
			}
			if a.jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"ID", "Alias", "Type", "Balance", "Keys", "Wallet", "Top-ups"})
			table.SetAutoWrapText(false)
			for _, row := range rows {
				walletCol := ""
				if row.Wallet != "" {
					walletCol = row.Wallet[:8]
					if row.Index != nil {
						walletCol += "/" + strconv.FormatUint(uint64(*row.Index), 10)
					}
				}
				table.Append([]string{
					row.ID,
					row.Alias,
					row.Type,
					strconv.FormatUint(row.Balance, 10),
					fmt.Sprintf("%d/%d", row.Private, row.Keys),
					walletCol,
					strconv.Itoa(len(row.TopUps)),
				})
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&typeFilter, "type", "any", "identity type filter (any, user, other)")
	return cmd
}

func newIdentitiesAliasCmd(a *app) *cobra.Command {
	var clearAlias bool
	cmd := &cobra.Command{
		Use:   "alias <identity> [alias]",
		Short: "Set or clear the display alias of an identity",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := identity.ParseIdentifier(args[0])
			if err != nil {
				return err
			}
			alias := ""
			switch {
			case clearAlias:
			case len(args) == 2:
				alias = args[1]
			default:
				return fmt.Errorf("provide an alias or --clear")
			}
			rec, err := a.openReconciler()
			if err != nil {
				return err
			}
			if err := rec.SetAlias(cmd.Context(), id, alias); err != nil {
				return err
			}
			if alias == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "alias cleared for %s\n", id)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "alias set for %s\n", id)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&clearAlias, "clear", false, "remove the alias")
	return cmd
}

func newIdentitiesRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <identity>",
		Short: "Remove a local identity from the configured network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := identity.ParseIdentifier(args[0])
			if err != nil {
				return err
			}
			rec, err := a.openReconciler()
			if err != nil {
				return err
			}
			removed, err := rec.RemoveLocal(cmd.Context(), a.networkID(), id)
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("no local identity %s on %s", id, a.networkID())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", id)
			return nil
		},
	}
}

func newIdentitiesTopUpCmd(a *app) *cobra.Command {
	var index, amount uint32
	cmd := &cobra.Command{
		Use:   "topup <identity>",
		Short: "Record a top-up for an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := identity.ParseIdentifier(args[0])
			if err != nil {
				return err
			}
			rec, err := a.openReconciler()
			if err != nil {
				return err
			}
			recorded, err := rec.RecordTopUp(cmd.Context(), id, index, amount)
			if err != nil {
				return err
			}
			if recorded {
				fmt.Fprintf(cmd.OutOrStdout(), "top-up %d recorded for %s\n", index, id)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "top-up %d already recorded for %s\n", index, id)
			}
			return nil
		},
	}
	cmd.Flags().Uint32Var(&index, "index", 0, "top-up index")
	cmd.Flags().Uint32Var(&amount, "amount", 0, "top-up amount in duffs")
	_ = cmd.MarkFlagRequired("index")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newIdentitiesAddKeyCmd(a *app) *cobra.Command {
	var keyID uint32
	var keystorePath string
	cmd := &cobra.Command{
		Use:   "add-key <identity>",
		Short: "Attach a private key to one of an identity's public keys",
		Long: `Attach a private key to a registered public key after checking that it
matches. The key is read from ` + privateKeyEnv + ` or prompted for without echo.
With --keystore the key is decrypted from an encrypted keystore file and the
passphrase is read from ` + passphraseEnv + ` or prompted for.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := identity.ParseIdentifier(args[0])
			if err != nil {
				return err
			}
			private, err := a.readPrivateKey(keystorePath)
			if err != nil {
				return err
			}
			rec, err := a.openReconciler()
			if err != nil {
				return err
			}
			network := a.networkID()
			qi, err := rec.LocalIdentity(cmd.Context(), network, id, wallet.NewSet())
			if err != nil {
				return err
			}
			if _, err := rec.AttachPrivateKey(cmd.Context(), network, qi, keyID, private); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "private key attached to key %d of %s\n", keyID, id)
			return nil
		},
	}
	cmd.Flags().Uint32Var(&keyID, "key-id", 0, "public key id to attach to")
	cmd.Flags().StringVar(&keystorePath, "keystore", "", "read the key from an encrypted keystore file")
	_ = cmd.MarkFlagRequired("key-id")
	return cmd
}

func (a *app) readPrivateKey(keystorePath string) ([]byte, error) {
	if path := strings.TrimSpace(keystorePath); path != "" {
		passphrase, err := a.passphrase.Get()
		if err != nil {
			return nil, err
		}
		key, err := crypto.LoadFromKeystore(path, passphrase)
		if err != nil {
			return nil, err
		}
		return key.Bytes(), nil
	}
	input, err := a.privateKey.Get()
	if err != nil {
		return nil, err
	}
	private, err := crypto.ParsePrivateKey(input, a.networkID())
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return private, nil
}
