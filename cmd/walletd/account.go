package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/OKaluzny/wallet-custody/internal/wallet"
	"github.com/OKaluzny/wallet-custody/pkg/models"
)

const keystorePasswordEnv = "WALLET_KEYSTORE_PASSWORD"

var (
	importUsername string
	importAddress  string
	importKeystore string
	importKeyIndex uint32
	importWeight   uint32
)

func init() {
	accountImportCmd.Flags().StringVar(&importUsername, "username", "", "local name of the account")
	accountImportCmd.Flags().StringVar(&importAddress, "address", "", "Flow address of the account")
	accountImportCmd.Flags().StringVar(&importKeystore, "keystore", "", "encrypted keystore file; without it the account uses "+mnemonicEnv)
	accountImportCmd.Flags().Uint32Var(&importKeyIndex, "key-index", 0, "account key index of the keystore key")
	accountImportCmd.Flags().Uint32Var(&importWeight, "weight", models.FullWeight, "weight of the keystore key")
	_ = accountImportCmd.MarkFlagRequired("address")

	accountCmd.AddCommand(accountImportCmd, accountListCmd, accountKeysCmd)
	rootCmd.AddCommand(accountCmd)
}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage local accounts and inspect on-chain keys",
}

var accountImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Store an account backed by a keystore file or a mnemonic",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, nil)
		if err != nil {
			return err
		}
		defer a.close()

		rec := models.AccountRecord{
			ID:        uuid.NewString(),
			Username:  importUsername,
			Address:   importAddress,
			Kind:      models.KeyKindMnemonic,
			CreatedAt: time.Now(),
		}
		if importKeystore != "" {
			info, err := readKeystore(importKeystore)
			if err != nil {
				return err
			}
			info.Address = importAddress
			info.KeyID = importKeyIndex
			info.Weight = importWeight
			encoded, err := info.Encode()
			if err != nil {
				return err
			}
			rec.Kind = models.KeyKindRawKey
			rec.KeystoreInfo = encoded
		}

		// Activating proves the key material is usable before it is stored.
		if err := a.registry.SetActive(ctx, rec); err != nil {
			return err
		}
		if err := a.accounts.SaveAccount(ctx, rec); err != nil {
			return err
		}
		fmt.Printf("account %s (%s) stored\n", rec.ID, rec.Kind)
		return nil
	},
}

func readKeystore(path string) (wallet.KeystoreInfo, error) {
	password := os.Getenv(keystorePasswordEnv)
	if password == "" {
		return wallet.KeystoreInfo{}, fmt.Errorf("%s not set", keystorePasswordEnv)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return wallet.KeystoreInfo{}, err
	}
	key, err := wallet.DecryptKeystore(data, password)
	if err != nil {
		return wallet.KeystoreInfo{}, err
	}
	defer func() {
		for i := range key {
			key[i] = 0
		}
	}()
	return wallet.KeystoreInfo{PrivateKey: hex.EncodeToString(key)}, nil
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, nil)
		if err != nil {
			return err
		}
		defer a.close()

		recs, err := a.accounts.Accounts(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUSERNAME\tADDRESS\tKIND\tCREATED")
		for _, r := range recs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Username, r.Address, r.Kind, r.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var accountKeysCmd = &cobra.Command{
	Use:   "keys <address>",
	Short: "Show the keys of an on-chain account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, nil)
		if err != nil {
			return err
		}
		defer a.close()

		acct, err := a.chain.GetAccount(ctx, args[0])
		if err != nil {
			return err
		}

		// Mark the keys of the stored account when its material is available.
		local := map[uint32]bool{}
		if model, err := a.activate(ctx, ""); err == nil && model.Address() == acct.Address {
			for _, idx := range model.LocalKeys() {
				local[idx] = true
			}
		} else if err != nil {
			a.logger.Debug("no local account for key matching", "error", err)
		}

		keys := make([]models.AccountKey, 0, len(acct.Keys))
		for _, k := range acct.Keys {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].Index < keys[j].Index })

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "INDEX\tWEIGHT\tCURVE\tHASH\tSEQUENCE\tREVOKED\tLOCAL\tPUBLIC KEY")
		for _, k := range keys {
			fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%d\t%t\t%t\t%s\n",
				k.Index, k.Weight, k.SignAlgo, k.HashAlgo, k.SequenceNumber, k.Revoked, local[k.Index], shortHex(k.PublicKey))
		}
		return w.Flush()
	},
}

func shortHex(b []byte) string {
	s := hex.EncodeToString(b)
	if len(s) > 16 {
		return s[:8] + ".." + s[len(s)-8:]
	}
	return s
}
