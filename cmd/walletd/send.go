package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/OKaluzny/wallet-custody/internal/tx"
	"github.com/OKaluzny/wallet-custody/pkg/models"
)

var (
	scriptArgs []string

	sendAccount        string
	sendCategory       string
	sendKeyIndex       int64
	sendIdempotencyKey string
	sendPayload        string
	sendNoWait         bool

	signAccount string
	signAlgo    string
	signHash    string
)

func init() {
	scriptCmd.Flags().StringArrayVar(&scriptArgs, "arg", nil, "JSON-Cadence encoded argument, repeatable")

	sendCmd.Flags().StringArrayVar(&scriptArgs, "arg", nil, "JSON-Cadence encoded argument, repeatable")
	sendCmd.Flags().StringVar(&sendAccount, "account", "", "account to sign with (default: the only stored account)")
	sendCmd.Flags().StringVar(&sendCategory, "category", string(models.CategoryGeneric), "transaction category")
	sendCmd.Flags().Int64Var(&sendKeyIndex, "key-index", -1, "account key a RevokeKey or AddPublicKey transaction acts on")
	sendCmd.Flags().StringVar(&sendIdempotencyKey, "idempotency-key", "", "submit at most once per key")
	sendCmd.Flags().StringVar(&sendPayload, "payload", "", "summary stored with the ledger record")
	sendCmd.Flags().BoolVar(&sendNoWait, "no-wait", false, "return after submission instead of waiting for the outcome")

	signCmd.Flags().StringVar(&signAccount, "account", "", "account to sign with (default: the only stored account)")
	signCmd.Flags().StringVar(&signAlgo, "curve", string(models.SignAlgoP256), "ECDSA_P256 or ECDSA_secp256k1")
	signCmd.Flags().StringVar(&signHash, "hash", "", "SHA2_256 or SHA3_256 (default: the curve's default)")

	rootCmd.AddCommand(scriptCmd, sendCmd, signCmd)
}

var scriptCmd = &cobra.Command{
	Use:   "script <file>",
	Short: "Execute a read-only Cadence script",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		src, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		a, err := newApp(ctx, cfg, nil)
		if err != nil {
			return err
		}
		defer a.close()

		res, err := a.chain.ExecuteScript(ctx, src, encodedArgs())
		if err != nil {
			return err
		}
		fmt.Println(string(res.Value))
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <file>",
	Short: "Sign and submit a transaction script and follow it to the end",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		src, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		a, err := newApp(ctx, cfg, nil)
		if err != nil {
			return err
		}
		defer a.close()

		model, err := a.activate(ctx, sendAccount)
		if err != nil {
			return err
		}

		req := tx.SendRequest{
			IdempotencyKey: sendIdempotencyKey,
			Category:       models.Category(sendCategory),
			Script:         src,
			Arguments:      encodedArgs(),
			ScriptID:       args[0],
			Payload:        sendPayload,
		}
		if sendKeyIndex >= 0 {
			idx := uint32(sendKeyIndex)
			req.KeyIndex = &idx
		}

		done := make(chan models.TransactionRecord, 1)
		sub, err := a.builder(model).Send(ctx, req, func(rec models.TransactionRecord) { done <- rec })
		if err != nil {
			return err
		}
		fmt.Printf("submitted %s\n", sub.TxID)
		if sendNoWait {
			return nil
		}
		return waitTerminal(ctx, done)
	},
}

func waitTerminal(ctx context.Context, done <-chan models.TransactionRecord) error {
	select {
	case rec := <-done:
		fmt.Printf("%s %s\n", rec.ID, rec.State)
		if rec.IsFailed() {
			return fmt.Errorf("transaction %s failed: %s", rec.ID, rec.ErrorMessage)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var signCmd = &cobra.Command{
	Use:   "sign <message>",
	Short: "Sign an off-chain message with the user domain tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, nil)
		if err != nil {
			return err
		}
		defer a.close()

		rec, err := a.lookupAccount(ctx, signAccount)
		if err != nil {
			return err
		}
		if err := a.registry.SetActive(ctx, rec); err != nil {
			return err
		}
		sig, err := a.signer.SignUserMessage(ctx, []byte(args[0]), models.SignAlgo(signAlgo), models.HashAlgo(signHash))
		if err != nil {
			return err
		}
		pub, err := a.signer.PublicKey(ctx, models.SignAlgo(signAlgo))
		if err != nil {
			return err
		}
		fmt.Printf("public key: %s\nsignature:  %s\n", hex.EncodeToString(pub), hex.EncodeToString(sig))
		return nil
	},
}

func encodedArgs() [][]byte {
	out := make([][]byte, len(scriptArgs))
	for i, a := range scriptArgs {
		out[i] = []byte(a)
	}
	return out
}
