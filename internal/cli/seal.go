package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"okx-core/pkg/crypto"
)

var generateKey bool

var sealCmd = &cobra.Command{
	Use:   "seal",
	Short: "Seal a credential read from stdin for use in config",
	Long: `Seal encrypts one line from stdin with the newest master key in ` + crypto.KeyEnv + `
(and its _V2.._V10 rotations) and prints an ENC[vN]: value. Sealed values are accepted
for okx_api_key, okx_secret_key, okx_passphrase, jwt_secret and db_dsn.

With --generate-key a fresh master key is printed instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if generateKey {
			key, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		}

		kr, err := crypto.LoadKeyring(os.Getenv)
		if err != nil {
			return err
		}
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read value: %w", err)
		}
		// Already-sealed input is resealed under the newest key.
		plain, err := kr.OpenIfSealed(strings.TrimRight(line, "\r\n"))
		if err != nil {
			return err
		}
		sealed, err := kr.Seal(plain)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), sealed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sealCmd)
	sealCmd.Flags().BoolVar(&generateKey, "generate-key", false, "print a new random master key")
}
