package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"okx-core/pkg/crypto"
)

func execute(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	// Flag variables outlive a single Execute.
	hashPassword, generateKey = false, false
	t.Cleanup(func() {
		rootCmd.SetIn(nil)
		rootCmd.SetOut(nil)
	})
	var out bytes.Buffer
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return strings.TrimSpace(out.String())
}

func TestTokenHashPassword(t *testing.T) {
	hash := execute(t, "hunter2\n", "token", "--hash-password")
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("hunter2")))
}

func TestSealRoundTrip(t *testing.T) {
	key := execute(t, "", "seal", "--generate-key")
	t.Setenv(crypto.KeyEnv, key)

	sealed := execute(t, "okx-secret\n", "seal")
	require.True(t, crypto.IsSealed(sealed))

	kr, err := crypto.LoadKeyring(func(k string) string {
		if k == crypto.KeyEnv {
			return key
		}
		return ""
	})
	require.NoError(t, err)
	plain, err := kr.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, "okx-secret", plain)
}

func TestPriceCache(t *testing.T) {
	var p priceCache
	require.Zero(t, p.get("BTC-USDT-SWAP"))
	p.set("BTC-USDT-SWAP", 60000)
	require.Equal(t, 60000.0, p.get("BTC-USDT-SWAP"))
}
