package cache

import "fmt"

// Key builders for the shared cache namespace. The price key keeps its
// legacy underscore format; other services read these exact strings.

// TokenListKey caches the discovered token set of a wallet.
func TokenListKey(chain, wallet string) string {
	return fmt.Sprintf("%s:%s:all_tokens", chain, wallet)
}

// NativeBalanceKey caches the native coin balance of a wallet.
func NativeBalanceKey(chain, wallet string) string {
	return fmt.Sprintf("%s:%s:native_balance", chain, wallet)
}

// BalanceKey caches one token balance of a wallet.
func BalanceKey(chain, wallet, token string) string {
	return fmt.Sprintf("%s:%s:%s:balance", chain, wallet, token)
}

// PriceKey caches the USD price of a token.
func PriceKey(chain, token string) string {
	return fmt.Sprintf("%s_token_price_%s", chain, token)
}

// MetadataKey caches the descriptive metadata of a token contract.
func MetadataKey(chain, token string) string {
	return fmt.Sprintf("%s:token:%s:metadata", chain, token)
}
