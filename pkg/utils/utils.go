package utils

import (
	"fmt"
	"math/big"
	"strings"
)

// TruncateString shortens str to at most num bytes, marking the cut
// with an ellipsis.
func TruncateString(str string, num int) string {
	if len(str) <= num {
		return str
	}
	if num <= 3 {
		return str[:num]
	}
	return str[0:num-3] + "..."
}

func AddCommas(s string) string {
	if len(s) == 0 {
		return s
	}
	parts := strings.Split(s, ".")
	integerPart := parts[0]
	sign := ""
	if strings.HasPrefix(integerPart, "-") {
		sign = "-"
		integerPart = integerPart[1:]
	}

	n := len(integerPart)
	if n <= 3 {
		return s
	}

	var result strings.Builder
	result.WriteString(sign)
	remainder := n % 3
	if remainder > 0 {
		result.WriteString(integerPart[:remainder])
		result.WriteString(",")
	}
	for i := remainder; i < n; i += 3 {
		if i > remainder {
			result.WriteString(",")
		}
		result.WriteString(integerPart[i : i+3])
	}

	if len(parts) > 1 {
		result.WriteString(".")
		result.WriteString(parts[1])
	}
	return result.String()
}

func FormatFloat(f float64, decimals int) string {
	return AddCommas(fmt.Sprintf("%.*f", decimals, f))
}

func FormatBigFloat(f *big.Float, decimals int) string {
	if f == nil {
		return "0"
	}
	return AddCommas(f.Text('f', decimals))
}

func BigFloatToFloat64(f *big.Float) float64 {
	if f == nil {
		return 0
	}
	val, _ := f.Float64()
	return val
}

// FormatUnits renders an integer amount of base units (wei) with the given
// number of token decimals, keeping display fractional digits. Extra digits
// are truncated, never rounded up, so a balance is never overstated.
func FormatUnits(amount *big.Int, decimals, display int) string {
	if amount == nil {
		amount = new(big.Int)
	}
	if display < 0 {
		display = 0
	}
	sign := ""
	abs := new(big.Int).Set(amount)
	if abs.Sign() < 0 {
		sign = "-"
		abs.Neg(abs)
	}
	if decimals <= 0 {
		if display == 0 {
			return sign + abs.String()
		}
		return sign + abs.String() + "." + strings.Repeat("0", display)
	}

	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(abs, unit, new(big.Int))
	if display == 0 {
		return sign + whole.String()
	}

	fracStr := frac.String()
	fracStr = strings.Repeat("0", decimals-len(fracStr)) + fracStr
	if display <= len(fracStr) {
		fracStr = fracStr[:display]
	} else {
		fracStr += strings.Repeat("0", display-len(fracStr))
	}
	return sign + whole.String() + "." + fracStr
}

// UnitsToFloat converts base units to a float for charts and fiat math.
func UnitsToFloat(amount *big.Int, decimals int) float64 {
	if amount == nil {
		return 0
	}
	f := new(big.Float).SetInt(amount)
	if decimals > 0 {
		divisor := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
		f.Quo(f, divisor)
	}
	val, _ := f.Float64()
	return val
}

// ShortAddress abbreviates a hex address as 0x1234…abcd.
func ShortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}

// PaymentURI formats an EIP-681 URI for address, pinned to chainID when known.
func PaymentURI(address string, chainID int64) string {
	if chainID == 0 {
		return "ethereum:" + address
	}
	return fmt.Sprintf("ethereum:%s@%d", address, chainID)
}
