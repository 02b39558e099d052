package signature

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigner_KnownVectors(t *testing.T) {
	// RFC 4231 test case 2
	key := "Jefe"
	data := "what do ya want for nothing?"

	assert.Equal(t,
		"5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843",
		NewSigner(SHA256, key).Sign(data))
	assert.Equal(t,
		"164b7a7bfcf819e2e395fbe73b56e0a387bd64222e831fd610270cd7ea2505549758bf75c05a994a6d034f65f8f0e6fdcaeab1a34d4a6b4b636e070a38bce737",
		NewSigner(SHA512, key).Sign(data))
}

func TestSigner_Verify(t *testing.T) {
	s := NewSigner(SHA512, "secret")
	data := "vnp_Amount=1800000&vnp_TxnRef=1234"
	sig := s.Sign(data)

	assert.True(t, s.Verify(sig, data))
	assert.True(t, s.Verify(strings.ToUpper(sig), data), "verification ignores hex case")
	assert.False(t, s.Verify("", data))
	assert.False(t, s.Verify(sig, data+"0"))
	assert.False(t, NewSigner(SHA512, "other").Verify(sig, data))
}

func TestSigner_Verify_RejectsAnyFlippedByte(t *testing.T) {
	s := NewSigner(SHA256, "k")
	data := "amount=180"
	sig := s.Sign(data)

	for i := range sig {
		b := []byte(sig)
		if b[i] == '0' {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
		assert.False(t, s.Verify(string(b), data), "flipped position %d", i)
	}
}

func TestSortedCanonical(t *testing.T) {
	params := map[string]string{
		"vnp_TxnRef":         "1234",
		"vnp_Amount":         "1800000",
		"vnp_SecureHash":     "abc",
		"vnp_SecureHashType": "HmacSHA512",
		"vnp_BankCode":       "",
	}

	got := SortedCanonical(params, "vnp_SecureHash", "vnp_SecureHashType")
	assert.Equal(t, "vnp_Amount=1800000&vnp_TxnRef=1234", got)
}

func TestCanonical_KeepsGivenOrder(t *testing.T) {
	got := Canonical([]Pair{{"b", "2"}, {"a", "1"}, {"extraData", ""}})
	assert.Equal(t, "b=2&a=1&extraData=", got)
}

func TestEscaped(t *testing.T) {
	pairs := Escaped([]Pair{{"vnp_OrderInfo", "Thanh toan don hang 1234"}, {"vnp_ReturnUrl", "https://shop/return?x=1"}})
	require.Len(t, pairs, 2)
	assert.Equal(t, "Thanh+toan+don+hang+1234", pairs[0].Value)
	assert.Equal(t, "https%3A%2F%2Fshop%2Freturn%3Fx%3D1", pairs[1].Value)
}
