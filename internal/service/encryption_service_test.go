package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Valid 32-byte key in hex (64 chars)
const testAESKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestAESEncryptionService_NewInvalidKey(t *testing.T) {
	_, err := NewAESEncryptionService("shortkey")
	assert.Error(t, err)

	_, err = NewAESEncryptionService("abcd")
	assert.ErrorContains(t, err, "32 bytes")
}

func TestAESEncryptionService_RoundTripGatewayResponse(t *testing.T) {
	svc, err := NewAESEncryptionService(testAESKey)
	require.NoError(t, err)

	raw := `{"id":"pay_29QQoUBi66xm2f","order_id":"order_9A33XWu170gUtm","status":"captured","method":"upi"}`
	sealed, err := svc.Encrypt(raw)
	require.NoError(t, err)
	assert.NotContains(t, sealed, "pay_29QQoUBi66xm2f")

	opened, err := svc.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, raw, opened)
}

func TestAESEncryptionService_DifferentNonces(t *testing.T) {
	svc, err := NewAESEncryptionService(testAESKey)
	require.NoError(t, err)

	c1, err := svc.Encrypt("same")
	require.NoError(t, err)
	c2, err := svc.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, c1, c2)
}

func TestAESEncryptionService_Tampered(t *testing.T) {
	svc, err := NewAESEncryptionService(testAESKey)
	require.NoError(t, err)

	sealed, err := svc.Encrypt("secret")
	require.NoError(t, err)

	b := []byte(sealed)
	if b[len(b)-3] == 'A' {
		b[len(b)-3] = 'B'
	} else {
		b[len(b)-3] = 'A'
	}
	_, err = svc.Decrypt(string(b))
	assert.Error(t, err)
}

func TestAESEncryptionService_WrongKey(t *testing.T) {
	svc1, _ := NewAESEncryptionService(testAESKey)
	svc2, _ := NewAESEncryptionService("abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789")

	sealed, err := svc1.Encrypt("raw")
	require.NoError(t, err)

	_, err = svc2.Decrypt(sealed)
	assert.Error(t, err)
}

func TestAESEncryptionService_InvalidInput(t *testing.T) {
	svc, _ := NewAESEncryptionService(testAESKey)

	_, err := svc.Decrypt("not base64 !!!")
	assert.Error(t, err)

	_, err = svc.Decrypt("AAAA")
	assert.ErrorIs(t, err, errCiphertextTooShort)
}
