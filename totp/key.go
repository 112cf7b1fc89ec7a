package totp

import (
	"bytes"
	"fmt"
	"image/png"

	"github.com/pquerna/otp"
	pqtotp "github.com/pquerna/otp/totp"
)

const secretSize = 20

// Key is a freshly provisioned secret ready to be copied into the
// configuration and enrolled in an authenticator app.
type Key struct {
	key *otp.Key
}

// NewKey generates a random secret for account using the given parameters.
func NewKey(issuer, account string, alg Algorithm, digits, period int) (*Key, error) {
	if digits < MinDigits || digits > MaxDigits {
		return nil, fmt.Errorf("digits must be between %d and %d", MinDigits, MaxDigits)
	}
	if period <= 0 {
		return nil, fmt.Errorf("period must be bigger than zero")
	}
	key, err := pqtotp.Generate(pqtotp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      uint(period),
		SecretSize:  secretSize,
		Digits:      otp.Digits(digits),
		Algorithm:   otpAlgorithm(alg),
	})
	if err != nil {
		return nil, fmt.Errorf("generating totp key: %w", err)
	}
	return &Key{key: key}, nil
}

// Secret returns the unpadded base32 secret.
func (k *Key) Secret() string {
	return k.key.Secret()
}

// URL returns the otpauth:// provisioning URL.
func (k *Key) URL() string {
	return k.key.URL()
}

// PNG renders the provisioning URL as a QR code.
func (k *Key) PNG(size int) ([]byte, error) {
	img, err := k.key.Image(size, size)
	if err != nil {
		return nil, fmt.Errorf("rendering qr code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding qr code: %w", err)
	}
	return buf.Bytes(), nil
}

func otpAlgorithm(alg Algorithm) otp.Algorithm {
	switch alg {
	case SHA256:
		return otp.AlgorithmSHA256
	case SHA512:
		return otp.AlgorithmSHA512
	default:
		return otp.AlgorithmSHA1
	}
}
