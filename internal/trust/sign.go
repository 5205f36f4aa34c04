package trust

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"github.com/bigkaa/relayd/internal/domain/model"
)

// Sign подписывает payload ключом узла (RSA PKCS#1 v1.5).
// Используется клиентом relayctl; relay только проверяет подписи.
func Sign(payload []byte, key *rsa.PrivateKey, alg HashAlgorithm) ([]byte, error) {
	kind := alg.DigestKind()
	if kind == 0 || !kind.Available() {
		return nil, fmt.Errorf("%w: %s", model.ErrInvalidHashType, alg)
	}

	h := kind.New()
	h.Write(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, kind, h.Sum(nil))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrKey, err)
	}
	return sig, nil
}

// ShortPubkey — тело PKCS#1 публичного ключа в base64 без armor,
// обратное LoadPublicKey.
func ShortPubkey(key *rsa.PublicKey) string {
	return base64.StdEncoding.EncodeToString(x509.MarshalPKCS1PublicKey(key))
}

// LoadPrivateKeyPEM разбирает приватный RSA ключ в PEM (PKCS#1 или PKCS#8).
func LoadPrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: PEM блок не найден", model.ErrKey)
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrKey, err)
		}
		return key, nil
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrKey, err)
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: ключ не RSA", model.ErrKey)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("%w: неподдерживаемый тип PEM %q", model.ErrKey, block.Type)
	}
}

// LoadPublicKeyPEM разбирает публичный RSA ключ в PEM (PKCS#1 или
// SubjectPublicKeyInfo). Приватный ключ тоже принимается: берётся его
// публичная часть.
func LoadPublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: PEM блок не найден", model.ErrKey)
	}

	switch block.Type {
	case "RSA PUBLIC KEY":
		key, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrKey, err)
		}
		return key, nil
	case "PUBLIC KEY":
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrKey, err)
		}
		key, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: ключ не RSA", model.ErrKey)
		}
		return key, nil
	default:
		priv, err := LoadPrivateKeyPEM(data)
		if err != nil {
			return nil, err
		}
		return &priv.PublicKey, nil
	}
}
