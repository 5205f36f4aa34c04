package trust

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/bigkaa/relayd/internal/domain/model"
)

const (
	pemBegin = "-----BEGIN RSA PUBLIC KEY-----\n"
	pemEnd   = "\n-----END RSA PUBLIC KEY-----\n"
)

// LoadPublicKey восстанавливает RSA публичный ключ из тела base64
// (short_pubkey): тело оборачивается в PKCS#1 armor и декодируется.
// Ошибки оборачивают model.ErrKey.
func LoadPublicKey(body string) (*rsa.PublicKey, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("%w: пустое тело ключа", model.ErrKey)
	}

	block, _ := pem.Decode([]byte(pemBegin + body + pemEnd))
	if block == nil {
		return nil, fmt.Errorf("%w: не удалось декодировать PEM", model.ErrKey)
	}

	key, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrKey, err)
	}
	return key, nil
}

// Fingerprint вычисляет отпечаток ключа: хэш DER-кодирования
// SubjectPublicKeyInfo в hex.
func Fingerprint(key *rsa.PublicKey, alg HashAlgorithm) (string, error) {
	if key == nil {
		return "", fmt.Errorf("%w: ключ не задан", model.ErrKey)
	}
	if alg.DigestKind() == 0 {
		return "", fmt.Errorf("%w: %s", model.ErrInvalidHashType, alg)
	}

	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrKey, err)
	}
	return alg.Digest(der), nil
}

// FingerprintMatches сравнивает отпечаток ключа с ожидаемым значением
// точным строковым равенством.
func FingerprintMatches(key *rsa.PublicKey, alg HashAlgorithm, expected string) bool {
	fp, err := Fingerprint(key, alg)
	if err != nil || expected == "" {
		return false
	}
	return fp == expected
}
