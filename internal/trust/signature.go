package trust

import (
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/bigkaa/relayd/internal/domain/model"
)

// VerifySignature проверяет RSA PKCS#1 v1.5 подпись sig над payload.
//
// Отклонённая подпись — (false, nil). Ошибка model.ErrVerify означает,
// что проверку выполнить не удалось (нет ключа, хэш недоступен).
func VerifySignature(payload []byte, key *rsa.PublicKey, alg HashAlgorithm, sig []byte) (bool, error) {
	if key == nil {
		return false, fmt.Errorf("%w: ключ не задан", model.ErrVerify)
	}
	kind := alg.DigestKind()
	if kind == 0 || !kind.Available() {
		return false, fmt.Errorf("%w: хэш %s недоступен", model.ErrVerify, alg)
	}

	h := kind.New()
	h.Write(payload)

	err := rsa.VerifyPKCS1v15(key, kind, h.Sum(nil), sig)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, rsa.ErrVerification):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", model.ErrVerify, err)
	}
}
