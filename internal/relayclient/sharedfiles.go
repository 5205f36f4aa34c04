package relayclient

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bigkaa/relayd/internal/domain/model"
	"github.com/bigkaa/relayd/internal/trust"
)

// Upload — подписанная загрузка shared-файла.
type Upload struct {
	TargetID string
	SourceID string
	FileID   string
	// Fields — поля манифеста (см. Signer.Manifest)
	Fields  map[string]string
	Payload []byte
}

// Put загружает shared-файл.
func (c *Client) Put(ctx context.Context, u Upload) error {
	form := url.Values{}
	for name, value := range u.Fields {
		form.Set(name, value)
	}
	form.Set("content", base64.StdEncoding.EncodeToString(u.Payload))

	req, err := c.newRequest(ctx, http.MethodPut, sharedFilePath(u.TargetID, u.SourceID, u.FileID),
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// Probe сообщает, хранит ли relay содержимое с hash_value == hash.
func (c *Client) Probe(ctx context.Context, targetID, sourceID, fileID, hash string) (bool, error) {
	path := sharedFilePath(targetID, sourceID, fileID) + "?hash=" + url.QueryEscape(hash)
	req, err := c.newRequest(ctx, http.MethodHead, path, nil)
	if err != nil {
		return false, err
	}

	err = c.do(req, nil)
	switch {
	case err == nil:
		return true, nil
	case IsStatus(err, http.StatusNotFound):
		return false, nil
	default:
		return false, err
	}
}

func sharedFilePath(targetID, sourceID, fileID string) string {
	return "/rudder/relay-api/shared-files/" +
		url.PathEscape(targetID) + "/" + url.PathEscape(sourceID) + "/" + url.PathEscape(fileID)
}

// SignerConfig — параметры подписанта.
type SignerConfig struct {
	Hostname string
	KeyID    string
	Keydate  string
	// Algorithm — алгоритм подписи содержимого
	Algorithm trust.HashAlgorithm
	// FingerprintAlgorithm — алгоритм отпечатка, закреплённого за узлом на relay
	FingerprintAlgorithm trust.HashAlgorithm
}

// Signer формирует манифест загрузки от имени узла.
type Signer struct {
	cfg         SignerConfig
	key         *rsa.PrivateKey
	shortPubkey string
	fingerprint string
}

// NewSigner создаёт подписанта с приватным ключом узла.
func NewSigner(key *rsa.PrivateKey, cfg SignerConfig) (*Signer, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: ключ подписи не задан", model.ErrKey)
	}
	if cfg.Hostname == "" {
		return nil, &model.FieldError{Field: model.FieldHostname}
	}
	fp, err := trust.Fingerprint(&key.PublicKey, cfg.FingerprintAlgorithm)
	if err != nil {
		return nil, err
	}

	return &Signer{
		cfg:         cfg,
		key:         key,
		shortPubkey: trust.ShortPubkey(&key.PublicKey),
		fingerprint: fp,
	}, nil
}

// Fingerprint — hash_value, который relay сверит с закреплённым отпечатком.
func (s *Signer) Fingerprint() string {
	return s.fingerprint
}

// Manifest возвращает поля манифеста для payload со сроком жизни expires
// (например, "1d 2h").
func (s *Signer) Manifest(payload []byte, expires string) (map[string]string, error) {
	sig, err := trust.Sign(payload, s.key, s.cfg.Algorithm)
	if err != nil {
		return nil, err
	}

	return map[string]string{
		model.FieldHeader:      "rudder-signature-v1",
		model.FieldAlgorithm:   s.cfg.Algorithm.String(),
		model.FieldDigest:      hex.EncodeToString(sig),
		model.FieldHashValue:   s.fingerprint,
		model.FieldShortPubkey: s.shortPubkey,
		model.FieldHostname:    s.cfg.Hostname,
		model.FieldKeydate:     s.cfg.Keydate,
		model.FieldKeyID:       s.cfg.KeyID,
		model.FieldExpires:     expires,
	}, nil
}
