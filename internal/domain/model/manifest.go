// Пакет model — доменные модели relay.
// Manifest — подписанный манифест shared-файла: текстовый формат key=value,
// девять обязательных полей.
package model

import (
	"errors"
	"strconv"
	"strings"
)

// errLineBreak — значение поля содержит перевод строки и исказило бы
// построчный формат манифеста.
var errLineBreak = errors.New("значение содержит перевод строки")

// Имена полей манифеста.
const (
	FieldHeader      = "header"
	FieldAlgorithm   = "algorithm"
	FieldDigest      = "digest"
	FieldHashValue   = "hash_value"
	FieldShortPubkey = "short_pubkey"
	FieldHostname    = "hostname"
	FieldKeydate     = "keydate"
	FieldKeyID       = "keyid"
	FieldExpires     = "expires"
)

// ManifestFields — обязательные поля в каноническом порядке вывода.
var ManifestFields = []string{
	FieldHeader,
	FieldAlgorithm,
	FieldDigest,
	FieldHashValue,
	FieldShortPubkey,
	FieldHostname,
	FieldKeydate,
	FieldKeyID,
	FieldExpires,
}

// ExpiryResolver преобразует относительное выражение срока жизни
// в абсолютное время (epoch seconds, UTC).
type ExpiryResolver interface {
	Resolve(expr string) (int64, error)
}

// Manifest — манифест загруженного файла.
// Создаётся один раз на запрос и не изменяется.
type Manifest struct {
	// Header — тег протокола (например, rudder-signature-v1)
	Header string
	// Algorithm — алгоритм хэширования подписи (sha256, sha512)
	Algorithm string
	// Digest — подпись содержимого (hex)
	Digest string
	// HashValue — хэш публичного ключа подписанта (hex)
	HashValue string
	// ShortPubkey — тело RSA публичного ключа в base64, без armor
	ShortPubkey string
	// Hostname — идентификатор узла-источника
	Hostname string
	Keydate  string
	KeyID    string
	// Expires — относительное выражение TTL, например "1d 1h"
	Expires string
}

// ParseText разбирает текст манифеста за один проход в map
// и проверяет наличие всех обязательных полей.
func ParseText(text string) (*Manifest, error) {
	return ParseFields(parseLines(text))
}

// ParseFields строит манифест из map (например, декодированной формы).
// Отсутствующее, пустое или многострочное поле — *FieldError с именем поля.
func ParseFields(fields map[string]string) (*Manifest, error) {
	for _, name := range ManifestFields {
		value := fields[name]
		if value == "" {
			return nil, &FieldError{Field: name}
		}
		if strings.ContainsAny(value, "\r\n") {
			return nil, &FieldError{Field: name, Err: errLineBreak}
		}
	}

	return &Manifest{
		Header:      fields[FieldHeader],
		Algorithm:   fields[FieldAlgorithm],
		Digest:      fields[FieldDigest],
		HashValue:   fields[FieldHashValue],
		ShortPubkey: fields[FieldShortPubkey],
		Hostname:    fields[FieldHostname],
		Keydate:     fields[FieldKeydate],
		KeyID:       fields[FieldKeyID],
		Expires:     fields[FieldExpires],
	}, nil
}

// Render формирует текст манифеста для хранения. Поле expires
// заменяется абсолютным временем, вычисленным resolver на момент вызова,
// поэтому два вызова в разное время дают разный текст.
func (m *Manifest) Render(resolver ExpiryResolver) (string, error) {
	expiresAt, err := resolver.Resolve(m.Expires)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	writeField(&b, FieldHeader, m.Header)
	writeField(&b, FieldAlgorithm, m.Algorithm)
	writeField(&b, FieldDigest, m.Digest)
	writeField(&b, FieldHashValue, m.HashValue)
	writeField(&b, FieldShortPubkey, m.ShortPubkey)
	writeField(&b, FieldHostname, m.Hostname)
	writeField(&b, FieldKeydate, m.Keydate)
	writeField(&b, FieldKeyID, m.KeyID)
	writeField(&b, FieldExpires, strconv.FormatInt(expiresAt, 10))
	return b.String(), nil
}

// LookupField извлекает значение одного поля из текста манифеста.
// Поле ищется только в начале строки, первое вхождение побеждает.
func LookupField(text, key string) (string, bool) {
	for line := range strings.SplitSeq(text, "\n") {
		k, v, ok := splitLine(line)
		if ok && k == key {
			return v, true
		}
	}
	return "", false
}

// parseLines разбирает строки key=value в map. Строки без '=' и с пустым
// значением пропускаются; повторное вхождение ключа игнорируется.
func parseLines(text string) map[string]string {
	fields := make(map[string]string, len(ManifestFields))
	for line := range strings.SplitSeq(text, "\n") {
		k, v, ok := splitLine(line)
		if !ok {
			continue
		}
		if _, seen := fields[k]; !seen {
			fields[k] = v
		}
	}
	return fields
}

func splitLine(line string) (key, value string, ok bool) {
	line = strings.TrimSuffix(line, "\r")
	key, value, ok = strings.Cut(line, "=")
	if !ok || key == "" || value == "" {
		return "", "", false
	}
	return key, value, true
}

func writeField(b *strings.Builder, key, value string) {
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(value)
	b.WriteByte('\n')
}
