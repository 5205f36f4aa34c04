package nodes

import (
	"errors"
	"strings"
	"testing"

	"github.com/bigkaa/relayd/internal/domain/model"
	"github.com/bigkaa/relayd/internal/trust"
)

const (
	sha256Hex = "6b86b273ff34fce19d6b804eff5a3f5747ada4eaa22f1d49c01e52ddb7875b4b"
	sha512Hex = "4dff4ea340f0a823f15d3f4f01ab62eae0e5da579ccb851f8db9dfe84c58b2b3" +
		"7b89903a740e1ee172da793a6e79d560e5f7f9bd058a12a280433ed6fa46510a"
)

func TestParseKeyHash(t *testing.T) {
	tests := []struct {
		in      string
		wantAlg trust.HashAlgorithm
		wantHex string
	}{
		{"sha256:" + sha256Hex, trust.Sha256, sha256Hex},
		{"sha256:" + strings.ToUpper(sha256Hex), trust.Sha256, sha256Hex},
		{"sha512:" + sha512Hex, trust.Sha512, sha512Hex},
	}
	for _, tt := range tests {
		got, err := ParseKeyHash(tt.in)
		if err != nil {
			t.Fatalf("ParseKeyHash(%q): %v", tt.in, err)
		}
		if got.Algorithm != tt.wantAlg || got.Value != tt.wantHex {
			t.Errorf("ParseKeyHash(%q) = %+v", tt.in, got)
		}
		if got.String() != tt.wantAlg.String()+":"+tt.wantHex {
			t.Errorf("String() = %q", got.String())
		}
	}
}

func TestParseKeyHash_Empty(t *testing.T) {
	got, err := ParseKeyHash("")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if !got.IsZero() || got.String() != "" {
		t.Errorf("ожидался нулевой KeyHash, получено %+v", got)
	}
}

func TestParseKeyHash_Invalid(t *testing.T) {
	tests := []struct {
		in   string
		want error
	}{
		{sha256Hex, model.ErrKey},
		{"sha256:", model.ErrKey},
		{"sha256:zz" + sha256Hex[2:], model.ErrKey},
		{"sha256:" + sha256Hex[:62], model.ErrKey},
		{"sha256:" + sha512Hex, model.ErrKey},
		{"md5:" + sha256Hex, model.ErrInvalidHashType},
	}
	for _, tt := range tests {
		_, err := ParseKeyHash(tt.in)
		if !errors.Is(err, tt.want) {
			t.Errorf("ParseKeyHash(%q): ожидалась %v, получено %v", tt.in, tt.want, err)
		}
	}
}
