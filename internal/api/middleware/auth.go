// auth.go — JWT для административных маршрутов relayd (relay-ctl/reload,
// remote-run). Включается, только если задан RELAY_JWKS_URL: shared-files
// и health остаются открытыми, загрузки аутентифицируются подписью файла.
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/relayd/internal/api/errors"
)

// Scopes административных маршрутов.
const (
	// ScopeRelayAdmin — перечитывание реестра узлов.
	ScopeRelayAdmin = "relay:admin"
	// ScopeRemoteRun — запуск агента на узлах.
	ScopeRemoteRun = "relay:remote-run"
)

type operatorKey struct{}

// Claims — claims токена оператора. Scope принимается в двух видах:
// строкой через пробел ("scope", Keycloak) и массивом ("scopes").
type Claims struct {
	jwt.RegisteredClaims
	ScopeString string   `json:"scope"`
	ScopeArray  []string `json:"scopes"`
}

// HasScope сообщает, выдан ли токену scope.
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(strings.Fields(c.ScopeString), scope) ||
		slices.Contains(c.ScopeArray, scope)
}

// JWTAuth проверяет токены операторов по ключам JWKS.
type JWTAuth struct {
	jwks   keyfunc.Keyfunc
	leeway time.Duration
	logger *slog.Logger
}

// JWTAuthConfig — параметры JWKS-клиента.
type JWTAuthConfig struct {
	JWKSURL         string
	CACertPath      string
	ClientTimeout   time.Duration
	RefreshInterval time.Duration
	JWTLeeway       time.Duration
}

// NewJWTAuth создаёт проверку токенов с ключами из JWKS endpoint.
// Недоступный при старте endpoint не ошибка: ключи подтянутся при обновлении.
func NewJWTAuth(authCfg JWTAuthConfig, logger *slog.Logger) (*JWTAuth, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if authCfg.CACertPath != "" {
		pool, err := loadCAPool(authCfg.CACertPath)
		if err != nil {
			return nil, err
		}
		tlsConfig.RootCAs = pool
	}

	storage, err := jwkset.NewStorageFromHTTP(authCfg.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client: &http.Client{
			Timeout:   authCfg.ClientTimeout,
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           authCfg.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", authCfg.JWKSURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}
	return NewJWTAuthWithKeyfunc(k, authCfg.JWTLeeway, logger), nil
}

// NewJWTAuthWithKeyfunc создаёт проверку токенов с готовой keyfunc.
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, leeway time.Duration, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		jwks:   kf,
		leeway: leeway,
		logger: logger.With(slog.String("component", "jwt_auth")),
	}
}

func loadCAPool(path string) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("загрузка CA-сертификата %s: %w", path, err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("CA-сертификат %s не содержит PEM-сертификатов", path)
	}
	return pool, nil
}

// Require пропускает запрос только с валидным RS256-токеном, у которого
// есть scope. Нет или невалиден токен — 401, нет scope — 403.
// Каждый допущенный запрос попадает в журнал с subject оператора.
func (j *JWTAuth) Require(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := j.authenticate(r)
			if err != nil {
				j.logger.Debug("Токен отклонён",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, err.Error())
				return
			}
			if !claims.HasScope(scope) {
				apierrors.Forbidden(w, "Недостаточно прав: требуется scope "+scope)
				return
			}

			j.logger.Info("Административный запрос",
				slog.String("operator", claims.Subject),
				slog.String("scope", scope),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			ctx := context.WithValue(r.Context(), operatorKey{}, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (j *JWTAuth) authenticate(r *http.Request) (*Claims, error) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return nil, errors.New("Требуется заголовок Authorization: Bearer <token>")
	}

	claims := &Claims{}
	if _, err := jwt.ParseWithClaims(token, claims, j.jwks.KeyfuncCtx(r.Context()),
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(j.leeway),
	); err != nil {
		return nil, fmt.Errorf("Невалидный или просроченный токен: %w", err)
	}
	if claims.Subject == "" {
		return nil, errors.New("Отсутствует sub в токене")
	}
	return claims, nil
}

// OperatorFromContext возвращает subject оператора, допущенного Require.
// Без JWT — пустая строка.
func OperatorFromContext(ctx context.Context) string {
	operator, _ := ctx.Value(operatorKey{}).(string)
	return operator
}
