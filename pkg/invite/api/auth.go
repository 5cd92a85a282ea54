package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/Scille/parsec-cloud-sub013/internal/observability"
	"github.com/Scille/parsec-cloud-sub013/pkg/invite"
)

// InvitationTokenHeader carries the hexadecimal invitation Token of claimer requests.
const InvitationTokenHeader = "Invitation-Token"

const minSecretSize = 32

// DeviceClaims are the claims of a device authentication token.
type DeviceClaims struct {
	Org    invite.OrganizationID `json:"org"`
	User   invite.UserID         `json:"user"`
	Device invite.DeviceID       `json:"device"`
	jwt.RegisteredClaims
}

// TokenAuthority mints & verifies HS256 device authentication tokens.
type TokenAuthority struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
}

func (self TokenAuthority) Check() error {
	if len(self.Secret) < minSecretSize {
		return newError("Secret shorter than %d bytes", minSecretSize)
	}
	if self.TTL <= 0 {
		return newError("non positive TTL")
	}
	return nil
}

// Mint returns a signed token authenticating author.
func (self TokenAuthority) Mint(author invite.Author) (string, error) {
	err := self.Check()
	if nil != err {
		return "", wrapError(err, "invalid TokenAuthority")
	}
	if "" == author.Org || "" == author.UserID() {
		return "", newError("incomplete author %+v", author)
	}

	now := time.Now()
	claims := DeviceClaims{
		Org:    author.Org,
		User:   author.UserID(),
		Device: author.DeviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    self.Issuer,
			Subject:   string(author.DeviceID),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(self.TTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(self.Secret)
	if nil != err {
		return "", wrapError(err, "failed signing token")
	}
	return signed, nil
}

// Verify validates tokenString & returns the Author it authenticates.
// It errors with ErrUnauthorized if tokenString is invalid.
func (self TokenAuthority) Verify(tokenString string) (invite.Author, error) {
	var claims DeviceClaims
	_, err := jwt.ParseWithClaims(
		tokenString,
		&claims,
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, newError("unexpected signing method %v", token.Header["alg"])
			}
			return self.Secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(self.Issuer),
		jwt.WithExpirationRequired(),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return invite.Author{}, wrapFlag(err, ErrUnauthorized, "expired token")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return invite.Author{}, wrapFlag(err, ErrUnauthorized, "invalid token signature")
	case nil != err:
		return invite.Author{}, wrapFlag(err, ErrUnauthorized, "invalid token")
	}

	if "" == claims.Org || claims.User != claims.Device.UserID() {
		return invite.Author{}, raise(ErrUnauthorized, "inconsistent token claims")
	}
	return invite.Author{Org: claims.Org, DeviceID: claims.Device}, nil
}

type ctxKey int

const (
	authorKey ctxKey = iota
	invitedKey
)

func authorOf(ctx context.Context) invite.Author {
	author, _ := ctx.Value(authorKey).(invite.Author)
	return author
}

func invitedOf(ctx context.Context) invite.Invited {
	invited, _ := ctx.Value(invitedKey).(invite.Invited)
	return invited
}

// deviceAuth authenticates the Bearer token of the request for the {org} organization.
func (self *handler) deviceAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenString, found := strings.CutPrefix(header, "Bearer ")
		if !found || "" == tokenString {
			self.writeError(w, r, raise(ErrUnauthorized, "missing Bearer token"))
			return
		}
		author, err := self.tokens.Verify(tokenString)
		if nil != err {
			self.writeError(w, r, err)
			return
		}
		if org := invite.OrganizationID(chi.URLParam(r, "org")); org != author.Org {
			self.writeError(w, r, raise(ErrForbidden, "token not valid for organization %s", org))
			return
		}

		ctx := context.WithValue(observability.With(r.Context(), "author", author.DeviceID), authorKey, author)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// invitedAuth reads the invitation Token of the request for the {org} organization.
// The Token itself is checked by the Service.
func (self *handler) invitedAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(InvitationTokenHeader)
		if "" == header {
			self.writeError(w, r, raise(ErrUnauthorized, "missing %s header", InvitationTokenHeader))
			return
		}
		token, err := invite.ParseToken(header)
		if nil != err {
			self.writeError(w, r, wrapFlag(err, ErrUnauthorized, "invalid %s header", InvitationTokenHeader))
			return
		}
		invited := invite.Invited{Org: invite.OrganizationID(chi.URLParam(r, "org")), Token: token}
		ctx := context.WithValue(r.Context(), invitedKey, invited)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
