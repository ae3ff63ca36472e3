// Package auth implements the session provider: HMAC-signed session tokens
// which identify the current user of a connection.
package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"time"

	"github.com/tinode/pairchat/server/store/types"
)

// AuthErr is a structure for reporting an error condition.
type AuthErr string

func (e AuthErr) Error() string {
	return string(e)
}

const (
	// ErrMalformed means the secret cannot be parsed or otherwise wrong
	ErrMalformed = AuthErr("malformed")
	// ErrFailed means authentication failed: bad signature or revoked token.
	ErrFailed = AuthErr("failed")
	// ErrExpired means the secret has expired
	ErrExpired = AuthErr("expired")
)

// Session is the authenticated identity of a connection. It's passed explicitly
// to every call made on behalf of the user.
type Session struct {
	User    types.UserToken
	Expires time.Time
}

// Authenticator issues and checks session tokens.
type Authenticator struct {
	hmacSalt     []byte
	lifetime     time.Duration
	serialNumber int
}

// tokenTrailer follows the user token in the signed part.
// [2:token-length][N:user token][4:expires][2:serial-number][32:signature]
type tokenTrailer struct {
	// Token expiration time.
	Expires uint32
	// Serial number - to invalidate all tokens if needed.
	SerialNumber uint16
}

type configType struct {
	// Key for signing tokens
	Key []byte `json:"key"`
	// Serial number, to invalidate all issued tokens at once.
	SerialNum int `json:"serial_num"`
	// Token expiration time in seconds
	ExpireIn int `json:"expire_in"`
}

// New creates an Authenticator from JSON config.
func New(jsonconf json.RawMessage) (*Authenticator, error) {
	var config configType
	if err := json.Unmarshal(jsonconf, &config); err != nil {
		return nil, errors.New("auth: failed to parse config: " + err.Error())
	}

	if len(config.Key) < sha256.Size {
		return nil, errors.New("auth: the key is missing or too short")
	}
	if config.ExpireIn <= 0 {
		return nil, errors.New("auth: invalid expiration value")
	}

	return &Authenticator{
		hmacSalt:     config.Key,
		lifetime:     time.Duration(config.ExpireIn) * time.Second,
		serialNumber: config.SerialNum,
	}, nil
}

func (ta *Authenticator) sign(data []byte) []byte {
	hasher := hmac.New(sha256.New, ta.hmacSalt)
	hasher.Write(data)
	return hasher.Sum(nil)
}

// Authenticate checks validity of provided token and returns the session it describes.
func (ta *Authenticator) Authenticate(token []byte) (*Session, error) {
	var tl tokenTrailer
	trailerSize := binary.Size(&tl)
	if len(token) < 2+trailerSize+sha256.Size {
		// Token is too short
		return nil, ErrMalformed
	}

	userLen := int(binary.LittleEndian.Uint16(token))
	dataSize := 2 + userLen + trailerSize
	if len(token) != dataSize+sha256.Size {
		return nil, ErrMalformed
	}

	// Check signature.
	if !hmac.Equal(token[dataSize:], ta.sign(token[:dataSize])) {
		return nil, ErrFailed
	}

	user := types.UserToken(token[2 : 2+userLen])
	if user.Validate() != nil {
		return nil, ErrMalformed
	}

	if err := binary.Read(bytes.NewReader(token[2+userLen:dataSize]), binary.LittleEndian, &tl); err != nil {
		return nil, ErrMalformed
	}

	// Check serial number.
	if int(tl.SerialNumber) != ta.serialNumber {
		return nil, ErrFailed
	}

	// Check token expiration time.
	expires := time.Unix(int64(tl.Expires), 0).UTC()
	if expires.Before(time.Now().Add(1 * time.Second)) {
		return nil, ErrExpired
	}

	return &Session{User: user, Expires: expires}, nil
}

// GenSecret generates a new token for the user. Zero lifetime means the configured default.
func (ta *Authenticator) GenSecret(user types.UserToken, lifetime time.Duration) ([]byte, time.Time, error) {
	if err := user.Validate(); err != nil {
		return nil, time.Time{}, ErrMalformed
	}
	if lifetime == 0 {
		lifetime = ta.lifetime
	} else if lifetime < 0 {
		return nil, time.Time{}, ErrExpired
	}
	expires := time.Now().Add(lifetime).UTC().Round(time.Second)

	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, uint16(len(user)))
	buf.WriteString(string(user))
	binary.Write(buf, binary.LittleEndian, &tokenTrailer{
		Expires:      uint32(expires.Unix()),
		SerialNumber: uint16(ta.serialNumber),
	})
	buf.Write(ta.sign(buf.Bytes()))

	return buf.Bytes(), expires, nil
}
