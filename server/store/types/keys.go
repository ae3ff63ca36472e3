package types

import (
	"encoding/base64"
	"encoding/binary"
	"strings"
)

// UserToken is an opaque stable identifier of a user.
type UserToken string

// MaxTokenLength is the longest accepted user token, in bytes. Document stores
// limit the length of document ids and a channel key embeds two tokens.
const MaxTokenLength = 512

// Validate checks that the token can be used as a user identity.
func (t UserToken) Validate() error {
	if t == "" || len(t) > MaxTokenLength {
		return ErrMalformed
	}
	return nil
}

// ChannelKey is the canonical identity of a channel between two users.
type ChannelKey string

const (
	channelKeyPrefix    = "p2p"
	membershipKeyPrefix = "mbr"
)

// ChannelKeyOf returns the canonical key of the channel between users a and b.
// ChannelKeyOf(a, b) == ChannelKeyOf(b, a).
//
// The tokens are sorted byte-wise, the pair is written as
// uvarint(len(first)) | first | second and encoded as unpadded URL-safe base64.
// The length prefix makes the encoding injective for any token alphabet.
func ChannelKeyOf(a, b UserToken) ChannelKey {
	if b < a {
		a, b = b, a
	}
	return ChannelKey(channelKeyPrefix + encodePair(a, b))
}

// ParseChannelKey extracts the sorted pair of tokens from a channel key.
func ParseChannelKey(key ChannelKey) (UserToken, UserToken, error) {
	s := string(key)
	if !strings.HasPrefix(s, channelKeyPrefix) {
		return "", "", ErrMalformed
	}
	a, b, err := decodePair(s[len(channelKeyPrefix):])
	if err != nil {
		return "", "", err
	}
	// Reject keys which are not in canonical form.
	if ChannelKeyOf(a, b) != key {
		return "", "", ErrMalformed
	}
	return a, b, nil
}

// Includes checks if the user is one of the two participants of the channel.
func (k ChannelKey) Includes(user UserToken) bool {
	a, b, err := ParseChannelKey(k)
	if err != nil {
		return false
	}
	return a == user || b == user
}

// IsValid checks if the key is a well-formed canonical channel key.
func (k ChannelKey) IsValid() bool {
	_, _, err := ParseChannelKey(k)
	return err == nil
}

func (k ChannelKey) String() string {
	return string(k)
}

// MembershipID returns the id of the owner's index entry for peer. Unlike
// ChannelKeyOf the order of arguments matters.
func MembershipID(owner, peer UserToken) string {
	return membershipKeyPrefix + encodePair(owner, peer)
}

func encodePair(first, second UserToken) string {
	buf := make([]byte, 0, binary.MaxVarintLen64+len(first)+len(second))
	buf = binary.AppendUvarint(buf, uint64(len(first)))
	buf = append(buf, first...)
	buf = append(buf, second...)
	return base64.RawURLEncoding.EncodeToString(buf)
}

func decodePair(src string) (UserToken, UserToken, error) {
	buf, err := base64.RawURLEncoding.DecodeString(src)
	if err != nil {
		return "", "", ErrMalformed
	}
	size, n := binary.Uvarint(buf)
	if n <= 0 || size > uint64(len(buf)-n) {
		return "", "", ErrMalformed
	}
	buf = buf[n:]
	return UserToken(buf[:size]), UserToken(buf[size:]), nil
}
