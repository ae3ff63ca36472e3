// Generates keys for the server config and issues session tokens.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tinode/pairchat/server/auth"
	"github.com/tinode/pairchat/server/store/types"
)

const (
	// Size of the XTEA key for message ids, store_config.uid_key.
	uidKeySize = 16
	// Size of the session token signing key, auth_token.key.
	hmacKeySize = 32
)

func main() {
	var keyType = flag.String("key", "", "Generate a random key: 'uid' for store_config.uid_key, 'hmac' for auth_token.key")
	var user = flag.String("user", "", "Issue a session token for this user")
	var token = flag.String("validate", "", "Session token to validate")
	var hmacKey = flag.String("hmac_key", "", "Base64-encoded key for signing session tokens")
	var serial = flag.Int("serial", 0, "Serial number of session tokens, auth_token.serial_num")
	var lifetime = flag.Int("expire_in", 86400, "Token lifetime in seconds")

	flag.Parse()

	switch {
	case *keyType != "":
		os.Exit(genKey(*keyType))
	case *user != "":
		os.Exit(issue(*user, *hmacKey, *serial, *lifetime))
	case *token != "":
		os.Exit(validate(*token, *hmacKey, *serial))
	default:
		flag.Usage()
	}
}

func genKey(keyType string) int {
	var size int
	var name string
	switch keyType {
	case "uid":
		size, name = uidKeySize, "uid_key"
	case "hmac":
		size, name = hmacKeySize, "key"
	default:
		fmt.Fprintln(os.Stderr, "Unknown key type", keyType)
		return 1
	}

	key := make([]byte, size)
	if _, err := rand.Read(key); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to generate key:", err)
		return 1
	}
	fmt.Printf("\"%s\": \"%s\"\n", name, base64.StdEncoding.EncodeToString(key))
	return 0
}

func authenticator(hmacKey string, serial, lifetime int) (*auth.Authenticator, error) {
	key, err := base64.StdEncoding.DecodeString(hmacKey)
	if err != nil {
		return nil, err
	}
	conf, err := json.Marshal(map[string]interface{}{
		"key":        key,
		"serial_num": serial,
		"expire_in":  lifetime,
	})
	if err != nil {
		return nil, err
	}
	return auth.New(conf)
}

func issue(user, hmacKey string, serial, lifetime int) int {
	authr, err := authenticator(hmacKey, serial, lifetime)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Invalid signing key:", err)
		return 1
	}

	secret, expires, err := authr.GenSecret(types.UserToken(user), 0)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to issue token:", err)
		return 1
	}
	fmt.Printf("Session token for '%s', expires %s:\n%s\n", user, expires.Format(time.RFC3339),
		base64.StdEncoding.EncodeToString(secret))
	return 0
}

func validate(token, hmacKey string, serial int) int {
	// Lifetime is not used for validation.
	authr, err := authenticator(hmacKey, serial, 1)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Invalid signing key:", err)
		return 1
	}

	secret, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		fmt.Println("INVALID: failed to decode base64:", err)
		return 1
	}
	sess, err := authr.Authenticate(secret)
	if err != nil {
		fmt.Println("INVALID:", err)
		return 1
	}
	fmt.Printf("Valid, user '%s', expires %s\n", sess.User, sess.Expires.Format(time.RFC3339))
	return 0
}
