package graph

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
)

// signValues adds the access token and, when an app secret is set, the
// matching appsecret_proof.
func signValues(values url.Values, req Request) error {
	if req.AccessToken == "" {
		return nil
	}
	values.Set("access_token", req.AccessToken)
	if req.AppSecret == "" {
		return nil
	}
	proof, err := AppSecretProof(req.AccessToken, req.AppSecret)
	if err != nil {
		return err
	}
	values.Set("appsecret_proof", proof)
	return nil
}

// AppSecretProof is the hex HMAC-SHA256 of the token keyed by the app secret.
func AppSecretProof(accessToken string, appSecret string) (string, error) {
	switch {
	case accessToken == "":
		return "", errors.New("appsecret_proof needs an access token")
	case appSecret == "":
		return "", errors.New("appsecret_proof needs an app secret")
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write([]byte(accessToken))
	return hex.EncodeToString(mac.Sum(nil)), nil
}
