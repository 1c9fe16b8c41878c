package auth

import "crypto/subtle"

// StaticCredentials is a CredentialStore backed by the CLIENT_CREDENTIALS
// config map. In development mode an empty map accepts any non-empty pair,
// matching the sandbox behavior bridges expect during onboarding.
type StaticCredentials struct {
	creds    map[string]string
	devMode  bool
}

func NewStaticCredentials(creds map[string]string, devMode bool) *StaticCredentials {
	return &StaticCredentials{creds: creds, devMode: devMode}
}

func (s *StaticCredentials) Check(clientID, clientSecret string) bool {
	if clientID == "" || clientSecret == "" {
		return false
	}
	secret, ok := s.creds[clientID]
	if !ok {
		return s.devMode && len(s.creds) == 0
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(clientSecret)) == 1
}
