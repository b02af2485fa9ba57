package server

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"net/http"
	"strconv"
	"strings"
	"time"

	"trading-gateway/src/logger"
	"trading-gateway/src/models"
)

// -----------------------------------------------------------------------------
// HandshakeInspector extracts a client identity from the connection request
// and authorizes it before the websocket upgrade completes.
//
// Recognized query parameters: clientId, deviceId, token, sessionToken.
// Header fallback: x-device-id.
// -----------------------------------------------------------------------------

type HandshakeInspector struct {
	jwtSecret string
	log       *logger.Logger
}

// -----------------------------------------------------------------------------

func NewHandshakeInspector(jwtSecret string, log *logger.Logger) *HandshakeInspector {
	return &HandshakeInspector{jwtSecret: jwtSecret, log: log}
}

// -----------------------------------------------------------------------------

// Extract builds the identity candidate or fails with the rejection cause.
func (h *HandshakeInspector) Extract(r *http.Request) (models.MClientIdentity, error) {
	var identity models.MClientIdentity

	query := r.URL.Query()
	clientID := query.Get("clientId")
	deviceID := query.Get("deviceId")
	token := query.Get("token")
	sessionToken := query.Get("sessionToken")

	// A bearer token can stand in for the client id
	if clientID == "" && token != "" {
		if principal, ok := VerifyToken(token); ok {
			clientID = principal.Subject
		}
	}

	if deviceID == "" {
		deviceID = r.Header.Get("x-device-id")
	}

	if clientID == "" {
		return identity, fmt.Errorf("missing user identification")
	}

	if deviceID == "" {
		deviceID = "trading-device-" + clientID
	}
	identity.ClientID = clientID
	identity.DeviceID = deviceIDToInt(deviceID)

	if len(sessionToken) == 2*models.SessionTokenLen {
		raw, err := hex.DecodeString(sessionToken)
		if err == nil {
			copy(identity.SessionToken[:], raw)
			return identity, nil
		}
		h.log.Warning("ignoring malformed session token for client %s", clientID)
	}

	identity.SessionToken = GenerateSessionToken(clientID, deviceID, h.jwtSecret)
	return identity, nil
}

// -----------------------------------------------------------------------------

// Authorize runs after extraction; the demo gateway accepts every extracted
// identity and relies on the hello handler for authentication.
func (h *HandshakeInspector) Authorize(identity models.MClientIdentity, r *http.Request) bool {
	h.log.Debug("authorizing client %s (device %d)", identity.ClientID, identity.DeviceID)
	return true
}

// -----------------------------------------------------------------------------

// RejectReason is the stable close reason sent on handshake rejection.
func (h *HandshakeInspector) RejectReason() string {
	return "Trading authentication failed"
}

// -----------------------------------------------------------------------------

// deviceIDToInt parses numeric device ids and hashes everything else into a
// bounded integer.
func deviceIDToInt(deviceID string) int {
	if n, err := strconv.Atoi(deviceID); err == nil {
		return n
	}
	hasher := fnv.New32a()
	hasher.Write([]byte(deviceID))
	return int(hasher.Sum32() % 1000000)
}

// -----------------------------------------------------------------------------

// GenerateSessionToken derives a resume token from the first 16 bytes of
// SHA-256(userId ":" deviceId ":" nowMs ":" secret).
func GenerateSessionToken(userID, deviceID, secret string) [models.SessionTokenLen]byte {
	raw := fmt.Sprintf("%s:%s:%d:%s", userID, deviceID, time.Now().UnixMilli(), secret)
	sum := sha256.Sum256([]byte(raw))

	var token [models.SessionTokenLen]byte
	copy(token[:], sum[:models.SessionTokenLen])
	return token
}

// -----------------------------------------------------------------------------
// Token verification (demo contract): tokens are opaque strings mapped to
// principals by pattern. Empty tokens fail.
// -----------------------------------------------------------------------------

func VerifyToken(token string) (models.MPrincipal, bool) {
	if token == "" {
		return models.MPrincipal{}, false
	}

	switch {
	case strings.Contains(token, "admin"):
		return models.MPrincipal{Subject: "admin-user-789", Roles: []string{"admin", "trader", "viewer"}}, true
	case strings.Contains(token, "trader"):
		return models.MPrincipal{Subject: "trader-user-123", Roles: []string{"trader", "viewer"}}, true
	case strings.Contains(token, "viewer"):
		return models.MPrincipal{Subject: "viewer-user-456", Roles: []string{"viewer"}}, true
	case strings.Contains(token, "demo"):
		return models.MPrincipal{Subject: "demo-user-001", Roles: []string{"viewer"}}, true
	default:
		prefix := token
		if len(prefix) > 8 {
			prefix = prefix[:8]
		}
		return models.MPrincipal{Subject: "authenticated-user-" + prefix, Roles: []string{"viewer"}}, true
	}
}
