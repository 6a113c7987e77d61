package auth

import (
    "crypto/hmac"
    "crypto/sha256"
    "encoding/base64"
    "encoding/hex"
    "errors"
    "strconv"
    "strings"
    "time"
)

var (
    ErrTokenFormat = errors.New("invalid token format")
    ErrTokenSig    = errors.New("invalid token signature")
    ErrTokenExp    = errors.New("token expired")
    ErrTokenSID    = errors.New("session id mismatch")
    ErrNoSecret    = errors.New("worker token secret not configured")
)

// GenerateWorkerToken builds a token string for a given session and expiry.
// Format: base64url(session_id + "." + exp_unix + "." + hex(hmac_sha256(secret, session_id+"."+exp)))
func GenerateWorkerToken(secret, sessionID string, expUnix int64) (string, error) {
    if secret == "" {
        return "", ErrNoSecret
    }
    msg := sessionID + "." + strconv.FormatInt(expUnix, 10)
    raw := msg + "." + hex.EncodeToString(sign(secret, msg))
    return base64.RawURLEncoding.EncodeToString([]byte(raw)), nil
}

// IssueWorkerToken is GenerateWorkerToken with an expiry ttl after now.
func IssueWorkerToken(secret, sessionID string, now time.Time, ttl time.Duration) (string, time.Time, error) {
    exp := now.Add(ttl).Truncate(time.Second)
    tok, err := GenerateWorkerToken(secret, sessionID, exp.Unix())
    return tok, exp, err
}

// ValidateWorkerToken parses and validates the token. The token stays valid
// for skewSeconds past its expiry. Returns the embedded sessionID and exp.
func ValidateWorkerToken(secret, token, expectSessionID string, now time.Time, skewSeconds int) (string, int64, error) {
    b, err := base64.RawURLEncoding.DecodeString(token)
    if err != nil {
        return "", 0, ErrTokenFormat
    }
    parts := strings.Split(string(b), ".")
    if len(parts) != 3 {
        return "", 0, ErrTokenFormat
    }
    sid, expStr, sigHex := parts[0], parts[1], parts[2]
    exp, err := strconv.ParseInt(expStr, 10, 64)
    if err != nil {
        return "", 0, ErrTokenFormat
    }
    if expectSessionID != "" && sid != expectSessionID {
        return "", 0, ErrTokenSID
    }
    got, err := hex.DecodeString(sigHex)
    if err != nil {
        return "", 0, ErrTokenFormat
    }
    // constant-time compare
    if !hmac.Equal(sign(secret, sid+"."+expStr), got) {
        return "", 0, ErrTokenSig
    }
    if now.Unix() > exp+int64(skewSeconds) {
        return "", 0, ErrTokenExp
    }
    return sid, exp, nil
}

func sign(secret, msg string) []byte {
    mac := hmac.New(sha256.New, []byte(secret))
    mac.Write([]byte(msg))
    return mac.Sum(nil)
}
