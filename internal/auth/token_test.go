package auth

import (
    "testing"
    "time"
)

func TestGenerateAndValidateToken(t *testing.T) {
    sec := "secret123"
    sid := "abc"
    exp := time.Now().Add(5 * time.Minute).Unix()

    tok, err := GenerateWorkerToken(sec, sid, exp)
    if err != nil { t.Fatalf("gen: %v", err) }

    gotSID, gotExp, err := ValidateWorkerToken(sec, tok, sid, time.Now(), 60)
    if err != nil { t.Fatalf("validate: %v", err) }
    if gotSID != sid || gotExp != exp {
        t.Fatalf("mismatch: %s/%d", gotSID, gotExp)
    }
}

func TestBadSignature(t *testing.T) {
    tok, _ := GenerateWorkerToken("secret123", "abc", time.Now().Add(5*time.Minute).Unix())
    if _, _, err := ValidateWorkerToken("other", tok, "abc", time.Now(), 60); err != ErrTokenSig {
        t.Fatalf("expected ErrTokenSig, got %v", err)
    }
    if _, _, err := ValidateWorkerToken("secret123", "!!", "abc", time.Now(), 60); err != ErrTokenFormat {
        t.Fatalf("expected ErrTokenFormat, got %v", err)
    }
}

func TestSessionMismatch(t *testing.T) {
    tok, _ := GenerateWorkerToken("s", "abc", time.Now().Add(time.Minute).Unix())
    if _, _, err := ValidateWorkerToken("s", tok, "xyz", time.Now(), 0); err != ErrTokenSID {
        t.Fatalf("expected ErrTokenSID, got %v", err)
    }
}

func TestExpiryWithSkew(t *testing.T) {
    now := time.Unix(1_700_000_000, 0)
    tok, exp, err := IssueWorkerToken("s", "abc", now, time.Minute)
    if err != nil { t.Fatalf("issue: %v", err) }
    if exp.Unix() != now.Unix()+60 {
        t.Fatalf("unexpected exp %v", exp)
    }
    if _, _, err := ValidateWorkerToken("s", tok, "abc", now.Add(90*time.Second), 30); err != nil {
        t.Fatalf("expected token valid within skew: %v", err)
    }
    if _, _, err := ValidateWorkerToken("s", tok, "abc", now.Add(91*time.Second), 30); err != ErrTokenExp {
        t.Fatalf("expected ErrTokenExp, got %v", err)
    }
}

func TestNoSecret(t *testing.T) {
    if _, err := GenerateWorkerToken("", "abc", 1); err != ErrNoSecret {
        t.Fatalf("expected ErrNoSecret, got %v", err)
    }
}
