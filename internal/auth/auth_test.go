package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	testKey    = "test-signing-key-with-enough-bytes"
	testIssuer = "attendpay"
)

func TestIssueAndParse(t *testing.T) {
	tok, err := Issue("op-1", RoleAdmin, testIssuer, testKey, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := Parse(tok.AccessToken, testKey, testIssuer)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != "op-1" || claims.Role != RoleAdmin {
		t.Errorf("claims = %+v", claims)
	}

	if _, err := Parse(tok.AccessToken, "other-key", testIssuer); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong key: err = %v", err)
	}
	if _, err := Parse(tok.AccessToken, testKey, "someone-else"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong issuer: err = %v", err)
	}
}

func TestIssueAssignsDistinctIDs(t *testing.T) {
	a, _ := Issue("op-1", RoleOperator, testIssuer, testKey, time.Minute)
	b, _ := Issue("op-1", RoleOperator, testIssuer, testKey, time.Minute)
	ca, _ := Parse(a.AccessToken, testKey, testIssuer)
	cb, _ := Parse(b.AccessToken, testKey, testIssuer)
	if ca.ID == "" || ca.ID == cb.ID {
		t.Errorf("token ids %q and %q", ca.ID, cb.ID)
	}
}

func TestIssueRejectsBadInput(t *testing.T) {
	if _, err := Issue("op-1", "root", testIssuer, testKey, time.Minute); !errors.Is(err, ErrUnknownRole) {
		t.Errorf("unknown role: err = %v", err)
	}
	if _, err := Issue("", RoleOperator, testIssuer, testKey, time.Minute); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("empty subject: err = %v", err)
	}
}

func TestParseRejectsExpired(t *testing.T) {
	tok, err := Issue("op-1", RoleOperator, testIssuer, testKey, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(tok.AccessToken, testKey, testIssuer); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired token: err = %v", err)
	}
}

func TestKeyRing(t *testing.T) {
	kr := NewKeyRing("op-key", "admin-key")
	if role, ok := kr.RoleFor("admin-key"); !ok || role != RoleAdmin {
		t.Errorf("admin key = %q, %v", role, ok)
	}
	if role, ok := kr.RoleFor("op-key"); !ok || role != RoleOperator {
		t.Errorf("operator key = %q, %v", role, ok)
	}
	for _, k := range []string{"", "nope"} {
		if _, ok := kr.RoleFor(k); ok {
			t.Errorf("%q accepted", k)
		}
	}
	if _, ok := NewKeyRing("", "").RoleFor(""); ok {
		t.Error("empty ring accepted the empty key")
	}
}

func TestMiddlewareRoles(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/", OperatorAuth(testKey, testIssuer))
	g.GET("/any", func(c *gin.Context) { c.Status(http.StatusOK) })
	g.GET("/admin", RequireRole(RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })

	opTok, _ := Issue("op-1", RoleOperator, testIssuer, testKey, time.Minute)
	adminTok, _ := Issue("op-2", RoleAdmin, testIssuer, testKey, time.Minute)

	cases := []struct {
		path, token string
		want        int
	}{
		{"/any", "", http.StatusUnauthorized},
		{"/any", "garbage", http.StatusUnauthorized},
		{"/any", opTok.AccessToken, http.StatusOK},
		{"/admin", opTok.AccessToken, http.StatusForbidden},
		{"/admin", adminTok.AccessToken, http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.token != "" {
			req.Header.Set("Authorization", "Bearer "+tc.token)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Errorf("%s with %q: status %d, want %d", tc.path, tc.token, w.Code, tc.want)
		}
	}
}
