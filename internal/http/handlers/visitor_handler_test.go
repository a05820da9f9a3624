package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bouclier/residence-access/internal/domain"
	"github.com/bouclier/residence-access/pkg/events"
)

func seedGroup(t *testing.T, env *testEnv, creator *domain.User, validUntil time.Time, names ...string) []domain.VisitorPass {
	t.Helper()
	inputs := make([]domain.VisitorInput, len(names))
	for i, n := range names {
		inputs[i] = domain.VisitorInput{Name: n, ValidUntil: validUntil}
	}
	passes, err := env.visitors.CreateGroup(context.Background(), creator.ID, creator.BuildingID, inputs)
	if err != nil {
		t.Fatalf("failed to seed group: %v", err)
	}
	return passes
}

func TestCreateVisitorGroup(t *testing.T) {
	env := setupTestServer()
	defer env.server.Close()

	resident := env.users.seed("resident@example.com", domain.RoleResident, "bld-1")
	token := accessTokenFor(t, resident)

	validUntil := time.Now().Add(4 * time.Hour).UTC().Format(time.RFC3339)
	body := map[string]interface{}{
		"visitors": []map[string]string{
			{"name": "Moussa Traore", "phone": "+221771234567", "validUntil": validUntil},
			{"name": "Fatou Sow", "validUntil": validUntil},
			{"name": "Ibrahima Ba", "reason": "plumbing", "validUntil": validUntil},
		},
	}

	resp := authPostJSON(t, env.server.URL+"/api/visitors/group", token, body, http.StatusCreated)
	var result struct {
		GroupID  string               `json:"groupId"`
		Visitors []domain.VisitorPass `json:"visitors"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	resp.Body.Close()

	if len(result.Visitors) != 3 {
		t.Fatalf("expected 3 passes, got %d", len(result.Visitors))
	}

	seen := make(map[string]bool)
	for _, p := range result.Visitors {
		if p.GroupID != result.GroupID {
			t.Fatalf("pass %s carries group %s, want %s", p.AccessID, p.GroupID, result.GroupID)
		}
		if p.AccessID == "" || seen[p.AccessID] {
			t.Fatalf("access ids must be unique and non-empty, got %q", p.AccessID)
		}
		seen[p.AccessID] = true
		if p.Status != domain.PassActive {
			t.Fatalf("fresh pass should be active, got %s", p.Status)
		}
		if p.BuildingID != "bld-1" {
			t.Fatalf("building must come from the creator, got %q", p.BuildingID)
		}
	}

	if !env.bus.published(events.VisitorGroupCreated) {
		t.Fatal("expected group-created event")
	}
}

func TestCreateVisitorGroup_Validation(t *testing.T) {
	env := setupTestServer()
	defer env.server.Close()

	resident := env.users.seed("resident@example.com", domain.RoleResident, "bld-1")
	token := accessTokenFor(t, resident)

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"empty list", map[string]interface{}{"visitors": []map[string]string{}}},
		{"missing name", map[string]interface{}{"visitors": []map[string]string{{"validUntil": future}}}},
		{"past validUntil", map[string]interface{}{"visitors": []map[string]string{{"name": "X", "validUntil": past}}}},
		{"invalid phone", map[string]interface{}{"visitors": []map[string]string{{"name": "X", "phone": "abc", "validUntil": future}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authPostJSON(t, env.server.URL+"/api/visitors/group", token, tt.body, http.StatusBadRequest)
		})
	}
}

func TestCreateVisitorGroup_SecurityForbidden(t *testing.T) {
	env := setupTestServer()
	defer env.server.Close()

	guard := env.users.seed("guard@example.com", domain.RoleSecurity, "bld-1")
	token := accessTokenFor(t, guard)

	validUntil := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	body := map[string]interface{}{
		"visitors": []map[string]string{{"name": "Moussa", "validUntil": validUntil}},
	}
	authPostJSON(t, env.server.URL+"/api/visitors/group", token, body, http.StatusForbidden)
}

func TestListVisitors_DerivesExpiredStatus(t *testing.T) {
	env := setupTestServer()
	defer env.server.Close()

	resident := env.users.seed("resident@example.com", domain.RoleResident, "bld-1")
	token := accessTokenFor(t, resident)

	// Stored status is still "active" but the validity window has closed.
	// The sweeper has simply not caught up; reads must not care.
	passes := seedGroup(t, env, resident, time.Now().Add(time.Millisecond), "Moussa")
	time.Sleep(5 * time.Millisecond)

	resp := authGet(t, env.server.URL+"/api/visitors", token, http.StatusOK)
	var listed []domain.VisitorPass
	json.NewDecoder(resp.Body).Decode(&listed)
	resp.Body.Close()

	if len(listed) != 1 || listed[0].AccessID != passes[0].AccessID {
		t.Fatalf("unexpected listing: %+v", listed)
	}
	if listed[0].Status != domain.PassExpired {
		t.Fatalf("expected derived expired status, got %s", listed[0].Status)
	}
}

func TestGetGroup(t *testing.T) {
	env := setupTestServer()
	defer env.server.Close()

	resident := env.users.seed("resident@example.com", domain.RoleResident, "bld-1")
	token := accessTokenFor(t, resident)

	passes := seedGroup(t, env, resident, time.Now().Add(time.Hour), "Moussa", "Fatou")

	resp := authGet(t, env.server.URL+"/api/visitors/group/"+passes[0].GroupID, token, http.StatusOK)
	var listed []domain.VisitorPass
	json.NewDecoder(resp.Body).Decode(&listed)
	resp.Body.Close()

	if len(listed) != 2 {
		t.Fatalf("expected 2 passes in group, got %d", len(listed))
	}

	authGet(t, env.server.URL+"/api/visitors/group/no-such-group", token, http.StatusNotFound)
}

func TestRedeem_SingleUse(t *testing.T) {
	env := setupTestServer()
	defer env.server.Close()

	resident := env.users.seed("resident@example.com", domain.RoleResident, "bld-1")
	guard := env.users.seed("guard@example.com", domain.RoleSecurity, "bld-1")
	guardToken := accessTokenFor(t, guard)

	passes := seedGroup(t, env, resident, time.Now().Add(time.Hour), "Moussa")
	accessID := passes[0].AccessID

	resp := authPostJSON(t, env.server.URL+"/api/visitors/"+accessID+"/redeem", guardToken, nil, http.StatusOK)
	var result domain.RedeemResponse
	json.NewDecoder(resp.Body).Decode(&result)
	resp.Body.Close()

	if result.Outcome != "admitted" {
		t.Fatalf("expected admitted outcome, got %q", result.Outcome)
	}
	if result.Pass.Status != domain.PassUsed || result.Pass.RedeemedBy != guard.ID.Hex() {
		t.Fatalf("redemption not recorded: %+v", result.Pass)
	}
	if result.Pass.RedeemedAt == nil {
		t.Fatal("expected redeemedAt timestamp")
	}

	// Second scan conflicts.
	resp = authPostJSON(t, env.server.URL+"/api/visitors/"+accessID+"/redeem", guardToken, nil, http.StatusConflict)
	var errResp map[string]string
	json.NewDecoder(resp.Body).Decode(&errResp)
	resp.Body.Close()
	if errResp["code"] != "ALREADY_REDEEMED" {
		t.Fatalf("expected ALREADY_REDEEMED, got %q", errResp["code"])
	}

	if !env.bus.published(events.VisitorRedeemed) {
		t.Fatal("expected redeem event")
	}
}

func TestRedeem_ExpiredPass_NoMutation(t *testing.T) {
	env := setupTestServer()
	defer env.server.Close()

	resident := env.users.seed("resident@example.com", domain.RoleResident, "bld-1")
	guard := env.users.seed("guard@example.com", domain.RoleSecurity, "bld-1")
	guardToken := accessTokenFor(t, guard)

	passes := seedGroup(t, env, resident, time.Now().Add(time.Millisecond), "Moussa")
	time.Sleep(5 * time.Millisecond)
	accessID := passes[0].AccessID

	resp := authPostJSON(t, env.server.URL+"/api/visitors/"+accessID+"/redeem", guardToken, nil, http.StatusConflict)
	var errResp map[string]string
	json.NewDecoder(resp.Body).Decode(&errResp)
	resp.Body.Close()
	if errResp["code"] != "PASS_EXPIRED" {
		t.Fatalf("expected PASS_EXPIRED, got %q", errResp["code"])
	}

	stored, _ := env.visitors.FindByAccessID(context.Background(), accessID)
	if stored.RedeemedBy != "" || stored.RedeemedAt != nil {
		t.Fatalf("expired redemption must not mutate the pass: %+v", stored)
	}
}

func TestRedeem_UnknownPass_NotFound(t *testing.T) {
	env := setupTestServer()
	defer env.server.Close()

	guard := env.users.seed("guard@example.com", domain.RoleSecurity, "bld-1")
	authPostJSON(t, env.server.URL+"/api/visitors/no-such-pass/redeem", accessTokenFor(t, guard), nil, http.StatusNotFound)
}

func TestRedeem_ResidentForbidden(t *testing.T) {
	env := setupTestServer()
	defer env.server.Close()

	resident := env.users.seed("resident@example.com", domain.RoleResident, "bld-1")
	passes := seedGroup(t, env, resident, time.Now().Add(time.Hour), "Moussa")

	authPostJSON(t, env.server.URL+"/api/visitors/"+passes[0].AccessID+"/redeem",
		accessTokenFor(t, resident), nil, http.StatusForbidden)
}

func TestRedeem_ConcurrentScans_ExactlyOneWins(t *testing.T) {
	env := setupTestServer()
	defer env.server.Close()

	resident := env.users.seed("resident@example.com", domain.RoleResident, "bld-1")
	guard := env.users.seed("guard@example.com", domain.RoleSecurity, "bld-1")
	guardToken := accessTokenFor(t, guard)

	passes := seedGroup(t, env, resident, time.Now().Add(time.Hour), "Moussa")
	url := env.server.URL + "/api/visitors/" + passes[0].AccessID + "/redeem"

	const scans = 8
	statuses := make([]int, scans)
	var wg sync.WaitGroup
	for i := 0; i < scans; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, _ := http.NewRequest("POST", url, nil)
			req.Header.Set("Authorization", "Bearer "+guardToken)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return
			}
			resp.Body.Close()
			statuses[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	var ok, conflict int
	for _, s := range statuses {
		switch s {
		case http.StatusOK:
			ok++
		case http.StatusConflict:
			conflict++
		default:
			t.Fatalf("unexpected status %d", s)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one admitted scan, got %d", ok)
	}
	if conflict != scans-1 {
		t.Fatalf("expected %d conflicts, got %d", scans-1, conflict)
	}
}

func TestGetByAccessID_Preview(t *testing.T) {
	env := setupTestServer()
	defer env.server.Close()

	resident := env.users.seed("resident@example.com", domain.RoleResident, "bld-1")
	guard := env.users.seed("guard@example.com", domain.RoleSecurity, "bld-1")
	guardToken := accessTokenFor(t, guard)

	passes := seedGroup(t, env, resident, time.Now().Add(time.Hour), "Moussa")

	resp := authGet(t, env.server.URL+"/api/visitors/"+passes[0].AccessID, guardToken, http.StatusOK)
	var previewed domain.VisitorPass
	json.NewDecoder(resp.Body).Decode(&previewed)
	resp.Body.Close()

	if previewed.Status != domain.PassActive {
		t.Fatalf("expected active pass, got %s", previewed.Status)
	}

	// Preview does not consume the pass.
	stored, _ := env.visitors.FindByAccessID(context.Background(), passes[0].AccessID)
	if stored.Status != domain.PassActive {
		t.Fatal("preview must not consume the pass")
	}

	// The issuing resident can preview too; the route needs a valid token,
	// not a gate role.
	authGet(t, env.server.URL+"/api/visitors/"+passes[0].AccessID, accessTokenFor(t, resident), http.StatusOK)
	get(t, env.server.URL+"/api/visitors/"+passes[0].AccessID, http.StatusUnauthorized)

	authGet(t, env.server.URL+"/api/visitors/no-such-pass", guardToken, http.StatusNotFound)
}

func TestCleanup_MarksExpired(t *testing.T) {
	env := setupTestServer()
	defer env.server.Close()

	resident := env.users.seed("resident@example.com", domain.RoleResident, "bld-1")
	admin := env.users.seed("admin@example.com", domain.RoleAdmin, "")

	seedGroup(t, env, resident, time.Now().Add(time.Millisecond), "Moussa", "Fatou")
	seedGroup(t, env, resident, time.Now().Add(time.Hour), "Ibrahima")
	time.Sleep(5 * time.Millisecond)

	resp := authPostJSON(t, env.server.URL+"/api/cleanup/visitors", accessTokenFor(t, admin), nil, http.StatusOK)
	var result map[string]int64
	json.NewDecoder(resp.Body).Decode(&result)
	resp.Body.Close()

	if result["expired"] != 2 {
		t.Fatalf("expected 2 expired passes, got %d", result["expired"])
	}

	// Residents cannot trigger the sweep.
	authPostJSON(t, env.server.URL+"/api/cleanup/visitors", accessTokenFor(t, resident), nil, http.StatusForbidden)
}
