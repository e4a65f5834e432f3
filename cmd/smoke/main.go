// Smoke test against a running API instance: authenticate, search, and if a
// record key is supplied walk it through a status change and back.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

func main() {
	base := os.Getenv("REVIEWHUB_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	login := envOr("REVIEWHUB_SMOKE_LOGIN", "admin")
	password := envOr("REVIEWHUB_SMOKE_PASSWORD", "changeme")
	project := envOr("REVIEWHUB_SMOKE_PROJECT", "demo-project")

	client := &http.Client{Timeout: 10 * time.Second}

	mustGet(client, base+"/healthz", "")
	mustGet(client, base+"/readyz", "")

	token := obtainToken(client, base, login, password)
	log.Printf("token obtained for %s", login)

	body := mustGet(client, fmt.Sprintf("%s/v1/records?project=%s", base, project), token)
	var search struct {
		Total          int  `json:"total"`
		SyncInProgress bool `json:"sync_in_progress"`
	}
	if err := json.Unmarshal(body, &search); err != nil {
		log.Fatalf("decode search response: %v", err)
	}
	log.Printf("search ok: %d records, sync_in_progress=%v", search.Total, search.SyncInProgress)

	if key := os.Getenv("REVIEWHUB_SMOKE_RECORD"); key != "" {
		exerciseWorkflow(client, base, token, key)
	}

	log.Println("smoke ok")
}

// exerciseWorkflow acknowledges a hotspot and resets it, verifying the
// transitions round-trip.
func exerciseWorkflow(client *http.Client, base, token, key string) {
	change := func(status, resolution string) {
		payload, _ := json.Marshal(map[string]string{
			"status":     status,
			"resolution": resolution,
		})
		req, err := http.NewRequest(http.MethodPost, base+"/v1/records/"+key+"/status", bytes.NewReader(payload))
		if err != nil {
			log.Fatalf("build request: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := client.Do(req)
		if err != nil {
			log.Fatalf("change status: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			raw, _ := io.ReadAll(resp.Body)
			log.Fatalf("change status %s/%s: %d %s", status, resolution, resp.StatusCode, raw)
		}
	}

	change("REVIEWED", "ACKNOWLEDGED")
	change("TO_REVIEW", "")
	log.Printf("workflow round-trip ok for %s", key)
}

func obtainToken(client *http.Client, base, login, password string) string {
	payload, _ := json.Marshal(map[string]string{"login": login, "password": password})
	resp, err := client.Post(base+"/v1/auth/token", "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("auth token: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		log.Fatalf("auth token: %d %s", resp.StatusCode, raw)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatalf("decode token response: %v", err)
	}
	return out.Token
}

func mustGet(client *http.Client, url, token string) []byte {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		log.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("get %s: %d %s", url, resp.StatusCode, body)
	}
	return body
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}
