package trigger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultSignatureHeader carries the webhook HMAC on incoming requests.
const DefaultSignatureHeader = "X-Webhook-Signature"

// DefaultRateLimit is the per-IP request allowance per window.
const DefaultRateLimit = 100

// WebhookConfig configures a webhook trigger.
type WebhookConfig struct {
	// Path is the mount path for the handler; defaults to the trigger id.
	Path string `json:"path,omitempty"`

	// Methods lists allowed HTTP methods. Defaults to POST only.
	Methods []string `json:"methods,omitempty"`

	// Secret enables HMAC-SHA256 signature verification when RequireSignature
	// is set.
	Secret string `json:"secret,omitempty"`

	// RequireSignature rejects unsigned or mis-signed requests with 401.
	RequireSignature bool `json:"require_signature,omitempty"`

	// SignatureHeader overrides the header carrying the hex HMAC. The
	// "sha256=" prefix is accepted but not required.
	SignatureHeader string `json:"signature_header,omitempty"`

	// RateLimit is the per-IP allowance per window. Nil means the default;
	// an explicit zero rejects every request.
	RateLimit *int `json:"rate_limit,omitempty"`

	// RateWindow is the counting window. Defaults to one hour.
	RateWindow time.Duration `json:"-"`

	// InputMapping maps dotted payload paths to workflow input keys, e.g.
	// {"repository.branch": "branch"}. The full decoded payload is always
	// injected as the _payload input.
	InputMapping map[string]string `json:"input_mapping,omitempty"`
}

type rateWindow struct {
	start time.Time
	count int
}

// Webhook fires a workflow from signed HTTP requests. It implements
// http.Handler; the host mounts it wherever its router lives.
type Webhook struct {
	base
	cfg WebhookConfig

	rateMu sync.Mutex
	rates  map[string]*rateWindow

	// now is swappable for rate-window tests.
	now func() time.Time
}

// NewWebhook creates a webhook trigger. Zero-value config fields take the
// documented defaults.
func NewWebhook(id, workflowID string, d Dispatcher, cfg WebhookConfig) *Webhook {
	if cfg.Path == "" {
		cfg.Path = "/webhooks/" + id
	}
	if len(cfg.Methods) == 0 {
		cfg.Methods = []string{http.MethodPost}
	}
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = DefaultSignatureHeader
	}
	if cfg.RateLimit == nil {
		limit := DefaultRateLimit
		cfg.RateLimit = &limit
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Hour
	}
	return &Webhook{
		base:  newBase(id, workflowID, d),
		cfg:   cfg,
		rates: make(map[string]*rateWindow),
		now:   time.Now,
	}
}

// Path returns the mount path for this webhook.
func (w *Webhook) Path() string { return w.cfg.Path }

// ServeHTTP verifies method, rate, signature, and payload shape, then fires
// the workflow. Responses follow the status contract: 200 accepted, 400 bad
// payload, 401 bad signature, 405 bad method, 429 rate exceeded, 503 when
// the trigger is not started.
func (w *Webhook) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if !w.methodAllowed(r.Method) {
		w.reject(rw, r, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
		return
	}
	if !w.allowIP(clientIP(r)) {
		w.reject(rw, r, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.reject(rw, r, http.StatusBadRequest, "unreadable body")
		return
	}

	if w.cfg.RequireSignature {
		if !w.signatureValid(body, r.Header.Get(w.cfg.SignatureHeader)) {
			w.reject(rw, r, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	var payload any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			w.reject(rw, r, http.StatusBadRequest, "invalid JSON payload")
			return
		}
	}

	inputs := w.mapInputs(body)
	inputs["_payload"] = payload

	result := w.Trigger(r.Context(), inputs, map[string]any{
		"source":      "webhook",
		"remote_addr": r.RemoteAddr,
		"path":        w.cfg.Path,
	})
	if !result.Success {
		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(rw).Encode(map[string]any{"success": false, "error": result.Error})
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(rw).Encode(map[string]any{
		"success":      true,
		"execution_id": result.ExecutionID,
	})
}

// reject records a failed result without dispatching and writes the status.
func (w *Webhook) reject(rw http.ResponseWriter, r *http.Request, status int, msg string) {
	w.record(Result{
		TriggerID:   w.id,
		WorkflowID:  w.workflowID,
		TriggeredAt: time.Now().UTC(),
		Metadata: map[string]any{
			"source":      "webhook",
			"remote_addr": r.RemoteAddr,
			"http_status": status,
		},
		Error: msg,
	})
	http.Error(rw, msg, status)
}

func (w *Webhook) methodAllowed(method string) bool {
	for _, m := range w.cfg.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// allowIP counts the request against the caller's window. A limit of zero
// admits nothing.
func (w *Webhook) allowIP(ip string) bool {
	limit := *w.cfg.RateLimit
	if limit <= 0 {
		return false
	}
	now := w.now()
	w.rateMu.Lock()
	defer w.rateMu.Unlock()
	win := w.rates[ip]
	if win == nil || now.Sub(win.start) >= w.cfg.RateWindow {
		win = &rateWindow{start: now}
		w.rates[ip] = win
	}
	if win.count >= limit {
		return false
	}
	win.count++
	return true
}

func (w *Webhook) signatureValid(body []byte, header string) bool {
	if header == "" || w.cfg.Secret == "" {
		return false
	}
	header = strings.TrimPrefix(header, "sha256=")
	mac := hmac.New(sha256.New, []byte(w.cfg.Secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(header)))
}

// Sign computes the signature header value for a payload, prefixed with
// "sha256=". Intended for callers and tests producing signed requests.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (w *Webhook) mapInputs(body []byte) map[string]any {
	inputs := make(map[string]any, len(w.cfg.InputMapping)+1)
	for source, target := range w.cfg.InputMapping {
		if v := gjson.GetBytes(body, source); v.Exists() {
			inputs[target] = v.Value()
		}
	}
	return inputs
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
