// Package dispatch turns verified workspace change notifications into
// reconciliation work: scoped runs for the tasks a delivery names, and a
// full-pass kick when catalog-level events appear.
package dispatch

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"calmirror/internal/engine"
	"calmirror/internal/store"
)

// Notification rejection reasons, mapped to HTTP statuses by the server.
var (
	ErrBadPayload   = errors.New("dispatch: invalid notification payload")
	ErrNoSecret     = errors.New("dispatch: no verification secret available")
	ErrNoSignature  = errors.New("dispatch: missing signature header")
	ErrBadSignature = errors.New("dispatch: signature mismatch")
)

// signaturePrefix matches the provider's X-Notion-Signature scheme.
const signaturePrefix = "sha256="

const payloadLogLimit = 2000

// Syncer runs scoped reconciliations for the tasks a delivery names.
type Syncer interface {
	RunScoped(ctx context.Context, ids []string) (engine.Report, error)
}

// Config wires a Dispatcher.
type Config struct {
	// Seed is an optional deployment-provided secret used until the
	// provider's handshake stores one.
	Seed string

	// KickFullSync schedules a full pass without blocking the caller.
	// May be nil when no scheduler is attached.
	KickFullSync func()

	Logger *slog.Logger
}

// Dispatcher verifies and processes one notification at a time.
type Dispatcher struct {
	store  store.Store
	syncer Syncer
	seed   string
	kick   func()
	logger *slog.Logger
}

// Result describes what a processed delivery did.
type Result struct {
	// Handshake is set when the delivery was the provider's subscription
	// handshake; Echo carries the token to send back verbatim.
	Handshake bool   `json:"-"`
	Echo      string `json:"-"`

	// IDs are the normalized task ids the delivery named, deduplicated.
	IDs []string `json:"updated"`

	// FullSyncKicked reports that a catalog-level event scheduled a full
	// pass in the background.
	FullSyncKicked bool `json:"full_sync_kicked,omitempty"`

	Report engine.Report `json:"-"`
}

// New builds a Dispatcher over the shared store and engine.
func New(st store.Store, syncer Syncer, cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:  st,
		syncer: syncer,
		seed:   strings.TrimSpace(cfg.Seed),
		kick:   cfg.KickFullSync,
		logger: logger,
	}
}

// Dispatch validates one raw delivery and applies it. The flow follows the
// provider's contract: a body carrying verification_token is the
// subscription handshake and is stored and echoed without a signature
// check; everything else must carry a valid HMAC signature over the exact
// raw body.
func (d *Dispatcher) Dispatch(ctx context.Context, body []byte, signature string) (Result, error) {
	var payload any = map[string]any{}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
	}

	if obj, ok := payload.(map[string]any); ok {
		if raw, present := obj["verification_token"]; present {
			return d.handshake(ctx, raw)
		}
	}

	secret, err := d.resolveSecret(ctx)
	if err != nil {
		return Result{}, err
	}
	if signature == "" {
		return Result{}, ErrNoSignature
	}
	if !verifySignature(secret, body, signature) {
		return Result{}, ErrBadSignature
	}

	var res Result
	if needsFullSync(extractEventTypes(payload)) {
		d.logger.Info("catalog-level event received, scheduling full sync")
		if d.kick != nil {
			d.kick()
			res.FullSyncKicked = true
		}
	}

	res.IDs = collectPageIDs(payload)
	d.logPayload(body, res.IDs)

	rep, err := d.syncer.RunScoped(ctx, res.IDs)
	if err != nil {
		return res, fmt.Errorf("running scoped sync: %w", err)
	}
	res.Report = rep

	// Informational only; a failed stamp never fails the delivery.
	if err := d.store.TouchWebhook(ctx, time.Now().UTC()); err != nil {
		d.logger.Warn("recording webhook delivery time failed", "error", err)
	}

	return res, nil
}

// handshake stores the provider's verification token and echoes it.
func (d *Dispatcher) handshake(ctx context.Context, raw any) (Result, error) {
	token, _ := raw.(string)
	token = strings.TrimSpace(token)
	if token == "" {
		return Result{}, fmt.Errorf("%w: blank verification_token", ErrBadPayload)
	}
	if err := d.store.SaveVerificationSecret(ctx, token); err != nil {
		return Result{}, fmt.Errorf("storing verification token: %w", err)
	}
	d.logger.Info("stored verification token from subscription handshake")
	return Result{Handshake: true, Echo: token}, nil
}

// resolveSecret returns the stored verification secret, falling back to
// the deployment seed (and persisting it) when the handshake has not
// happened yet.
func (d *Dispatcher) resolveSecret(ctx context.Context) (string, error) {
	state, err := d.store.Settings(ctx)
	if err != nil {
		return "", fmt.Errorf("loading settings: %w", err)
	}
	if secret := strings.TrimSpace(state.InboundVerificationSecret); secret != "" {
		return secret, nil
	}
	if d.seed != "" {
		if err := d.store.SaveVerificationSecret(ctx, d.seed); err != nil {
			return "", fmt.Errorf("storing seed secret: %w", err)
		}
		return d.seed, nil
	}
	return "", ErrNoSecret
}

func (d *Dispatcher) logPayload(body []byte, ids []string) {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > payloadLogLimit {
		snippet = fmt.Sprintf("%s... (+%d chars truncated)",
			snippet[:payloadLogLimit], len(snippet)-payloadLogLimit)
	}
	if snippet == "" {
		snippet = "<empty>"
	}
	d.logger.Debug("webhook payload", "payload", snippet, "ids", ids)
}

// verifySignature checks the hex HMAC-SHA256 of the raw body in constant
// time.
func verifySignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := signaturePrefix + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// normalizePageID accepts ids with or without dashes and returns the
// canonical dashed form, or "" when the value is not a well-formed id.
func normalizePageID(value any) string {
	s, ok := value.(string)
	if !ok {
		return ""
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	compact := strings.ReplaceAll(s, "-", "")
	if len(compact) != 32 {
		return ""
	}
	parsed, err := uuid.Parse(compact)
	if err != nil {
		return ""
	}
	return parsed.String()
}

// collectPageIDs walks the payload for task page ids: objects hinted as
// pages, page_id/pageId fields anywhere, and parent.page_id references.
// Keys are visited in sorted order so the result is deterministic, and
// duplicates keep their first position.
func collectPageIDs(payload any) []string {
	var found []string
	appendID := func(candidate any) {
		if id := normalizePageID(candidate); id != "" {
			found = append(found, id)
		}
	}

	var walk func(value any, parentKey string)
	walk = func(value any, parentKey string) {
		switch v := value.(type) {
		case map[string]any:
			hint, _ := v["object"].(string)
			if hint == "" {
				hint, _ = v["type"].(string)
			}
			if strings.EqualFold(hint, "page") || parentKey == "page" {
				candidate := v["id"]
				if s, ok := candidate.(string); !ok || s == "" {
					candidate = v["page_id"]
				}
				appendID(candidate)
			}

			keys := make([]string, 0, len(v))
			for key := range v {
				keys = append(keys, key)
			}
			sort.Strings(keys)

			for _, key := range keys {
				nested := v[key]
				if key == "page_id" || key == "pageId" {
					appendID(nested)
					continue
				}
				if key == "parent" {
					if parent, ok := nested.(map[string]any); ok {
						appendID(parent["page_id"])
					}
				}
				switch nested.(type) {
				case map[string]any, []any:
					walk(nested, key)
				}
			}
		case []any:
			for _, item := range v {
				walk(item, parentKey)
			}
		}
	}

	walk(payload, "")

	seen := make(map[string]struct{}, len(found))
	ordered := make([]string, 0, len(found))
	for _, id := range found {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, id)
	}
	return ordered
}

// extractEventTypes gathers the type strings a delivery carries, looking
// through the envelope's event, events, payload and data containers.
func extractEventTypes(payload any) []string {
	var types []string
	seen := make(map[string]struct{})
	add := func(value any) {
		s, ok := value.(string)
		if !ok {
			return
		}
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			return
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		types = append(types, s)
	}

	var walk func(value any)
	walk = func(value any) {
		switch v := value.(type) {
		case map[string]any:
			if t, ok := v["type"]; ok {
				add(t)
			}
			if ev, ok := v["event"].(map[string]any); ok {
				walk(ev)
			}
			if evs, ok := v["events"].([]any); ok {
				for _, item := range evs {
					walk(item)
				}
			}
			for _, key := range []string{"payload", "data"} {
				switch nested := v[key].(type) {
				case map[string]any:
					walk(nested)
				case []any:
					walk(nested)
				}
			}
		case []any:
			for _, item := range v {
				walk(item)
			}
		}
	}

	walk(payload)
	return types
}

// needsFullSync reports whether any event type signals a catalog-level
// change that a scoped run cannot cover.
func needsFullSync(types []string) bool {
	for _, t := range types {
		if strings.HasPrefix(t, "database.") || strings.HasPrefix(t, "data_source.") {
			return true
		}
	}
	return false
}
