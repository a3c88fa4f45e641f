package memstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallnest/memorigo/internal/log"
	"github.com/smallnest/memorigo/internal/validate"
	"github.com/smallnest/memorigo/model"
	"github.com/smallnest/memorigo/storesql"
)

// corruptSuffix marks the quarantine row a failed profile is moved under.
const corruptSuffix = "_corrupt"

// LoadUserContext loads the single per-namespace profile row, or
// (model.UserContextProfile{}, false, nil) if none has been derived yet.
//
// Every load runs an integrity check: the stored blob must be non-empty JSON,
// version must be at least 1, the namespaces must agree, and text fields like
// name and location must be plain text rather than JSON-within-JSON (the shape
// an earlier merge bug could leave behind). Recoverable damage is repaired in
// place; anything else is moved to a quarantine row under namespace plus
// "_corrupt" and the caller sees "no profile yet" rather than an error, so a
// damaged row can never wedge conscious-ingest.
func (s *Store) LoadUserContext(ctx context.Context, namespace string) (model.UserContextProfile, bool, error) {
	if err := validate.Identifier(namespace); err != nil {
		return model.UserContextProfile{}, false, err
	}

	var blob string
	var version int
	var lastUpdated time.Time
	err := s.engine.DB.QueryRowContext(ctx, rewrite(s.engine.Dialect,
		`SELECT profile, version, last_updated FROM user_context_profile WHERE namespace = ?`),
		namespace).Scan(&blob, &version, &lastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.UserContextProfile{}, false, nil
	}
	if err != nil {
		return model.UserContextProfile{}, false, fmt.Errorf("memstore: load user context: %w", err)
	}

	profile, reason := decodeProfile(blob, namespace, version)
	if reason != "" {
		log.Warn("memstore: user context profile for namespace %s failed integrity check (%s), quarantining", namespace, reason)
		if qErr := s.quarantineProfile(ctx, namespace, blob, version); qErr != nil {
			log.Error("memstore: quarantine profile for namespace %s: %v", namespace, qErr)
		}
		return model.UserContextProfile{}, false, nil
	}

	if version < 1 {
		version = 1
	}
	profile.Namespace = namespace
	profile.Version = version
	profile.LastUpdated = lastUpdated
	return profile, true, nil
}

// decodeProfile parses and integrity-checks a stored profile blob. It returns
// the (possibly repaired) profile and an empty reason on success, or a
// human-readable reason when the row must be quarantined.
func decodeProfile(blob, namespace string, version int) (model.UserContextProfile, string) {
	trimmed := strings.TrimSpace(blob)
	if trimmed == "" || trimmed == "null" || trimmed == "{}" {
		return model.UserContextProfile{}, "empty profile JSON"
	}

	var profile model.UserContextProfile
	if err := json.Unmarshal([]byte(trimmed), &profile); err != nil {
		return model.UserContextProfile{}, fmt.Sprintf("unparseable JSON: %v", err)
	}
	if profile.Namespace != "" && profile.Namespace != namespace {
		return model.UserContextProfile{}, fmt.Sprintf("row namespace %q vs profile namespace %q", namespace, profile.Namespace)
	}
	if version < 1 {
		// Repairable: versions start at 1 and only ever increase, so a zero or
		// negative value can only be an initialization bug, not data loss.
		log.Warn("memstore: repairing user context version %d for namespace %s", version, namespace)
	}

	// Text fields must be plain text. A field holding a serialized JSON object
	// is repaired by lifting the same-named key back out; anything else that
	// still looks like JSON quarantines the row.
	fields := []struct {
		name string
		val  *string
	}{
		{"name", &profile.Name},
		{"location", &profile.Location},
		{"job_title", &profile.JobTitle},
		{"company", &profile.Company},
		{"communication_style", &profile.CommunicationStyle},
	}
	for _, f := range fields {
		if isPlainText(*f.val) {
			continue
		}
		repaired, ok := liftNestedField(*f.val, f.name)
		if !ok {
			return model.UserContextProfile{}, fmt.Sprintf("field %s is not plain text", f.name)
		}
		log.Warn("memstore: repaired JSON-within-JSON %s field for namespace %s", f.name, namespace)
		*f.val = repaired
	}
	return profile, ""
}

// isPlainText reports whether a profile text field holds ordinary prose rather
// than a serialized JSON value.
func isPlainText(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return true
	}
	return !strings.HasPrefix(s, "{") && !strings.HasPrefix(s, "[") && !strings.HasPrefix(s, `"`)
}

// liftNestedField recovers a plain value from a double-encoded field: either a
// serialized object carrying the same key, or a JSON-quoted string.
func liftNestedField(s, key string) (string, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") {
		var nested map[string]any
		if err := json.Unmarshal([]byte(s), &nested); err != nil {
			return "", false
		}
		if v, ok := nested[key].(string); ok && isPlainText(v) {
			return v, true
		}
		return "", false
	}
	if strings.HasPrefix(s, `"`) {
		var unquoted string
		if err := json.Unmarshal([]byte(s), &unquoted); err != nil || !isPlainText(unquoted) {
			return "", false
		}
		return unquoted, true
	}
	return "", false
}

// quarantineProfile moves a failed row under the namespace's _corrupt suffix
// (preserving the raw blob for operator inspection) and deletes the original,
// so the next conscious-ingest rebuilds the profile from scratch.
func (s *Store) quarantineProfile(ctx context.Context, namespace, blob string, version int) error {
	quarantine := namespace
	if len(quarantine)+len(corruptSuffix) > 64 {
		quarantine = quarantine[:64-len(corruptSuffix)]
	}
	quarantine += corruptSuffix

	return s.engine.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, rewrite(s.engine.Dialect, upsertProfileSQL(s.engine.Dialect)),
			quarantine, blob, version, time.Now()); err != nil {
			return fmt.Errorf("memstore: write quarantine row: %w", err)
		}
		if _, err := tx.ExecContext(ctx, rewrite(s.engine.Dialect,
			`DELETE FROM user_context_profile WHERE namespace = ?`), namespace); err != nil {
			return fmt.Errorf("memstore: drop corrupt row: %w", err)
		}
		return nil
	})
}

// SaveUserContext upserts the namespace's profile row. Callers merge in-memory
// (model.UserContextProfile.Merge) before calling this; the store itself never
// merges, keeping write semantics a plain replace. Text fields go through the
// same write-path sanitation as memory rows.
func (s *Store) SaveUserContext(ctx context.Context, profile model.UserContextProfile) error {
	if err := validate.Identifier(profile.Namespace); err != nil {
		return err
	}
	if err := sanitizeText(&profile.Name, &profile.Location, &profile.JobTitle,
		&profile.Company, &profile.CommunicationStyle); err != nil {
		return err
	}
	for _, list := range [][]string{profile.PrimaryLanguages, profile.Tools, profile.ActiveProjects, profile.LearningGoals} {
		if err := sanitizeList(list); err != nil {
			return err
		}
	}
	if profile.Version < 1 {
		profile.Version = 1
	}
	if profile.LastUpdated.IsZero() {
		profile.LastUpdated = time.Now()
	}

	blob, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("memstore: marshal user context: %w", err)
	}
	if err := validate.JSONSize(blob); err != nil {
		return err
	}

	return s.engine.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, rewrite(s.engine.Dialect, upsertProfileSQL(s.engine.Dialect)),
			profile.Namespace, string(blob), profile.Version, profile.LastUpdated)
		if err != nil {
			return fmt.Errorf("memstore: save user context: %w", err)
		}
		return nil
	})
}

// upsertProfileSQL picks the dialect's native upsert syntax: SQLite and
// PostgreSQL both understand "ON CONFLICT ... DO UPDATE"; MySQL needs
// "ON DUPLICATE KEY UPDATE" with its own column-reference syntax.
func upsertProfileSQL(d storesql.Dialect) string {
	if d == storesql.DialectMySQL {
		return `INSERT INTO user_context_profile (namespace, profile, version, last_updated)
VALUES (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE profile = VALUES(profile), version = VALUES(version), last_updated = VALUES(last_updated)`
	}
	return `INSERT INTO user_context_profile (namespace, profile, version, last_updated)
VALUES (?, ?, ?, ?)
ON CONFLICT (namespace) DO UPDATE SET profile = excluded.profile, version = excluded.version, last_updated = excluded.last_updated`
}
