package memstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smallnest/memorigo/memstore"
	"github.com/smallnest/memorigo/model"
	"github.com/smallnest/memorigo/storesql"
)

func newTestStore(t *testing.T) *memstore.Store {
	t.Helper()
	engine, err := storesql.Open(context.Background(), "sqlite://:memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return memstore.New(engine)
}

func TestStoreChatAndClear(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	rec := model.ChatRecord{
		ChatID:    memstore.NewID(),
		Namespace: "acme",
		SessionID: "sess1",
		UserInput: "hello <script>evil()</script>",
		AIOutput:  "hi there",
		Model:     "gpt-4",
		Tokens:    12,
		Metadata:  map[string]any{"source": "cli"},
	}
	require.NoError(t, store.StoreChat(ctx, rec))

	// Invalid namespace is rejected before any write.
	bad := rec
	bad.Namespace = "not a valid namespace!"
	require.Error(t, store.StoreChat(ctx, bad))

	require.NoError(t, store.Clear(ctx, "acme"))
}

func sampleLongTerm(namespace string) model.LongTermMemory {
	return model.LongTermMemory{
		Namespace:         namespace,
		CategoryPrimary:   model.CategoryFact,
		Classification:    model.CategoryFact,
		ImportanceLevel:   model.ImportanceHigh,
		ImportanceScore:   0.8,
		Topic:             "identity",
		Keywords:          []string{"alice", "acme"},
		SearchableContent: "Alice works at Acme as an engineer",
		Summary:           "User's employer is Acme",
		Flags:             model.Flags{PromotionEligible: true},
		Scores:            model.Scores{Novelty: 0.5, Relevance: 0.9, Actionability: 0.1, Confidence: 0.95},
	}
}

func TestStoreLongTermAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	m := sampleLongTerm("acme")
	require.NoError(t, store.StoreLongTerm(ctx, m))

	hits, err := store.ListRecent(ctx, "acme", model.TierLongTerm, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.NotNil(t, hits[0].LongTerm)
	require.Equal(t, "Alice works at Acme as an engineer", hits[0].LongTerm.SearchableContent)
	require.Equal(t, model.CategoryFact, hits[0].LongTerm.CategoryPrimary)
}

func TestPromoteIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	m := sampleLongTerm("acme")
	m.MemoryID = memstore.NewID()
	require.NoError(t, store.StoreLongTerm(ctx, m))

	require.NoError(t, store.Promote(ctx, m.MemoryID, "acme", "periodic-promotion", time.Hour))

	lt, err := store.GetLongTerm(ctx, "acme", m.MemoryID)
	require.NoError(t, err)
	require.True(t, lt.PromotedToShortTerm, "promote must mark the source long-term row")

	shortHits, err := store.ListRecent(ctx, "acme", model.TierShortTerm, 10)
	require.NoError(t, err)
	require.Len(t, shortHits, 1)
	require.Equal(t, m.MemoryID, shortHits[0].ShortTerm.OriginalMemoryID)
	require.False(t, shortHits[0].ShortTerm.IsPermanentContext, "a ttl promotion is not permanent context")
	require.False(t, shortHits[0].ShortTerm.ExpiresAt.IsZero())
}

func TestPromoteWithoutTTLIsPermanent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	m := sampleLongTerm("acme")
	m.MemoryID = memstore.NewID()
	require.NoError(t, store.StoreLongTerm(ctx, m))
	require.NoError(t, store.Promote(ctx, m.MemoryID, "acme", "conscious-ingest", 0))

	hits, err := store.ListRecent(ctx, "acme", model.TierShortTerm, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.True(t, hits[0].ShortTerm.IsPermanentContext)
}

func TestUserContextProfileRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, ok, err := store.LoadUserContext(ctx, "acme")
	require.NoError(t, err)
	require.False(t, ok, "no profile has been saved yet")

	profile := model.UserContextProfile{
		Namespace:        "acme",
		Name:             "Alice",
		JobTitle:         "Engineer",
		PrimaryLanguages: []string{"Go"},
		Version:          1,
	}
	require.NoError(t, store.SaveUserContext(ctx, profile))

	loaded, ok, err := store.LoadUserContext(ctx, "acme")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Alice", loaded.Name)
	require.Equal(t, "Engineer", loaded.JobTitle)
	require.Equal(t, []string{"Go"}, loaded.PrimaryLanguages)

	// Upsert replaces rather than duplicates the row.
	loaded.JobTitle = "Staff Engineer"
	loaded.Version = 2
	require.NoError(t, store.SaveUserContext(ctx, loaded))

	reloaded, ok, err := store.LoadUserContext(ctx, "acme")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Staff Engineer", reloaded.JobTitle)
	require.Equal(t, 2, reloaded.Version)
}

func TestSearchFindsInsertedContentImmediately(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	m := sampleLongTerm("acme")
	m.MemoryID = memstore.NewID()
	require.NoError(t, store.StoreLongTerm(ctx, m))

	// Content is searchable immediately after insert, with no
	// separate reindex step (exercises the sqlite FTS sync triggers).
	hits, err := store.Search(ctx, "acme", "Acme engineer", "", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.Equal(t, m.MemoryID, hits[0].LongTerm.MemoryID)
}

func TestSearchRejectsInjectionAttempt(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Search(ctx, "acme", "1 UNION SELECT password FROM users", "", 10)
	require.Error(t, err)
}

func TestSearchExcludesExpiredShortTermRows(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Now()

	require.NoError(t, store.StoreShortTerm(ctx, model.ShortTermMemory{
		Namespace:          "acme",
		SearchableContent:  "Acme rollout plan, permanent",
		CategoryPrimary:    model.CategoryFact,
		IsPermanentContext: true,
		ExpiresAt:          now.Add(-time.Hour), // "expired" but permanent, so it must still match
	}))
	require.NoError(t, store.StoreShortTerm(ctx, model.ShortTermMemory{
		Namespace:         "acme",
		SearchableContent: "Acme rollout plan, stale",
		CategoryPrimary:   model.CategoryFact,
		ExpiresAt:         now.Add(-time.Minute), // expired, non-permanent: must not match
	}))
	require.NoError(t, store.StoreShortTerm(ctx, model.ShortTermMemory{
		Namespace:         "acme",
		SearchableContent: "Acme rollout plan, fresh",
		CategoryPrimary:   model.CategoryFact,
		ExpiresAt:         now.Add(time.Hour), // not yet expired: must match
	}))

	// Retrieval filters by expires_at > now(), so an expired,
	// non-permanent short-term row can never be re-injected into context.
	hits, err := store.Search(ctx, "acme", "Acme rollout plan", "", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2, "the expired, non-permanent row must be excluded from search")
	for _, h := range hits {
		require.NotEqual(t, "Acme rollout plan, stale", h.ShortTerm.SearchableContent)
	}
}

func TestReapRespectsPermanentContext(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Now()

	permanent := model.ShortTermMemory{
		Namespace:          "acme",
		SearchableContent:  "permanent fact",
		CategoryPrimary:    model.CategoryFact,
		IsPermanentContext: true,
		ExpiresAt:          now.Add(-time.Hour), // already "expired" but must survive
	}
	expiring := model.ShortTermMemory{
		Namespace:         "acme",
		SearchableContent: "stale short-term fact",
		CategoryPrimary:   model.CategoryFact,
		ExpiresAt:         now.Add(-time.Minute),
	}
	notYetExpired := model.ShortTermMemory{
		Namespace:         "acme",
		SearchableContent: "fresh short-term fact",
		CategoryPrimary:   model.CategoryFact,
		ExpiresAt:         now.Add(time.Hour),
	}
	require.NoError(t, store.StoreShortTerm(ctx, permanent))
	require.NoError(t, store.StoreShortTerm(ctx, expiring))
	require.NoError(t, store.StoreShortTerm(ctx, notYetExpired))

	n, err := store.Reap(ctx, "acme", now)
	require.NoError(t, err)
	require.Equal(t, 1, n, "only the expired, non-permanent row is reaped")

	remaining, err := store.ListRecent(ctx, "acme", model.TierShortTerm, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.StoreLongTerm(ctx, sampleLongTerm("acme")))
	require.NoError(t, store.StoreShortTerm(ctx, model.ShortTermMemory{
		Namespace:         "acme",
		SearchableContent: "short fact",
		CategoryPrimary:   model.CategoryPreference,
		ImportanceScore:   0.4,
	}))

	stats, err := store.Stats(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, 1, stats.LongTermCount)
	require.Equal(t, 1, stats.ShortTermCount)
	require.Equal(t, 1, stats.CategoryHistogram[model.CategoryFact])
	require.Equal(t, 1, stats.CategoryHistogram[model.CategoryPreference])
	require.InDelta(t, 0.6, stats.AverageImportance, 0.01)
}

func TestPromoteEssentialAndClearEssential(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	m := sampleLongTerm("acme")
	m.MemoryID = memstore.NewID()
	require.NoError(t, store.StoreLongTerm(ctx, m))

	require.NoError(t, store.PromoteEssential(ctx, m.MemoryID, "acme", "promotion-agent", 30*24*time.Hour, "high recurring relevance"))

	hits, err := store.ListRecent(ctx, "acme", model.TierShortTerm, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, model.Category("essential_fact"), hits[0].ShortTerm.CategoryPrimary)
	require.Equal(t, "high recurring relevance", hits[0].ShortTerm.ClassificationReason)

	require.NoError(t, store.ClearEssential(ctx, "acme"))
	hits, err = store.ListRecent(ctx, "acme", model.TierShortTerm, 10)
	require.NoError(t, err)
	require.Empty(t, hits)
}

func newTestStoreWithEngine(t *testing.T) (*storesql.Engine, *memstore.Store) {
	t.Helper()
	engine, err := storesql.Open(context.Background(), "sqlite://:memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return engine, memstore.New(engine)
}

func TestLoadUserContextQuarantinesUnparseableProfile(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestStoreWithEngine(t)

	_, err := engine.DB.ExecContext(ctx,
		`INSERT INTO user_context_profile (namespace, profile, version, last_updated) VALUES ('acme', 'not json at all', 1, ?)`,
		time.Now())
	require.NoError(t, err)

	// The caller sees "no profile yet", never an error.
	p, ok, err := store.LoadUserContext(ctx, "acme")
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, p)

	// The damaged row moved under the _corrupt suffix with its blob intact.
	var n int
	require.NoError(t, engine.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_context_profile WHERE namespace = 'acme'`).Scan(&n))
	require.Equal(t, 0, n, "the corrupt row must be moved, not left in place")
	var blob string
	require.NoError(t, engine.DB.QueryRowContext(ctx,
		`SELECT profile FROM user_context_profile WHERE namespace = 'acme_corrupt'`).Scan(&blob))
	require.Equal(t, "not json at all", blob)

	// With the corrupt row gone, a fresh save works normally.
	require.NoError(t, store.SaveUserContext(ctx, model.UserContextProfile{Namespace: "acme", Name: "Alice", Version: 1}))
	reloaded, ok, err := store.LoadUserContext(ctx, "acme")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Alice", reloaded.Name)
}

func TestLoadUserContextQuarantinesEmptyProfile(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestStoreWithEngine(t)

	_, err := engine.DB.ExecContext(ctx,
		`INSERT INTO user_context_profile (namespace, profile, version, last_updated) VALUES ('acme', '{}', 1, ?)`,
		time.Now())
	require.NoError(t, err)

	_, ok, err := store.LoadUserContext(ctx, "acme")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLoadUserContextRepairsNestedJSONField(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestStoreWithEngine(t)

	// The shape an earlier double-serialization bug leaves behind: the name
	// field holds a serialized profile object instead of the name itself.
	corrupt := `{"namespace":"acme","name":"{\"name\":\"Alice\"}","location":"Seattle","version":1}`
	_, err := engine.DB.ExecContext(ctx,
		`INSERT INTO user_context_profile (namespace, profile, version, last_updated) VALUES ('acme', ?, 1, ?)`,
		corrupt, time.Now())
	require.NoError(t, err)

	p, ok, err := store.LoadUserContext(ctx, "acme")
	require.NoError(t, err)
	require.True(t, ok, "a repairable row must load, not quarantine")
	require.Equal(t, "Alice", p.Name)
	require.Equal(t, "Seattle", p.Location)
}

func TestLoadUserContextQuarantinesNamespaceMismatch(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestStoreWithEngine(t)

	_, err := engine.DB.ExecContext(ctx,
		`INSERT INTO user_context_profile (namespace, profile, version, last_updated) VALUES ('acme', '{"namespace":"other","name":"Alice","version":1}', 1, ?)`,
		time.Now())
	require.NoError(t, err)

	_, ok, err := store.LoadUserContext(ctx, "acme")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStoreLongTermSanitizesMarkup(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	m := sampleLongTerm("acme")
	m.MemoryID = memstore.NewID()
	m.SearchableContent = "Rendering tips for <b>Go templates</b>"
	m.Summary = "Notes on <i>templates</i>"
	require.NoError(t, store.StoreLongTerm(ctx, m))

	loaded, err := store.GetLongTerm(ctx, "acme", m.MemoryID)
	require.NoError(t, err)
	require.NotContains(t, loaded.SearchableContent, "<b>")
	require.NotContains(t, loaded.Summary, "<i>")
	require.Contains(t, loaded.SearchableContent, "Go templates")
}

func TestStoreLongTermRejectsInjectionPatterns(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	m := sampleLongTerm("acme")
	m.SearchableContent = "1 UNION SELECT password FROM users"
	require.Error(t, store.StoreLongTerm(ctx, m))

	m = sampleLongTerm("acme")
	m.Summary = "x; drop table long_term_memory"
	require.Error(t, store.StoreLongTerm(ctx, m))
}

func TestStoreShortTermRejectsInjectionPatterns(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	m := model.ShortTermMemory{
		Namespace:         "acme",
		CategoryPrimary:   model.CategoryFact,
		SearchableContent: "<script>document.location='http://evil'</script>",
	}
	require.Error(t, store.StoreShortTerm(ctx, m))
}

func TestSaveUserContextSanitizesAndRejects(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	bad := model.UserContextProfile{Namespace: "acme", Name: "Alice; drop table user_context_profile", Version: 1}
	require.Error(t, store.SaveUserContext(ctx, bad))

	marked := model.UserContextProfile{Namespace: "acme", Name: "Alice <b>the builder</b>", Version: 1}
	require.NoError(t, store.SaveUserContext(ctx, marked))
	loaded, ok, err := store.LoadUserContext(ctx, "acme")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotContains(t, loaded.Name, "<b>")
}
