package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"tsumugi/internal/aicache"
	"tsumugi/internal/catalog"
	"tsumugi/internal/config"
	"tsumugi/internal/logging"
	"tsumugi/internal/services"
	"tsumugi/internal/testsupport"
)

type invokeResult struct {
	payload string
	err     error
}

type fakeInvoker struct {
	mu      sync.Mutex
	calls   int
	results []invokeResult
}

func (f *fakeInvoker) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
	if len(f.results) == 0 {
		return "", errors.New("no scripted result")
	}
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	result := f.results[idx]
	return result.payload, result.err
}

func (f *fakeInvoker) Model() string { return "scripted/model" }

func (f *fakeInvoker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

const profilePayload = `{"personality": "Laid back bounty hunter", "backstory": "Former syndicate member", "quotes": ["Whatever happens, happens."]}`

func transientErr() error {
	return services.Wrap(services.ErrTransientNetwork, "openrouter", "send request", "connection reset", nil)
}

func newTestEngine(t *testing.T, cfg *config.Config, store RecordStore, invoker Invoker, cache Cache) *Engine {
	t.Helper()
	engine := NewEngineWithDependencies(cfg, store, logging.NewNop(), invoker, cache, nil)
	engine.policy.Sleeper = func(time.Duration) {}
	return engine
}

func newTestCache(t *testing.T, cfg *config.Config) *aicache.Cache {
	t.Helper()
	return aicache.New(cfg.Cache.Path, logging.NewNop(), aicache.WithTTLResolver(cfg.CacheTTL))
}

func TestEnrichOnePersistsProfile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	character := testsupport.NewCharacter(t, store, "Spike Spiegel", "Cowboy Bebop")

	invoker := &fakeInvoker{results: []invokeResult{{payload: profilePayload}}}
	engine := newTestEngine(t, cfg, store, invoker, newTestCache(t, cfg))

	outcome, err := engine.EnrichOne(context.Background(), character.ID, Options{})
	if err != nil {
		t.Fatalf("EnrichOne failed: %v", err)
	}
	if outcome.Disposition != DispositionEnriched {
		t.Fatalf("disposition = %s, want enriched", outcome.Disposition)
	}
	if outcome.Category != CategoryProfile {
		t.Fatalf("category = %s, want default profile", outcome.Category)
	}
	if outcome.AICalls != 1 || invoker.callCount() != 1 {
		t.Fatalf("expected exactly one model call, got outcome=%d invoker=%d", outcome.AICalls, invoker.callCount())
	}

	record, err := store.GetRecord(context.Background(), character.ID)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if record.Status != catalog.StatusSuccess {
		t.Errorf("status = %s, want success", record.Status)
	}
	if record.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", record.Attempts)
	}
	if record.Fields.Personality != "Laid back bounty hunter" {
		t.Errorf("personality = %q", record.Fields.Personality)
	}
	if record.LastSuccessAt == nil || record.LastAttemptAt == nil {
		t.Error("expected attempt and success timestamps")
	}
	if record.LastError != "" {
		t.Errorf("last error should be cleared, got %q", record.LastError)
	}
}

func TestEnrichOneIdempotentAfterSuccess(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	character := testsupport.NewCharacter(t, store, "Faye Valentine", "Cowboy Bebop")

	invoker := &fakeInvoker{results: []invokeResult{{payload: profilePayload}}}
	engine := newTestEngine(t, cfg, store, invoker, newTestCache(t, cfg))

	ctx := context.Background()
	if _, err := engine.EnrichOne(ctx, character.ID, Options{}); err != nil {
		t.Fatalf("first EnrichOne failed: %v", err)
	}

	outcome, err := engine.EnrichOne(ctx, character.ID, Options{})
	if err != nil {
		t.Fatalf("second EnrichOne failed: %v", err)
	}
	if outcome.Disposition != DispositionUnchanged {
		t.Fatalf("disposition = %s, want unchanged", outcome.Disposition)
	}
	if invoker.callCount() != 1 {
		t.Fatalf("repeat enrich must not invoke the model, calls = %d", invoker.callCount())
	}
	if outcome.Record.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", outcome.Record.Attempts)
	}
}

func TestEnrichOneServesFromCache(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	character := testsupport.NewCharacter(t, store, "Edward Wong", "Cowboy Bebop")

	cache := newTestCache(t, cfg)
	key := CacheKey(CategoryProfile, character)
	if err := cache.Put(key, CategoryProfile.String(), json.RawMessage(profilePayload)); err != nil {
		t.Fatalf("cache seed failed: %v", err)
	}

	invoker := &fakeInvoker{}
	engine := newTestEngine(t, cfg, store, invoker, cache)

	outcome, err := engine.EnrichOne(context.Background(), character.ID, Options{})
	if err != nil {
		t.Fatalf("EnrichOne failed: %v", err)
	}
	if !outcome.FromCache {
		t.Fatal("expected cache hit")
	}
	if invoker.callCount() != 0 {
		t.Fatalf("cache hit must not invoke the model, calls = %d", invoker.callCount())
	}
	if outcome.Record.Status != catalog.StatusSuccess {
		t.Fatalf("status = %s, want success", outcome.Record.Status)
	}
	if outcome.Record.Attempts != 1 {
		t.Fatalf("cache hit still consumes an attempt, got %d", outcome.Record.Attempts)
	}
}

func TestEnrichOneProtectedSkipsWithoutMutation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	character := testsupport.NewCharacter(t, store, "Rei Ayanami", "Neon Genesis Evangelion")

	ctx := context.Background()
	protected, err := store.SetProtected(ctx, character.ID, true)
	if err != nil {
		t.Fatalf("SetProtected failed: %v", err)
	}

	invoker := &fakeInvoker{results: []invokeResult{{payload: profilePayload}}}
	engine := newTestEngine(t, cfg, store, invoker, nil)

	outcome, err := engine.EnrichOne(ctx, character.ID, Options{})
	if err != nil {
		t.Fatalf("EnrichOne failed: %v", err)
	}
	if outcome.Disposition != DispositionSkipped {
		t.Fatalf("disposition = %s, want skipped", outcome.Disposition)
	}
	if invoker.callCount() != 0 {
		t.Fatal("protected skip must not invoke the model")
	}

	after, err := store.GetRecord(ctx, character.ID)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if after.Attempts != protected.Attempts {
		t.Errorf("attempts changed on protected skip: %d -> %d", protected.Attempts, after.Attempts)
	}
	if after.Status != protected.Status {
		t.Errorf("status changed on protected skip: %s -> %s", protected.Status, after.Status)
	}
	if after.Revision != protected.Revision {
		t.Errorf("revision changed on protected skip: %d -> %d", protected.Revision, after.Revision)
	}
}

func TestEnrichOneForceOnProtectedRequiresDecision(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	character := testsupport.NewCharacter(t, store, "Asuka Langley", "Neon Genesis Evangelion")

	ctx := context.Background()
	if _, err := store.SetProtected(ctx, character.ID, true); err != nil {
		t.Fatalf("SetProtected failed: %v", err)
	}

	invoker := &fakeInvoker{results: []invokeResult{{payload: profilePayload}}}
	engine := newTestEngine(t, cfg, store, invoker, nil)

	_, err := engine.EnrichOne(ctx, character.ID, Options{Force: true})
	if !errors.Is(err, services.ErrProtectedRecord) {
		t.Fatalf("expected protected record error, got %v", err)
	}
	if invoker.callCount() != 0 {
		t.Fatal("refused force must not invoke the model")
	}
}

func TestEnrichOneForceOnProtectedWithDecision(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	character := testsupport.NewCharacter(t, store, "Shinji Ikari", "Neon Genesis Evangelion")

	ctx := context.Background()
	if _, err := store.SetProtected(ctx, character.ID, true); err != nil {
		t.Fatalf("SetProtected failed: %v", err)
	}

	invoker := &fakeInvoker{results: []invokeResult{{payload: profilePayload}}}
	engine := newTestEngine(t, cfg, store, invoker, nil)

	keep := true
	outcome, err := engine.EnrichOne(ctx, character.ID, Options{Force: true, Protection: &keep})
	if err != nil {
		t.Fatalf("EnrichOne failed: %v", err)
	}
	if outcome.Disposition != DispositionEnriched {
		t.Fatalf("disposition = %s, want enriched", outcome.Disposition)
	}
	if !outcome.Record.Protected {
		t.Fatal("protection decision keep must leave the flag set")
	}
	if outcome.Record.Fields.Personality == "" {
		t.Fatal("expected fields to be overwritten")
	}

	release := false
	outcome, err = engine.EnrichOne(ctx, character.ID, Options{Force: true, Protection: &release})
	if err != nil {
		t.Fatalf("EnrichOne with release failed: %v", err)
	}
	if outcome.Record.Protected {
		t.Fatal("protection decision clear must drop the flag")
	}
}

func TestEnrichOneTransientFailureExhaustsRetries(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	character := testsupport.NewCharacter(t, store, "Lain Iwakura", "Serial Experiments Lain")

	invoker := &fakeInvoker{results: []invokeResult{{err: transientErr()}}}
	engine := newTestEngine(t, cfg, store, invoker, nil)

	outcome, err := engine.EnrichOne(context.Background(), character.ID, Options{})
	if err != nil {
		t.Fatalf("EnrichOne failed: %v", err)
	}
	if outcome.Disposition != DispositionFailed {
		t.Fatalf("disposition = %s, want failed", outcome.Disposition)
	}
	if invoker.callCount() != cfg.Enrichment.MaxAttempts {
		t.Fatalf("calls = %d, want %d", invoker.callCount(), cfg.Enrichment.MaxAttempts)
	}
	if outcome.Record.Status != catalog.StatusFailed {
		t.Fatalf("status = %s, want failed", outcome.Record.Status)
	}
	if outcome.Record.Attempts != 1 {
		t.Fatalf("provider retries must not inflate record attempts, got %d", outcome.Record.Attempts)
	}
	if want := string(services.ClassTransientNetwork); !strings.Contains(outcome.Record.LastError, want) {
		t.Fatalf("last error %q should carry classification %q", outcome.Record.LastError, want)
	}
}

func TestEnrichOneMalformedResponseDoesNotRetry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	character := testsupport.NewCharacter(t, store, "Kaworu Nagisa", "Neon Genesis Evangelion")

	invoker := &fakeInvoker{results: []invokeResult{{payload: `{"personality": "", "trivia": []}`}}}
	engine := newTestEngine(t, cfg, store, invoker, nil)

	outcome, err := engine.EnrichOne(context.Background(), character.ID, Options{})
	if err != nil {
		t.Fatalf("EnrichOne failed: %v", err)
	}
	if outcome.Disposition != DispositionFailed {
		t.Fatalf("disposition = %s, want failed", outcome.Disposition)
	}
	if invoker.callCount() != 1 {
		t.Fatalf("empty payloads are not retryable, calls = %d", invoker.callCount())
	}
	if want := string(services.ClassMalformed); !strings.Contains(outcome.Record.LastError, want) {
		t.Fatalf("last error %q should carry classification %q", outcome.Record.LastError, want)
	}
}

func TestEnrichOneContentPolicyDoesNotRetry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	character := testsupport.NewCharacter(t, store, "Johan Liebert", "Monster")

	refusal := services.Wrap(services.ErrContentPolicy, "openrouter", "complete json", "model declined", nil)
	invoker := &fakeInvoker{results: []invokeResult{{err: refusal}}}
	engine := newTestEngine(t, cfg, store, invoker, nil)

	outcome, err := engine.EnrichOne(context.Background(), character.ID, Options{})
	if err != nil {
		t.Fatalf("EnrichOne failed: %v", err)
	}
	if outcome.Disposition != DispositionFailed {
		t.Fatalf("disposition = %s, want failed", outcome.Disposition)
	}
	if invoker.callCount() != 1 {
		t.Fatalf("content policy rejections are not retryable, calls = %d", invoker.callCount())
	}
}

func TestEnrichOneRetriesFailedRecord(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	character := testsupport.NewCharacter(t, store, "Guts", "Berserk")

	refusal := services.Wrap(services.ErrContentPolicy, "openrouter", "complete json", "model declined", nil)
	invoker := &fakeInvoker{results: []invokeResult{{err: refusal}, {payload: profilePayload}}}
	engine := newTestEngine(t, cfg, store, invoker, nil)

	ctx := context.Background()
	first, err := engine.EnrichOne(ctx, character.ID, Options{})
	if err != nil {
		t.Fatalf("first EnrichOne failed: %v", err)
	}
	if first.Disposition != DispositionFailed {
		t.Fatalf("first disposition = %s, want failed", first.Disposition)
	}

	second, err := engine.EnrichOne(ctx, character.ID, Options{})
	if err != nil {
		t.Fatalf("second EnrichOne failed: %v", err)
	}
	if second.Disposition != DispositionEnriched {
		t.Fatalf("second disposition = %s, want enriched", second.Disposition)
	}
	if second.Record.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", second.Record.Attempts)
	}
	if second.Record.LastError != "" {
		t.Fatalf("last error should clear on success, got %q", second.Record.LastError)
	}
}

func TestEnrichOneForceBypassesCacheAndRewrites(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	character := testsupport.NewCharacter(t, store, "Motoko Kusanagi", "Ghost in the Shell")

	updated := `{"personality": "Pragmatic and introspective"}`
	invoker := &fakeInvoker{results: []invokeResult{{payload: profilePayload}, {payload: updated}}}
	cache := newTestCache(t, cfg)
	engine := newTestEngine(t, cfg, store, invoker, cache)

	ctx := context.Background()
	if _, err := engine.EnrichOne(ctx, character.ID, Options{}); err != nil {
		t.Fatalf("first EnrichOne failed: %v", err)
	}

	outcome, err := engine.EnrichOne(ctx, character.ID, Options{Force: true})
	if err != nil {
		t.Fatalf("forced EnrichOne failed: %v", err)
	}
	if outcome.FromCache {
		t.Fatal("force must bypass the cache read")
	}
	if invoker.callCount() != 2 {
		t.Fatalf("calls = %d, want 2", invoker.callCount())
	}
	if outcome.Record.Fields.Personality != "Pragmatic and introspective" {
		t.Fatalf("personality = %q, want forced result", outcome.Record.Fields.Personality)
	}

	payload, ok := cache.Get(CacheKey(CategoryProfile, character))
	if !ok {
		t.Fatal("expected cache entry after forced run")
	}
	fields, _, err := decodeResult(CategoryProfile, string(payload))
	if err != nil {
		t.Fatalf("decode cached payload: %v", err)
	}
	if fields.Personality != "Pragmatic and introspective" {
		t.Fatalf("cache should hold the forced result, got %q", fields.Personality)
	}
}

func TestEnrichOneMergePreservesOtherCategories(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	character := testsupport.NewCharacter(t, store, "Vash the Stampede", "Trigun")

	cultural := `{"symbolism": "Pacifism under fire", "reception": "Beloved lead of the 90s boom"}`
	invoker := &fakeInvoker{results: []invokeResult{{payload: profilePayload}, {payload: cultural}}}
	engine := newTestEngine(t, cfg, store, invoker, nil)

	ctx := context.Background()
	if _, err := engine.EnrichOne(ctx, character.ID, Options{}); err != nil {
		t.Fatalf("profile EnrichOne failed: %v", err)
	}

	outcome, err := engine.EnrichOne(ctx, character.ID, Options{Force: true, Category: CategoryCulturalImpact})
	if err != nil {
		t.Fatalf("cultural EnrichOne failed: %v", err)
	}
	if outcome.Record.Fields.Symbolism != "Pacifism under fire" {
		t.Fatalf("symbolism = %q", outcome.Record.Fields.Symbolism)
	}
	if outcome.Record.Fields.Personality != "Laid back bounty hunter" {
		t.Fatalf("profile fields must survive a cultural merge, got %q", outcome.Record.Fields.Personality)
	}
	if len(outcome.Record.Fields.Quotes) != 1 {
		t.Fatalf("quotes must survive a cultural merge, got %v", outcome.Record.Fields.Quotes)
	}
}

func TestEnrichOneUnknownCategory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	character := testsupport.NewCharacter(t, store, "Nami", "One Piece")

	engine := newTestEngine(t, cfg, store, &fakeInvoker{}, nil)
	_, err := engine.EnrichOne(context.Background(), character.ID, Options{Category: Category("mood_board")})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestEnrichOneUnknownCharacter(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	engine := newTestEngine(t, cfg, store, &fakeInvoker{}, nil)
	_, err := engine.EnrichOne(context.Background(), 9001, Options{})
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

// fakeStore covers paths the real store refuses to set up, such as blank
// character names and scripted revision conflicts.
type fakeStore struct {
	mu         sync.Mutex
	character  catalog.Character
	record     catalog.EnrichmentRecord
	hasRecord  bool
	conflicts  int
	onConflict func(*catalog.EnrichmentRecord)
	saves      int
}

func newFakeStore(name, series string) *fakeStore {
	return &fakeStore{character: catalog.Character{ID: 1, Name: name, Series: series}}
}

func (f *fakeStore) GetCharacter(_ context.Context, id int64) (*catalog.Character, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id != f.character.ID {
		return nil, nil
	}
	clone := f.character
	return &clone, nil
}

func (f *fakeStore) EnsureRecord(_ context.Context, characterID int64) (*catalog.EnrichmentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasRecord {
		f.record = catalog.EnrichmentRecord{ID: 1, CharacterID: characterID, Status: catalog.StatusPending, Revision: 1}
		f.hasRecord = true
	}
	clone := f.record
	return &clone, nil
}

func (f *fakeStore) GetRecord(_ context.Context, characterID int64) (*catalog.EnrichmentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasRecord || f.record.CharacterID != characterID {
		return nil, nil
	}
	clone := f.record
	return &clone, nil
}

func (f *fakeStore) SaveRecord(_ context.Context, record *catalog.EnrichmentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.conflicts > 0 {
		f.conflicts--
		f.record.Revision++
		if f.onConflict != nil {
			f.onConflict(&f.record)
		}
		return services.Wrap(services.ErrConflict, "catalog", "save record", "revision moved", nil)
	}
	if record.Revision != f.record.Revision {
		return services.Wrap(services.ErrConflict, "catalog", "save record", "revision moved", nil)
	}
	f.record = *record
	f.record.Revision++
	record.Revision = f.record.Revision
	return nil
}

func (f *fakeStore) storedRecord() catalog.EnrichmentRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record
}

func TestEnrichOneSkipsMissingContext(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := newFakeStore("", "Cowboy Bebop")
	invoker := &fakeInvoker{results: []invokeResult{{payload: profilePayload}}}
	engine := newTestEngine(t, cfg, store, invoker, nil)

	outcome, err := engine.EnrichOne(context.Background(), 1, Options{})
	if err != nil {
		t.Fatalf("EnrichOne failed: %v", err)
	}
	if outcome.Disposition != DispositionSkipped {
		t.Fatalf("disposition = %s, want skipped", outcome.Disposition)
	}
	if !strings.Contains(outcome.Reason, "missing required context") {
		t.Fatalf("reason = %q", outcome.Reason)
	}
	if invoker.callCount() != 0 {
		t.Fatal("missing context must not invoke the model")
	}
	stored := store.storedRecord()
	if stored.Status != catalog.StatusSkipped {
		t.Errorf("status = %s, want skipped", stored.Status)
	}
	if stored.Attempts != 1 {
		t.Errorf("skip still consumes an attempt, got %d", stored.Attempts)
	}
	if stored.LastError == "" {
		t.Error("expected skip reason recorded as last error")
	}
}

func TestEnrichOneReappliesAfterSaveConflict(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := newFakeStore("Ryuko Matoi", "Kill la Kill")
	store.conflicts = 1
	invoker := &fakeInvoker{results: []invokeResult{{payload: profilePayload}}}
	engine := newTestEngine(t, cfg, store, invoker, nil)

	outcome, err := engine.EnrichOne(context.Background(), 1, Options{})
	if err != nil {
		t.Fatalf("EnrichOne failed: %v", err)
	}
	if outcome.Disposition != DispositionEnriched {
		t.Fatalf("disposition = %s, want enriched", outcome.Disposition)
	}
	if outcome.Record.Attempts != 1 {
		t.Fatalf("transition must be reapplied to the fresh record, attempts = %d", outcome.Record.Attempts)
	}
	if store.saves != 3 {
		t.Fatalf("saves = %d, want conflict + pending + success", store.saves)
	}
	stored := store.storedRecord()
	if stored.Status != catalog.StatusSuccess {
		t.Fatalf("status = %s, want success", stored.Status)
	}
}

func TestEnrichOneAbortsWhenRecordBecomesProtected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := newFakeStore("Ryuko Matoi", "Kill la Kill")
	store.conflicts = 1
	store.onConflict = func(r *catalog.EnrichmentRecord) { r.Protected = true }
	invoker := &fakeInvoker{results: []invokeResult{{payload: profilePayload}}}
	engine := newTestEngine(t, cfg, store, invoker, nil)

	_, err := engine.EnrichOne(context.Background(), 1, Options{})
	if !errors.Is(err, services.ErrProtectedRecord) {
		t.Fatalf("expected protected record error, got %v", err)
	}
	if invoker.callCount() != 0 {
		t.Fatal("protection discovered mid-save must stop before the model call")
	}
	stored := store.storedRecord()
	if stored.Attempts != 0 {
		t.Errorf("attempts = %d, aborted save must leave the record untouched", stored.Attempts)
	}
	if stored.Status != catalog.StatusPending {
		t.Errorf("status = %s, want pending", stored.Status)
	}
}
