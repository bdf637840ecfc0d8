package szurubooru

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"boorusync/internal/resources"
)

func bodyInt(t *testing.T, body map[string]any, key string) int {
	t.Helper()
	value, ok := body[key].(float64)
	if !ok {
		t.Fatalf("body[%q] = %v (%T), want a number", key, body[key], body[key])
	}
	return int(value)
}

func TestPushTagCreatesMissing(t *testing.T) {
	p, log := newTestPlugin(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.Path {
		case "GET /api/tag/foo", "GET /api/tag/bar":
			writeEnvelope(t, w, http.StatusNotFound, "TagNotFoundError")
		case "POST /api/tags":
			writeJSON(t, w, http.StatusOK, map[string]any{
				"version":  1,
				"names":    []string{"foo", "bar"},
				"category": "character",
				"implications": []map[string]any{
					{"names": []string{"tail", "tail_alias"}, "category": "species"},
				},
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			writeEnvelope(t, w, http.StatusNotFound, "TagNotFoundError")
		}
	}))

	implied := resources.NewTag([]string{"tail", "tail_alias"}, resources.TagCategorySpecies)
	tag := resources.NewTag([]string{"foo", "bar"}, resources.TagCategoryCharacter, implied)

	result, err := p.PushTag(context.Background(), tag, false, false)
	if err != nil {
		t.Fatalf("PushTag() error = %v", err)
	}
	if result == nil || result.Name() != "foo" || !result.HasName("bar") {
		t.Fatalf("result = %v", result)
	}

	creates := log.matching("POST", "/api/tags")
	if len(creates) != 1 {
		t.Fatalf("got %d creates, want 1", len(creates))
	}
	body := creates[0].Body
	if got := bodyStrings(t, body, "names"); !sameStrings(got, []string{"foo", "bar"}) {
		t.Errorf("create names = %v", got)
	}
	if body["category"] != "character" {
		t.Errorf("create category = %v", body["category"])
	}
	if got := bodyStrings(t, body, "implications"); !sameStrings(got, []string{"tail", "tail_alias"}) {
		t.Errorf("create implications = %v", got)
	}
}

func TestPushTagNoChangeSkipsWrite(t *testing.T) {
	p, log := newTestPlugin(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" || r.URL.Path != "/api/tag/foo" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		writeJSON(t, w, http.StatusOK, map[string]any{
			"version":  4,
			"names":    []string{"foo", "baz"},
			"category": "character",
			"usages":   5,
		})
	}))

	tag := resources.NewTag([]string{"foo"}, resources.TagCategoryCharacter)
	result, err := p.PushTag(context.Background(), tag, false, false)
	if err != nil {
		t.Fatalf("PushTag() error = %v", err)
	}
	if result == nil || !result.HasName("baz") {
		t.Fatalf("result = %v, want the destination tag", result)
	}
	if log.total() != 1 {
		t.Errorf("destination saw %d requests, want only the lookup", log.total())
	}
}

func TestPushTagResolvesNameConflict(t *testing.T) {
	p, log := newTestPlugin(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.Path {
		case "GET /api/tag/foo":
			writeJSON(t, w, http.StatusOK, map[string]any{
				"version": 3, "names": []string{"foo", "baz"}, "category": "general", "usages": 5,
			})
		case "GET /api/tag/bar":
			writeJSON(t, w, http.StatusOK, map[string]any{
				"version": 2, "names": []string{"bar"}, "category": "general", "usages": 0,
			})
		case "DELETE /api/tag/bar":
			writeJSON(t, w, http.StatusOK, map[string]any{})
		case "PUT /api/tag/foo":
			writeJSON(t, w, http.StatusOK, map[string]any{
				"version": 4, "names": []string{"foo", "baz", "bar"}, "category": "character", "usages": 5,
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			writeEnvelope(t, w, http.StatusNotFound, "TagNotFoundError")
		}
	}))

	tag := resources.NewTag([]string{"foo", "bar"}, resources.TagCategoryCharacter)
	result, err := p.PushTag(context.Background(), tag, false, false)
	if err != nil {
		t.Fatalf("PushTag() error = %v", err)
	}
	if result == nil || !result.HasName("bar") {
		t.Fatalf("result = %v", result)
	}

	deletes := log.matching("DELETE", "/api/tag/bar")
	if len(deletes) != 1 {
		t.Fatalf("got %d deletes of the unused conflict, want 1", len(deletes))
	}
	if got := bodyInt(t, deletes[0].Body, "version"); got != 2 {
		t.Errorf("delete version = %d, want 2", got)
	}

	updates := log.matching("PUT", "/api/tag/foo")
	if len(updates) != 1 {
		t.Fatalf("got %d updates, want 1", len(updates))
	}
	body := updates[0].Body
	if got := bodyStrings(t, body, "names"); !sameStrings(got, []string{"foo", "baz", "bar"}) {
		t.Errorf("update names = %v, want [foo baz bar]", got)
	}
	if body["category"] != "character" {
		t.Errorf("update category = %v", body["category"])
	}
	if got := bodyInt(t, body, "version"); got != 3 {
		t.Errorf("update version = %d, want the primary's 3", got)
	}
}

func TestPushTagMergesUsedConflict(t *testing.T) {
	p, log := newTestPlugin(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.Path {
		case "GET /api/tag/foo":
			writeJSON(t, w, http.StatusOK, map[string]any{
				"version": 3, "names": []string{"foo"}, "category": "character", "usages": 5,
			})
		case "GET /api/tag/bar":
			writeJSON(t, w, http.StatusOK, map[string]any{
				"version": 2, "names": []string{"bar"}, "category": "general", "usages": 2,
			})
		case "POST /api/tag-merge/":
			writeJSON(t, w, http.StatusOK, map[string]any{
				"version": 6, "names": []string{"foo", "bar"}, "category": "character", "usages": 7,
			})
		case "PUT /api/tag/foo":
			writeJSON(t, w, http.StatusOK, map[string]any{
				"version": 7, "names": []string{"foo", "bar"}, "category": "character", "usages": 7,
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			writeEnvelope(t, w, http.StatusNotFound, "TagNotFoundError")
		}
	}))

	tag := resources.NewTag([]string{"foo", "bar"}, resources.TagCategoryCharacter)
	if _, err := p.PushTag(context.Background(), tag, false, false); err != nil {
		t.Fatalf("PushTag() error = %v", err)
	}

	merges := log.matching("POST", "/api/tag-merge/")
	if len(merges) != 1 {
		t.Fatalf("got %d merges, want 1", len(merges))
	}
	body := merges[0].Body
	if body["remove"] != "bar" || body["mergeTo"] != "foo" {
		t.Errorf("merge body = %v", body)
	}
	if got := bodyInt(t, body, "removeVersion"); got != 2 {
		t.Errorf("removeVersion = %d, want 2", got)
	}
	if got := bodyInt(t, body, "mergeToVersion"); got != 3 {
		t.Errorf("mergeToVersion = %d, want 3", got)
	}

	updates := log.matching("PUT", "/api/tag/foo")
	if len(updates) != 1 {
		t.Fatalf("got %d updates, want 1", len(updates))
	}
	if got := bodyInt(t, updates[0].Body, "version"); got != 6 {
		t.Errorf("update version = %d, want the post-merge 6", got)
	}
}

func TestPushTagSkipsUnusedDestinationTag(t *testing.T) {
	p, log := newTestPlugin(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"version": 1, "names": []string{"foo"}, "category": "general", "usages": 0,
		})
	}))

	tag := resources.NewTag([]string{"foo"}, resources.TagCategoryCharacter)
	result, err := p.PushTag(context.Background(), tag, false, false)
	if err != nil {
		t.Fatalf("PushTag() error = %v", err)
	}
	if result != nil {
		t.Fatalf("result = %v, want nil for an unused destination tag", result)
	}
	if log.total() != 1 {
		t.Errorf("destination saw %d requests, want only the lookup", log.total())
	}
}

func TestPushTagCreateEmptyStillUpdates(t *testing.T) {
	p, log := newTestPlugin(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "GET":
			writeJSON(t, w, http.StatusOK, map[string]any{
				"version": 1, "names": []string{"foo"}, "category": "general", "usages": 0,
			})
		case "PUT":
			writeJSON(t, w, http.StatusOK, map[string]any{
				"version": 2, "names": []string{"foo"}, "category": "character", "usages": 0,
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))

	tag := resources.NewTag([]string{"foo"}, resources.TagCategoryCharacter)
	result, err := p.PushTag(context.Background(), tag, false, true)
	if err != nil {
		t.Fatalf("PushTag() error = %v", err)
	}
	if result == nil || result.Category != resources.TagCategoryCharacter {
		t.Fatalf("result = %v", result)
	}
	if log.count("PUT", "/api/tag/foo") != 1 {
		t.Error("unused tag was not updated despite createEmpty")
	}
}

func TestPushTagYieldsWhenCreateRaces(t *testing.T) {
	p, _ := newTestPlugin(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "GET":
			writeEnvelope(t, w, http.StatusNotFound, "TagNotFoundError")
		case "POST":
			writeEnvelope(t, w, http.StatusConflict, "TagAlreadyExistsError")
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))

	result, err := p.PushTag(context.Background(), resources.NewTag([]string{"foo"}, ""), false, false)
	if err != nil {
		t.Fatalf("PushTag() error = %v, want the racing create swallowed", err)
	}
	if result != nil {
		t.Fatalf("result = %v, want nil", result)
	}
}

func TestPushTagRetriesIntegrityConflict(t *testing.T) {
	var updates int
	p, log := newTestPlugin(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.Path {
		case "GET /api/tag/foo":
			writeJSON(t, w, http.StatusOK, map[string]any{
				"version": 3, "names": []string{"foo"}, "category": "general", "usages": 5,
			})
		case "PUT /api/tag/foo":
			updates++
			if updates == 1 {
				writeEnvelope(t, w, http.StatusConflict, "IntegrityError")
				return
			}
			writeJSON(t, w, http.StatusOK, map[string]any{
				"version": 5, "names": []string{"foo"}, "category": "character", "usages": 5,
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))

	tag := resources.NewTag([]string{"foo"}, resources.TagCategoryCharacter)
	result, err := p.PushTag(context.Background(), tag, false, false)
	if err != nil {
		t.Fatalf("PushTag() error = %v", err)
	}
	if result == nil || result.Category != resources.TagCategoryCharacter {
		t.Fatalf("result = %v", result)
	}
	if got := log.count("PUT", "/api/tag/foo"); got != 2 {
		t.Errorf("got %d updates, want 2", got)
	}
	if got := log.count("GET", "/api/tag/foo"); got != 2 {
		t.Errorf("got %d lookups, want a fresh read per attempt", got)
	}
}

func TestPushTagIntegrityConflictExhausts(t *testing.T) {
	p, log := newTestPlugin(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "GET":
			writeJSON(t, w, http.StatusOK, map[string]any{
				"version": 3, "names": []string{"foo"}, "category": "general", "usages": 5,
			})
		case "PUT":
			writeEnvelope(t, w, http.StatusConflict, "IntegrityError")
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	p.integrityAttempts = 2

	tag := resources.NewTag([]string{"foo"}, resources.TagCategoryCharacter)
	_, err := p.PushTag(context.Background(), tag, false, false)
	if err == nil {
		t.Fatal("PushTag() succeeded, want an exhausted integrity retry")
	}
	if !errors.Is(err, ErrIntegrity) {
		t.Errorf("error = %v, want ErrIntegrity", err)
	}
	if !strings.Contains(err.Error(), "integrity conflict persisted") {
		t.Errorf("error = %v", err)
	}
	if got := log.count("PUT", "/api/tag/foo"); got != 2 {
		t.Errorf("got %d updates, want 2 attempts", got)
	}
}

func TestPushTagShrinksThenExpandsOnAliasConflict(t *testing.T) {
	var updates int
	p, log := newTestPlugin(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.Path {
		case "GET /api/tag/foo":
			writeJSON(t, w, http.StatusOK, map[string]any{
				"version": 3, "names": []string{"foo"}, "category": "character", "usages": 5,
			})
		case "GET /api/tag/new_alias":
			writeEnvelope(t, w, http.StatusNotFound, "TagNotFoundError")
		case "PUT /api/tag/foo":
			updates++
			switch updates {
			case 1:
				writeEnvelope(t, w, http.StatusConflict, "TagAlreadyExistsError")
			case 2:
				writeJSON(t, w, http.StatusOK, map[string]any{
					"version": 4, "names": []string{"foo"}, "category": "character", "usages": 5,
				})
			default:
				writeJSON(t, w, http.StatusOK, map[string]any{
					"version": 5, "names": []string{"foo", "new_alias"}, "category": "character", "usages": 5,
				})
			}
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))

	tag := resources.NewTag([]string{"foo", "new_alias"}, resources.TagCategoryCharacter)
	result, err := p.PushTag(context.Background(), tag, false, false)
	if err != nil {
		t.Fatalf("PushTag() error = %v", err)
	}
	if result == nil || !result.HasName("new_alias") {
		t.Fatalf("result = %v", result)
	}

	puts := log.matching("PUT", "/api/tag/foo")
	if len(puts) != 3 {
		t.Fatalf("got %d updates, want full, shrunk, expanded", len(puts))
	}
	if got := bodyStrings(t, puts[1].Body, "names"); !sameStrings(got, []string{"foo"}) {
		t.Errorf("shrunk names = %v, want [foo]", got)
	}
	if got := bodyStrings(t, puts[2].Body, "names"); !sameStrings(got, []string{"foo", "new_alias"}) {
		t.Errorf("expanded names = %v", got)
	}
	if got := bodyInt(t, puts[2].Body, "version"); got != 4 {
		t.Errorf("expanded version = %d, want the post-shrink 4", got)
	}
}

func TestPushTagPrunesCollidingImplications(t *testing.T) {
	var updates int
	p, log := newTestPlugin(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.Path {
		case "GET /api/tag/foo":
			writeJSON(t, w, http.StatusOK, map[string]any{
				"version": 3, "names": []string{"foo"}, "category": "character", "usages": 1,
			})
		case "GET /api/tag/bar":
			writeEnvelope(t, w, http.StatusNotFound, "TagNotFoundError")
		case "PUT /api/tag/foo":
			updates++
			if updates == 1 {
				writeEnvelope(t, w, http.StatusBadRequest, "InvalidTagRelationError")
				return
			}
			writeJSON(t, w, http.StatusOK, map[string]any{
				"version": 4, "names": []string{"foo", "bar"}, "category": "character", "usages": 1,
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))

	implied := resources.NewTag([]string{"bar"}, resources.TagCategoryGeneral)
	tag := resources.NewTag([]string{"foo", "bar"}, resources.TagCategoryCharacter, implied)

	if _, err := p.PushTag(context.Background(), tag, false, false); err != nil {
		t.Fatalf("PushTag() error = %v", err)
	}

	puts := log.matching("PUT", "/api/tag/foo")
	if len(puts) != 2 {
		t.Fatalf("got %d updates, want 2", len(puts))
	}
	if got := bodyStrings(t, puts[0].Body, "implications"); !sameStrings(got, []string{"bar"}) {
		t.Errorf("first update implications = %v", got)
	}
	if _, ok := puts[1].Body["implications"]; ok {
		t.Errorf("second update still carries implications: %v", puts[1].Body["implications"])
	}
}

func TestPushTagRelocatesMovedFirstName(t *testing.T) {
	var fooReads int
	p, log := newTestPlugin(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.Path {
		case "GET /api/tag/foo":
			fooReads++
			if fooReads == 1 {
				writeJSON(t, w, http.StatusOK, map[string]any{
					"version": 3, "names": []string{"foo", "baz"}, "category": "character", "usages": 2,
				})
				return
			}
			writeEnvelope(t, w, http.StatusNotFound, "TagNotFoundError")
		case "GET /api/tag/baz":
			writeJSON(t, w, http.StatusOK, map[string]any{
				"version": 9, "names": []string{"baz"}, "category": "character", "usages": 2,
			})
		case "GET /api/tag/extra":
			writeEnvelope(t, w, http.StatusNotFound, "TagNotFoundError")
		case "PUT /api/tag/foo":
			writeEnvelope(t, w, http.StatusNotFound, "TagNotFoundError")
		case "PUT /api/tag/baz":
			writeJSON(t, w, http.StatusOK, map[string]any{
				"version": 10, "names": []string{"baz", "foo", "extra"}, "category": "character", "usages": 2,
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))

	tag := resources.NewTag([]string{"foo", "extra"}, resources.TagCategoryCharacter)
	result, err := p.PushTag(context.Background(), tag, false, false)
	if err != nil {
		t.Fatalf("PushTag() error = %v", err)
	}
	if result == nil || !result.HasName("extra") {
		t.Fatalf("result = %v", result)
	}

	relocated := log.matching("PUT", "/api/tag/baz")
	if len(relocated) != 1 {
		t.Fatalf("got %d relocated updates, want 1", len(relocated))
	}
	body := relocated[0].Body
	if got := bodyStrings(t, body, "names"); !sameStrings(got, []string{"baz", "foo", "extra"}) {
		t.Errorf("relocated names = %v, want the surviving name first", got)
	}
	if got := bodyInt(t, body, "version"); got != 9 {
		t.Errorf("relocated version = %d, want the fresh 9", got)
	}
}

func TestPushTagCapsNameList(t *testing.T) {
	p, log := newTestPlugin(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "GET":
			writeEnvelope(t, w, http.StatusNotFound, "TagNotFoundError")
		case "POST":
			writeJSON(t, w, http.StatusOK, map[string]any{
				"version": 1, "names": []string{"a", "b", "c"}, "category": "general",
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	p.tagNameCap = 3

	tag := resources.NewTag([]string{"a", "b", "c", "d", "e"}, "")
	if _, err := p.PushTag(context.Background(), tag, false, false); err != nil {
		t.Fatalf("PushTag() error = %v", err)
	}

	creates := log.matching("POST", "/api/tags")
	if len(creates) != 1 {
		t.Fatalf("got %d creates, want 1", len(creates))
	}
	if got := bodyStrings(t, creates[0].Body, "names"); !sameStrings(got, []string{"a", "b", "c"}) {
		t.Errorf("create names = %v, want the capped list", got)
	}
	if log.count("GET", "/api/tag/d") != 0 || log.count("GET", "/api/tag/e") != 0 {
		t.Error("trimmed names were still looked up")
	}
}

func TestPushTagRejectsNameless(t *testing.T) {
	p, log := newTestPlugin(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
	}))

	if _, err := p.PushTag(context.Background(), nil, false, false); err == nil {
		t.Error("PushTag(nil) succeeded")
	}
	if _, err := p.PushTag(context.Background(), resources.NewTag(nil, ""), false, false); err == nil {
		t.Error("PushTag() accepted a tag without names")
	}
	if log.total() != 0 {
		t.Errorf("destination saw %d requests, want none", log.total())
	}
}
