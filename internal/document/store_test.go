package document

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"metarecon/internal/blob"
	"metarecon/pkg/domain"
)

const programDoc = `{"system":{"rev":"1"},"programs":[{"id":"prgBreast01","name":"Breast Cancer Program","programStages":[{"id":"stgBreast01"}]}]}`

func seed(t *testing.T, blobs blob.Store, key, body string) {
	t.Helper()
	if _, err := blobs.Replace(context.Background(), key, bytes.NewReader([]byte(body)), blob.PutOptions{}); err != nil {
		t.Fatalf("seed %s: %v", key, err)
	}
}

func raw(t *testing.T, blobs blob.Store, key string) string {
	t.Helper()
	_, rc, err := blobs.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get %s: %v", key, err)
	}
	defer func() { _ = rc.Close() }()
	b, _ := io.ReadAll(rc)
	return string(b)
}

func TestStore_LoadSaveRoundTripIsByteIdentical(t *testing.T) {
	for _, blobs := range []blob.Store{blob.NewMemory(), mustFS(t), blob.NewMockS3ForTests()} {
		t.Run(string(blobs.Driver()), func(t *testing.T) {
			ctx := context.Background()
			store := NewStore(blobs, zerolog.Nop())
			seed(t, blobs, "Program/Program.json", programDoc)
			doc, coll, err := store.LoadCollection(ctx, "Program/Program.json", domain.Programs, LoadOptions{})
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if coll.Len() != 1 || string(coll.Envelope) != `{"rev":"1"}` {
				t.Fatalf("unexpected collection %+v", coll)
			}
			if err := store.SaveCollection(ctx, "Program/Program.json", doc, coll); err != nil {
				t.Fatalf("save: %v", err)
			}
			if got := raw(t, blobs, "Program/Program.json"); got != programDoc {
				t.Fatalf("round trip changed bytes:\n%s", got)
			}
		})
	}
}

func mustFS(t *testing.T) blob.Store {
	t.Helper()
	s, err := blob.NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("fs: %v", err)
	}
	return s
}

func TestStore_Malformed(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemory()
	store := NewStore(blobs, zerolog.Nop())
	seed(t, blobs, "bad.json", `{"programs":[`)
	seed(t, blobs, "array.json", `[]`)
	for _, key := range []string{"bad.json", "array.json"} {
		_, err := store.Load(ctx, key)
		var mde domain.MalformedDocumentError
		if !errors.As(err, &mde) || mde.Key != key || !errors.Is(err, domain.ErrMalformedDocument) {
			t.Fatalf("%s: expected MalformedDocumentError, got %v", key, err)
		}
	}
}

func TestStore_MissingCollection(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemory()
	store := NewStore(blobs, zerolog.Nop())
	seed(t, blobs, "Program/Program.json", programDoc)
	if _, _, err := store.LoadCollection(ctx, "Program/Program.json", domain.Dashboards, LoadOptions{}); !errors.Is(err, domain.ErrMissingCollection) {
		t.Fatalf("expected missing collection error, got %v", err)
	}
	_, coll, err := store.LoadCollection(ctx, "Program/Program.json", domain.Dashboards, LoadOptions{AllowMissing: true})
	if err != nil || coll.Len() != 0 || coll.Key != domain.Dashboards {
		t.Fatalf("expected empty collection: %+v %v", coll, err)
	}
}

func TestStore_MissingKeyIsNotMalformed(t *testing.T) {
	store := NewStore(blob.NewMemory(), zerolog.Nop())
	_, err := store.Load(context.Background(), "absent.json")
	if !errors.Is(err, blob.ErrNotFound) || errors.Is(err, domain.ErrMalformedDocument) {
		t.Fatalf("expected not found, got %v", err)
	}
	ok, err := store.Exists(context.Background(), "absent.json")
	if err != nil || ok {
		t.Fatalf("exists: %v %v", ok, err)
	}
}

func TestStore_ListOnlyJSON(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemory()
	store := NewStore(blobs, zerolog.Nop())
	seed(t, blobs, "Program/Program.json", "{}")
	seed(t, blobs, "Program/notes.txt", "x")
	seed(t, blobs, "Dashboard/Dashboard.json", "{}")
	keys, err := store.List(ctx, "Program/")
	if err != nil || len(keys) != 1 || keys[0] != "Program/Program.json" {
		t.Fatalf("unexpected keys %v %v", keys, err)
	}
}

func TestStore_SaveChangedDocumentIsIndented(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemory()
	store := NewStore(blobs, zerolog.Nop())
	coll := domain.Collection{Key: domain.Programs, Records: []domain.Record{domain.MustRecord(`{"id":"prgLung0001"}`)}}
	if err := store.SaveCollection(ctx, "new.json", nil, coll); err != nil {
		t.Fatalf("save: %v", err)
	}
	want := "{\n  \"programs\": [\n    {\n      \"id\": \"prgLung0001\"\n    }\n  ]\n}\n"
	if got := raw(t, blobs, "new.json"); got != want {
		t.Fatalf("unexpected output %q", got)
	}
}
