package extraction_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/ledgerworks/factura/internal/extraction"
	"github.com/ledgerworks/factura/internal/fault"
	"github.com/ledgerworks/factura/pkg/lifecycle"
	"github.com/ledgerworks/factura/pkg/storage"
)

type memStore struct {
	blobs map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{blobs: make(map[string][]byte)}
}

func (m *memStore) Start(*lifecycle.Coordinator) error { return nil }

func (m *memStore) Upload(_ context.Context, key string, reader io.Reader, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.blobs[key] = data
	return nil
}

func (m *memStore) Download(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.blobs[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	if _, ok := m.blobs[key]; !ok {
		return storage.ErrNotFound
	}
	delete(m.blobs, key)
	return nil
}

func (m *memStore) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.blobs[key]
	return ok, nil
}

const key = "invoices/inv-1/extraction-output.json"

func storeEnvelope(t *testing.T, store *memStore, rawOutput string) {
	t.Helper()
	env := map[string]any{
		"stepName":  "extract",
		"invoiceId": "inv-1",
		"timestamp": "2024-03-15T10:00:00Z",
		"status":    "ok",
		"rawOutput": json.RawMessage(rawOutput),
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	store.blobs[key] = data
}

func TestReadOutputMissing(t *testing.T) {
	store := newMemStore()

	_, err := extraction.ReadOutput(context.Background(), store, key)
	if !fault.IsKind(err, fault.KindExtractionMissing) {
		t.Fatalf("expected extraction_missing, got %v", err)
	}
}

func TestReadOutputErrorStatus(t *testing.T) {
	store := newMemStore()
	store.blobs[key] = []byte(`{"stepName":"extract","invoiceId":"inv-1","status":"error","error":"timeout"}`)

	_, err := extraction.ReadOutput(context.Background(), store, key)
	if !fault.IsKind(err, fault.KindExtractionMissing) {
		t.Fatalf("expected extraction_missing, got %v", err)
	}
}

func TestReadOutputNoOutputField(t *testing.T) {
	store := newMemStore()
	storeEnvelope(t, store, `{"id":"resp-1"}`)

	_, err := extraction.ReadOutput(context.Background(), store, key)
	if !fault.IsKind(err, fault.KindExtractionMissing) {
		t.Fatalf("expected extraction_missing, got %v", err)
	}
}

func TestReadOutputDoubleUnwrap(t *testing.T) {
	store := newMemStore()
	storeEnvelope(t, store,
		`{"output":[{"content":[{"text":"{\"general_data\":{\"currency\":\"EUR\"},\"lines\":[]}"}]}]}`)

	doc, err := extraction.ReadOutput(context.Background(), store, key)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		t.Fatalf("expected object, got %T", doc)
	}
	dg, ok := obj["general_data"].(map[string]any)
	if !ok || dg["currency"] != "EUR" {
		t.Errorf("unexpected document: %v", obj)
	}
}

func TestReadOutputFencedText(t *testing.T) {
	store := newMemStore()
	storeEnvelope(t, store,
		"{\"output\":[{\"content\":[{\"text\":\"```json\\n{\\\"general_data\\\":{},\\\"lines\\\":[]}\\n```\"}]}]}")

	doc, err := extraction.ReadOutput(context.Background(), store, key)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if _, ok := doc.(map[string]any); !ok {
		t.Fatalf("expected object, got %T", doc)
	}
}

func TestReadOutputUnparsableText(t *testing.T) {
	store := newMemStore()
	storeEnvelope(t, store, `{"output":[{"content":[{"text":"not json at all"}]}]}`)

	_, err := extraction.ReadOutput(context.Background(), store, key)
	if !fault.IsKind(err, fault.KindMalformedStructure) {
		t.Fatalf("expected malformed_structure, got %v", err)
	}
}

func TestReadOutputDirectObject(t *testing.T) {
	store := newMemStore()
	storeEnvelope(t, store, `{"output":{"general_data":{},"lines":[]}}`)

	doc, err := extraction.ReadOutput(context.Background(), store, key)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if _, ok := doc.(map[string]any); !ok {
		t.Fatalf("expected object, got %T", doc)
	}
}

func TestRenderTemplate(t *testing.T) {
	template := `{"model":"doc-reader","input":"{{FILE_URL}}"}`

	body, err := extraction.RenderTemplate(template, "https://files.example/inv.pdf")
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("rendered body not JSON: %v", err)
	}
	if parsed["input"] != "https://files.example/inv.pdf" {
		t.Errorf("placeholder not substituted: %v", parsed["input"])
	}
}

func TestRenderTemplateInvalidResult(t *testing.T) {
	if _, err := extraction.RenderTemplate(`{"broken": {{FILE_URL}}}`, "url with spaces"); err == nil {
		t.Fatal("expected error for non-JSON render result")
	}
}
