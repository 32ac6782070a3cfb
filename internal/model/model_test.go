package model

import "testing"

func testDoc(id string) *PageDocument {
	return &PageDocument{ID: id, Title: "Page " + id, Slug: "/" + id}
}

func TestChangeSet_Validate(t *testing.T) {
	cs := &ChangeSet{Pages: []PageChange{
		{ID: "home", Document: testDoc("home")},
		{ID: "about", Document: testDoc("about")},
	}}
	if err := cs.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestChangeSet_Validate_DuplicateID(t *testing.T) {
	cs := &ChangeSet{Pages: []PageChange{
		{ID: "home", Document: testDoc("home")},
		{ID: "home", Document: testDoc("home")},
	}}
	if err := cs.Validate(); err == nil {
		t.Error("expected error for duplicate page id")
	}
}

func TestChangeSet_Validate_EmptyID(t *testing.T) {
	cs := &ChangeSet{Pages: []PageChange{
		{ID: "", Document: testDoc("")},
	}}
	if err := cs.Validate(); err == nil {
		t.Error("expected error for empty page id")
	}
}

func TestChangeSet_Validate_Empty(t *testing.T) {
	cs := &ChangeSet{}
	if err := cs.Validate(); err != nil {
		t.Errorf("empty changeset should be valid, got %v", err)
	}
}

func TestRepositoryRef_String(t *testing.T) {
	ref := RepositoryRef{Owner: "acme", Name: "site-content"}
	if got := ref.String(); got != "acme/site-content" {
		t.Errorf("expected 'acme/site-content', got '%s'", got)
	}
}
