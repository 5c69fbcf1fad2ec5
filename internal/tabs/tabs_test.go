package tabs

import (
	"testing"

	"github.com/deskbridge/hostd/internal/session"
)

func entryIDs(p *Projection) []int {
	var ids []int
	for _, e := range p.Entries() {
		ids = append(ids, e.ID)
	}
	return ids
}

func TestAppendAndOrder(t *testing.T) {
	p := New()
	p.Append(Entry{ID: 3, Label: "a"})
	p.Append(Entry{ID: 1, Label: "b"})
	p.Append(Entry{ID: 2, Label: "c"})

	want := []int{3, 1, 2}
	got := entryIDs(p)
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry[%d].ID = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestRemoveByID(t *testing.T) {
	p := New()
	p.Append(Entry{ID: 1})
	p.Append(Entry{ID: 2})
	p.Append(Entry{ID: 3})

	if !p.RemoveByID(2) {
		t.Fatal("RemoveByID(2) returned false")
	}
	if p.RemoveByID(2) {
		t.Error("second RemoveByID(2) returned true")
	}

	got := entryIDs(p)
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("entries after removal = %v, want [1 3]", got)
	}
}

// Removal by id must be immune to index drift: deleting an earlier entry
// shifts positions, but id-addressed operations still hit the right tab.
func TestRemoveByIDAfterReorder(t *testing.T) {
	p := New()
	p.Append(Entry{ID: 10})
	p.Append(Entry{ID: 11})

	idx, _ := p.IndexOf(11) // captured index, about to go stale
	p.RemoveByID(10)

	newIdx, ok := p.IndexOf(11)
	if !ok {
		t.Fatal("entry 11 lost after unrelated removal")
	}
	if newIdx == idx {
		t.Fatalf("index did not shift after removal; test setup broken")
	}
	if !p.RemoveByID(11) {
		t.Error("RemoveByID(11) failed after positions shifted")
	}
}

func TestIndexOfIsFresh(t *testing.T) {
	p := New()
	p.Append(Entry{ID: 5})
	p.Append(Entry{ID: 6})

	if idx, ok := p.IndexOf(6); !ok || idx != 1 {
		t.Fatalf("IndexOf(6) = (%d, %v), want (1, true)", idx, ok)
	}

	p.Replace([]Entry{{ID: 6}, {ID: 5}})

	if idx, ok := p.IndexOf(6); !ok || idx != 0 {
		t.Errorf("IndexOf(6) after Replace = (%d, %v), want (0, true)", idx, ok)
	}
	if _, ok := p.IndexOf(7); ok {
		t.Error("IndexOf for absent id returned ok=true")
	}
}

func TestSetAuthorized(t *testing.T) {
	p := New()
	p.Append(Entry{ID: 4, Authorized: false})

	if !p.SetAuthorized(4, true) {
		t.Fatal("SetAuthorized(4) returned false")
	}
	if e := p.Entries()[0]; !e.Authorized {
		t.Error("authorized flag not set on entry")
	}
	if p.SetAuthorized(9, true) {
		t.Error("SetAuthorized for absent id returned true")
	}
}

func TestReplaceDropsOldEntries(t *testing.T) {
	p := New()
	p.Append(Entry{ID: 1})
	p.Replace([]Entry{{ID: 2}, {ID: 3}})

	got := entryIDs(p)
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Errorf("entries after Replace = %v, want [2 3]", got)
	}

	p.Replace(nil)
	if p.Len() != 0 {
		t.Errorf("Len() = %d after Replace(nil), want 0", p.Len())
	}
}

func TestEntriesReturnsCopy(t *testing.T) {
	p := New()
	p.Append(Entry{ID: 1, Label: "original"})

	got := p.Entries()
	got[0].Label = "mutated"

	if p.Entries()[0].Label != "original" {
		t.Error("Entries did not return a copy; mutation leaked into projection")
	}
}

func TestEntryFor(t *testing.T) {
	s := session.Session{ID: 8, Name: "desk", PeerID: "p8", Authorized: true}
	e := EntryFor(s)
	if e.ID != 8 || e.Label != "desk" || !e.Authorized {
		t.Errorf("EntryFor(%+v) = %+v", s, e)
	}

	anon := session.Session{ID: 9, PeerID: "p9"}
	if got := EntryFor(anon).Label; got != "p9" {
		t.Errorf("EntryFor fallback label = %q, want p9", got)
	}
}

func TestUpdateReplacesInPlace(t *testing.T) {
	p := New()
	p.Append(Entry{ID: 1, Label: "one"})
	p.Append(Entry{ID: 2, Label: "two"})

	if !p.Update(Entry{ID: 2, Label: "renamed", Authorized: true}) {
		t.Fatal("Update did not find id 2")
	}
	if i, _ := p.IndexOf(2); i != 1 {
		t.Errorf("index = %d, want position preserved", i)
	}
	if e := p.Entries()[1]; e.Label != "renamed" || !e.Authorized {
		t.Errorf("entry = %+v, want replaced fields", e)
	}

	if p.Update(Entry{ID: 9, Label: "ghost"}) {
		t.Error("Update invented an entry for an absent id")
	}
	if p.Len() != 2 {
		t.Errorf("len = %d, want 2", p.Len())
	}
}
