package decide

import (
	"errors"
	"testing"

	"github.com/subsync/subsync/internal/git"
)

func TestQueueDeciderReplaysInOrder(t *testing.T) {
	q := &QueueDecider{
		Duplicates: []Choice{ChoiceApply, ChoiceSkip},
		Conflicts:  []Resolution{ResolveContinue},
	}

	c1 := git.Commit{Hash: "aaa", Subject: "first"}
	c2 := git.Commit{Hash: "bbb", Subject: "second"}

	got, err := q.PickDuplicate(c1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != ChoiceApply {
		t.Errorf("first duplicate = %v, want ChoiceApply", got)
	}

	got, err = q.PickDuplicate(c2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != ChoiceSkip {
		t.Errorf("second duplicate = %v, want ChoiceSkip", got)
	}

	res, err := q.ResolveConflict(c1, "/tmp/work", []string{"a.txt"})
	if err != nil {
		t.Fatal(err)
	}
	if res != ResolveContinue {
		t.Errorf("conflict = %v, want ResolveContinue", res)
	}

	want := []string{"duplicate:aaa", "duplicate:bbb", "conflict:aaa"}
	if len(q.Asked) != len(want) {
		t.Fatalf("Asked = %v, want %v", q.Asked, want)
	}
	for i := range want {
		if q.Asked[i] != want[i] {
			t.Errorf("Asked[%d] = %s, want %s", i, q.Asked[i], want[i])
		}
	}
}

func TestQueueDeciderExhausted(t *testing.T) {
	q := &QueueDecider{}

	if _, err := q.PickDuplicate(git.Commit{Hash: "aaa"}, nil); err == nil {
		t.Error("exhausted duplicate queue did not fail")
	}
	if _, err := q.ResolveConflict(git.Commit{Hash: "aaa"}, "", nil); err == nil {
		t.Error("exhausted conflict queue did not fail")
	}
	if _, err := q.ResumePatch("0001-x.patch", "", errors.New("boom")); err == nil {
		t.Error("exhausted patch queue did not fail")
	}
}

func TestTerminalDeciderRequiresTerminal(t *testing.T) {
	// Under go test stdin is not a TTY, so every prompt must refuse
	// rather than hang.
	d := NewTerminal()
	c := git.Commit{Hash: "abc123", Subject: "change"}

	if _, err := d.PickDuplicate(c, nil); !errors.Is(err, ErrNoTerminal) {
		t.Errorf("PickDuplicate err = %v, want ErrNoTerminal", err)
	}
	if _, err := d.ResolveConflict(c, "/tmp/work", []string{"a.txt"}); !errors.Is(err, ErrNoTerminal) {
		t.Errorf("ResolveConflict err = %v, want ErrNoTerminal", err)
	}
	if _, err := d.ResumePatch("0001-x.patch", "/tmp/mirror", errors.New("boom")); !errors.Is(err, ErrNoTerminal) {
		t.Errorf("ResumePatch err = %v, want ErrNoTerminal", err)
	}
}
