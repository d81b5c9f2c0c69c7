package swap

import "testing"

func TestCellLatestWins(t *testing.T) {
	var c Cell[int]
	if v := c.Take(); v != nil {
		t.Fatalf("expected empty cell, got %v", *v)
	}
	a, b := 1, 2
	c.Publish(&a)
	c.Publish(&b)
	v := c.Take()
	if v == nil || *v != 2 {
		t.Fatalf("expected latest value 2, got %v", v)
	}
	if v := c.Take(); v != nil {
		t.Fatalf("expected cell drained after Take, got %v", *v)
	}
}
