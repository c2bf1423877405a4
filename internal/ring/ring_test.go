package ring

import "testing"

func TestEnqDeqFIFO(t *testing.T) {
	r := New(2)
	if err := r.Enq(1); err != nil {
		t.Fatal(err)
	}
	if err := r.Enq(2); err != nil {
		t.Fatal(err)
	}
	if err := r.Enq(3); err != ErrFull {
		t.Fatalf("expected ErrFull, got %v", err)
	}
	v, err := r.Deq()
	if err != nil || v != 1 {
		t.Fatalf("expected 1, got %v, %v", v, err)
	}
	if err := r.Enq(3); err != nil {
		t.Fatal(err)
	}
	v, _ = r.Deq()
	if v != 2 {
		t.Fatalf("expected FIFO order 2, got %v", v)
	}
}

func TestDeqEmpty(t *testing.T) {
	r := New(1)
	if _, err := r.Deq(); err != ErrEmpty {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestTwoEnqDeq(t *testing.T) {
	r := New(4)
	if err := r.TwoEnq("a", 1); err != nil {
		t.Fatal(err)
	}
	p, aux, err := r.TwoDeq()
	if err != nil || p != "a" || aux != 1 {
		t.Fatalf("got %v %v %v", p, aux, err)
	}
}

func TestDrateNonNegative(t *testing.T) {
	r := New(8)
	for i := 0; i < 5; i++ {
		r.Enq(i)
		r.Deq()
	}
	if r.Drate() < 0 {
		t.Fatalf("drate should never be negative, got %f", r.Drate())
	}
}

func TestLen(t *testing.T) {
	r := New(4)
	r.Enq(1)
	r.Enq(2)
	if r.Len() != 2 {
		t.Fatalf("expected len 2, got %d", r.Len())
	}
	r.Deq()
	if r.Len() != 1 {
		t.Fatalf("expected len 1, got %d", r.Len())
	}
}
