package clock

import (
	"testing"
	"time"
)

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	ch := c.After(5 * time.Second)

	select {
	case <-ch:
		t.Fatal("After fired before Advance")
	default:
	}

	c.Advance(3 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before deadline")
	default:
	}

	c.Advance(2 * time.Second)
	select {
	case <-ch:
	default:
		t.Fatal("After did not fire after deadline")
	}
}

func TestFakeTickerFiresAfterPeriods(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	ticker := c.NewTicker(1 * time.Second)
	defer ticker.Stop()

	c.Advance(3500 * time.Millisecond)

	count := 0
loop:
	for {
		select {
		case <-ticker.C():
			count++
		default:
			break loop
		}
	}
	if count == 0 {
		t.Fatal("ticker did not fire after 3.5 periods")
	}
}

func TestFakeTickerStopsFiring(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	ticker := c.NewTicker(1 * time.Second)
	ticker.Stop()

	c.Advance(5 * time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}
