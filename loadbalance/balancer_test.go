package loadbalance

import (
	"errors"
	"sync"
	"testing"

	"userdir/registry"
)

var testInstances = []registry.ServiceInstance{
	{Addr: ":8001"},
	{Addr: ":8002"},
	{Addr: ":8003"},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	for round := 0; round < 2; round++ {
		for i := range testInstances {
			inst, err := b.Pick(testInstances)
			if err != nil {
				t.Fatal(err)
			}
			if inst.Addr != testInstances[i].Addr {
				t.Fatalf("round %d pick %d: expect %s, got %s", round, i, testInstances[i].Addr, inst.Addr)
			}
		}
	}
}

func TestRoundRobinSingleInstance(t *testing.T) {
	b := &RoundRobinBalancer{}
	single := testInstances[:1]
	for i := 0; i < 5; i++ {
		inst, err := b.Pick(single)
		if err != nil {
			t.Fatal(err)
		}
		if inst.Addr != ":8001" {
			t.Fatalf("expect :8001, got %s", inst.Addr)
		}
	}
}

func TestRoundRobinConcurrent(t *testing.T) {
	b := &RoundRobinBalancer{}
	var mu sync.Mutex
	counts := map[string]int{}

	var wg sync.WaitGroup
	for i := 0; i < 300; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inst, err := b.Pick(testInstances)
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			counts[inst.Addr]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, inst := range testInstances {
		if counts[inst.Addr] != 100 {
			t.Fatalf("expect an even spread, got %v", counts)
		}
	}
}

func TestRoundRobinEmpty(t *testing.T) {
	b := &RoundRobinBalancer{}
	if _, err := b.Pick([]registry.ServiceInstance{}); !errors.Is(err, ErrNoInstances) {
		t.Fatalf("expect ErrNoInstances, got %v", err)
	}
}
