package broker

import (
	"context"
	"sync"
)

// Memory is an in-process Client used by tests that need the store/bus
// logic exercised without a live Redis.
type Memory struct {
	mu    sync.Mutex
	hash  map[string]map[string]string
	kv    map[string]string
	lists map[string][]string
	subs  map[string][]chan string
}

// NewMemory returns a ready-to-use in-memory broker.
func NewMemory() *Memory {
	return &Memory{
		hash:  make(map[string]map[string]string),
		kv:    make(map[string]string),
		lists: make(map[string][]string),
		subs:  make(map[string][]chan string),
	}
}

func (m *Memory) HSet(_ context.Context, key, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hash[key] == nil {
		m.hash[key] = make(map[string]string)
	}
	m.hash[key][field] = value
	return nil
}

func (m *Memory) HGet(_ context.Context, key, field string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hash[key]
	if !ok {
		return "", false, nil
	}
	v, ok := h[field]
	return v, ok, nil
}

func (m *Memory) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.hash[key]))
	for k, v := range m.hash[key] {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) HDel(_ context.Context, key, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hash[key], field)
	return nil
}

func (m *Memory) HExists(_ context.Context, key, field string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.hash[key][field]
	return ok, nil
}

func (m *Memory) RPush(_ context.Context, key string, value string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append(m.lists[key], value)
	return int64(len(m.lists[key])), nil
}

func (m *Memory) LTrim(_ context.Context, key string, start, stop int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lists[key]
	n := int64(len(l))
	if n == 0 {
		return nil
	}
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop {
		m.lists[key] = nil
		return nil
	}
	m.lists[key] = append([]string(nil), l[start:stop+1]...)
	return nil
}

func (m *Memory) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lists[key]
	n := int64(len(l))
	if n == 0 {
		return nil, nil
	}
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop {
		return nil, nil
	}
	return append([]string(nil), l[start:stop+1]...), nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = value
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.kv[key]
	return v, ok, nil
}

func (m *Memory) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, key)
	delete(m.hash, key)
	delete(m.lists, key)
	return nil
}

func (m *Memory) Expire(_ context.Context, _ string, _ int64) error {
	return nil
}

func (m *Memory) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(0)
	if v, ok := m.kv[key]; ok {
		for _, c := range v {
			n = n*10 + int64(c-'0')
		}
	}
	n++
	m.kv[key] = itoa(n)
	return n, nil
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	buf := [20]byte{}
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func (m *Memory) Publish(_ context.Context, channel string, payload string) error {
	m.mu.Lock()
	subs := append([]chan string(nil), m.subs[channel]...)
	m.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, channel string) (<-chan string, error) {
	ch := make(chan string, 64)
	m.mu.Lock()
	m.subs[channel] = append(m.subs[channel], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subs[channel]
		for i, c := range subs {
			if c == ch {
				m.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func (m *Memory) Close() error { return nil }
