package pipeline

import (
	"net"
	"net/http"
)

// UpgradeFunc receives a raw protocol upgrade: the request, the hijacked
// connection and any bytes already read past the request head.
type UpgradeFunc func(r *http.Request, conn net.Conn, head []byte)

// Multicaster delivers one upgrade event to every subscriber. Its
// subscriber list is fixed at construction.
type Multicaster struct {
	subscribers []UpgradeFunc
}

// NewMulticaster copies subs; nil entries are dropped
func NewMulticaster(subs ...UpgradeFunc) *Multicaster {
	m := &Multicaster{subscribers: make([]UpgradeFunc, 0, len(subs))}
	for _, s := range subs {
		if s != nil {
			m.subscribers = append(m.subscribers, s)
		}
	}
	return m
}

// OnUpgrade calls every subscriber in order with the same arguments. A
// panicking subscriber stops delivery to the rest.
func (m *Multicaster) OnUpgrade(r *http.Request, conn net.Conn, head []byte) {
	for _, s := range m.subscribers {
		s(r, conn, head)
	}
}

// Len returns the number of subscribers
func (m *Multicaster) Len() int {
	return len(m.subscribers)
}
