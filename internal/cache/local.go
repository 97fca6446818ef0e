package cache

import (
	"strings"

	"github.com/puzpuzpuz/xsync/v3"
)

// Local is the in-process L1 tier. Entries never expire; they leave only
// through explicit deletes and prefix invalidation.
type Local struct {
	m *xsync.MapOf[string, Entry]
}

func NewLocal() *Local {
	return &Local{m: xsync.NewMapOf[string, Entry]()}
}

func (l *Local) Get(key string) (Entry, bool) {
	return l.m.Load(key)
}

func (l *Local) Put(key string, e Entry) {
	l.m.Store(key, e)
}

func (l *Local) Delete(keys ...string) int {
	n := 0
	for _, k := range keys {
		if _, ok := l.m.LoadAndDelete(k); ok {
			n++
		}
	}
	return n
}

func (l *Local) DeleteByPrefix(prefix string) int {
	var keys []string
	l.m.Range(func(k string, _ Entry) bool {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
		return true
	})
	return l.Delete(keys...)
}

func (l *Local) Len() int {
	return l.m.Size()
}
